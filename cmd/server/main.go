package main

import (
	"context"

	"github.com/LabShare/services/cmd/server/internal/commands"
	"github.com/alecthomas/kong"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool `help:"Enable debug mode." env:"SERVICES_DEBUG"`
		Version kong.VersionFlag
		Serve   commands.ServerCmd `cmd:"" help:"Start the HTTP(S) server with session and auth-token middleware"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("server"),
		kong.Description("LabShare services HTTP server."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
