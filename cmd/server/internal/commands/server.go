package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/LabShare/services/internal/auth"
	"github.com/LabShare/services/internal/client"
	"github.com/LabShare/services/internal/config"
	"github.com/LabShare/services/internal/logger"
	"github.com/LabShare/services/internal/server"
	"github.com/LabShare/services/internal/session"
	"github.com/LabShare/services/internal/telemetry"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

type ServerCmd struct {
	// Listener configuration, flags override the configuration file
	Config           string        `help:"path to YAML configuration file" type:"path" env:"SERVICES_CONFIG"`
	Port             string        `help:"listen port, overrides services.listen.port" env:"PORT"`
	Host             string        `help:"listen host, all interfaces when empty" env:"SERVICES_HOST"`
	HTTPSCertificate string        `name:"https-certificate" help:"path to TLS certificate, overrides services.https.certificate" env:"SERVICES_HTTPS_CERTIFICATE"`
	HTTPSPrivateKey  string        `name:"https-private-key" help:"path to TLS private key, overrides services.https.privateKey" env:"SERVICES_HTTPS_PRIVATE_KEY"`
	ShutdownTimeout  time.Duration `help:"grace period for draining connections, overrides services.shutdownTimeout" env:"SERVICES_SHUTDOWN_TIMEOUT"`

	// Auth token lookup configuration
	AuthURL       string        `help:"auth service endpoint returning the user for a bearer token" env:"SERVICES_AUTH_URL"`
	JWTSecret     string        `name:"jwt-secret" help:"HS256 secret for verifying auth tokens locally" env:"SERVICES_JWT_SECRET"`
	JWKSURL       string        `name:"jwks-url" help:"JWKS URL for verifying ES256 auth tokens locally" env:"SERVICES_JWKS_URL"`
	JWTIssuer     string        `name:"jwt-issuer" help:"required issuer of locally verified tokens" env:"SERVICES_JWT_ISSUER"`
	JWTAudience   string        `name:"jwt-audience" help:"required audience of locally verified tokens" env:"SERVICES_JWT_AUDIENCE"`
	CacheDir      string        `help:"directory for caching JWKS responses, in memory when empty" env:"SERVICES_CACHE_DIR"`
	LookupTimeout time.Duration `help:"timeout for auth service and JWKS requests" default:"10s" env:"SERVICES_LOOKUP_TIMEOUT"`

	// Session configuration
	SessionStore  string             `help:"session store type" default:"memory" env:"SERVICES_SESSION_STORE" enum:"memory,postgres,redis"`
	SessionTTL    time.Duration      `help:"session TTL" default:"24h" env:"SERVICES_SESSION_TTL"`
	SessionSweep  time.Duration      `help:"interval for deleting expired sessions" default:"10m" env:"SERVICES_SESSION_SWEEP"`
	SecureCookies bool               `help:"mark session cookies Secure, implied when serving HTTPS" env:"SERVICES_SECURE_COOKIES"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
	RedisStore    RedisStoreFlags    `embed:"" prefix:"redis-"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"https://localhost" env:"SERVICES_CORS_ORIGINS"`

	// Observability
	Tracing bool `help:"enable OTLP tracing" default:"false" env:"SERVICES_TRACING"`
	Metrics bool `help:"enable OTLP metrics export" default:"false" env:"SERVICES_METRICS"`
}

func (c *ServerCmd) Run(ctx context.Context, globals *Globals) error {
	dev := globals.Debug || config.IsDevMode(os.Getenv)
	log := logger.Setup(dev)
	zlog.Logger = log
	zerolog.DefaultContextLogger = &log

	log.Info().Str("version", globals.Version).Bool("dev", dev).Msg("Starting server")

	if c.Tracing || c.Metrics {
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "labshare-services",
			Version:     globals.Version,
			Traces:      c.Tracing,
			Metrics:     c.Metrics,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("Failed to shutdown telemetry")
				}
			}()
		}
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	lookup, err := c.newLookup()
	if err != nil {
		return err
	}

	sessions, closeStore, err := c.newSessionStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	sweeperDone := session.StartSweeper(sweepCtx, sessions, c.SessionSweep)
	defer func() {
		stopSweeper()
		<-sweeperDone
	}()

	handler := newHandler(log, handlerConfig{
		Sessions:      sessions,
		Lookup:        lookup,
		SessionTTL:    c.SessionTTL,
		SecureCookies: c.SecureCookies || cfg.TLSEnabled(),
		CORSOrigins:   c.CORSOrigins,
		Tracing:       c.Tracing,
	})

	// exit is left to main so deferred cleanup runs after the drain
	srv, err := server.Start(handler, &log, cfg, server.WithHost(c.Host), server.WithExit(func(int) {}))
	if err != nil {
		return err
	}

	<-srv.Done()
	log.Info().Msg("Server stopped")
	return nil
}

func (c *ServerCmd) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}

	cfg.EnvPort = c.Port
	if c.HTTPSCertificate != "" {
		cfg.Services.HTTPS.Certificate = c.HTTPSCertificate
	}
	if c.HTTPSPrivateKey != "" {
		cfg.Services.HTTPS.PrivateKey = c.HTTPSPrivateKey
	}
	if c.ShutdownTimeout > 0 {
		cfg.Services.ShutdownTimeout = c.ShutdownTimeout
	}

	return cfg, nil
}

// newLookup prefers local JWT verification when a key is configured and the
// auth service otherwise.
func (c *ServerCmd) newLookup() (auth.Lookup, error) {
	if c.JWTSecret != "" || c.JWKSURL != "" {
		jwtCfg := auth.JWTLookupConfig{
			Issuer:   c.JWTIssuer,
			Audience: c.JWTAudience,
		}
		if c.JWTSecret != "" {
			if len(c.JWTSecret) < 32 {
				return nil, errors.New("JWT secret must be at least 32 bytes (256 bits) for HMAC-SHA256")
			}
			jwtCfg.Secret = []byte(c.JWTSecret)
		}
		if c.JWKSURL != "" {
			jwtCfg.KeySet = auth.NewKeySet(c.JWKSURL, client.NewCachingHTTPClient(c.CacheDir, c.LookupTimeout))
		}

		lookup, err := auth.NewJWTLookup(jwtCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create JWT lookup: %w", err)
		}
		zlog.Info().Bool("jwks", c.JWKSURL != "").Msg("Using local JWT verification for auth tokens")
		return lookup, nil
	}

	if c.AuthURL == "" {
		return nil, errors.New("an auth service URL (--auth-url or SERVICES_AUTH_URL) or a JWT key (--jwt-secret, --jwks-url) is required")
	}

	zlog.Info().Str("auth_url", c.AuthURL).Msg("Using auth service for auth tokens")
	return auth.NewRemoteLookup(c.AuthURL, client.NewHTTPClient(c.LookupTimeout)), nil
}
