// Package server binds the HTTP listener for a handler, choosing HTTPS when a
// certificate pair is configured, and drains it on termination signals.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/LabShare/services/internal/config"
	"github.com/LabShare/services/internal/telemetry"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
)

var (
	ErrInvalidHandler = errors.New("server: a handler is required")
	ErrInvalidLogger  = errors.New("server: a logger with info and error levels is required")
)

// Logger is the subset of *zerolog.Logger used by the bootstrap.
type Logger interface {
	Info() *zerolog.Event
	Error() *zerolog.Event
}

type options struct {
	host    string
	signals []os.Signal
	exit    func(code int)
}

// Option configures Start.
type Option func(*options)

// WithHost binds a specific interface instead of all of them.
func WithHost(host string) Option {
	return func(o *options) {
		o.host = host
	}
}

// WithSignals replaces the termination signals, SIGINT and SIGTERM by default.
func WithSignals(signals ...os.Signal) Option {
	return func(o *options) {
		o.signals = signals
	}
}

// WithExit replaces os.Exit as the final step of a signal triggered shutdown.
func WithExit(exit func(code int)) Option {
	return func(o *options) {
		o.exit = exit
	}
}

// Server is a listening HTTP or HTTPS server.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	log        Logger
	protocol   string
	timeout    time.Duration
	exit       func(code int)

	signals   chan os.Signal
	closeOnce sync.Once
	done      chan struct{}
}

// Start binds the listener and serves handler until a termination signal arrives.
//
// The port comes from PORT, then services.listen.port, then 8000. HTTPS is used
// when both services.https.certificate and services.https.privateKey are set,
// and an unreadable pair fails startup rather than falling back to HTTP.
func Start(handler http.Handler, log Logger, cfg *config.Config, opts ...Option) (*Server, error) {
	if handler == nil {
		return nil, ErrInvalidHandler
	}
	if isNilLogger(log) {
		return nil, ErrInvalidLogger
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	o := &options{
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		exit:    os.Exit,
	}
	for _, opt := range opts {
		opt(o)
	}

	port, err := cfg.Port()
	if err != nil {
		return nil, err
	}

	host := o.host
	if host == "" {
		host = cfg.Services.Listen.Host
	}

	httpServer := configureHTTPServer(net.JoinHostPort(host, strconv.Itoa(port)), handler)

	protocol := "http"
	if cfg.TLSEnabled() {
		cert, err := loadKeyPair(cfg.Services.HTTPS.Certificate, cfg.Services.HTTPS.PrivateKey)
		if err != nil {
			return nil, err
		}

		httpServer.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		if err := http2.ConfigureServer(httpServer, &http2.Server{}); err != nil {
			return nil, fmt.Errorf("failed to configure http2: %w", err)
		}
		protocol = "https"
	}

	listener, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		log.Error().Err(err).Str("addr", httpServer.Addr).Msg("failed to bind listener")
		return nil, fmt.Errorf("failed to listen on %s: %w", httpServer.Addr, err)
	}
	if httpServer.TLSConfig != nil {
		listener = tls.NewListener(listener, httpServer.TLSConfig)
	}

	s := &Server{
		httpServer: httpServer,
		listener:   listener,
		log:        log,
		protocol:   protocol,
		timeout:    cfg.Services.ShutdownTimeout,
		exit:       o.exit,
		signals:    make(chan os.Signal, 1),
		done:       make(chan struct{}),
	}

	go s.serve()

	log.Info().Msgf("services listening at %s", s.URL())

	signal.Notify(s.signals, o.signals...)
	go s.waitForSignal()

	return s, nil
}

// configureHTTPServer applies the timeouts every listener uses.
func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}

func loadKeyPair(certPath, keyPath string) (tls.Certificate, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read private key: %w", err)
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read certificate: %w", err)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to load certificate pair: %w", err)
	}

	return cert, nil
}

func isNilLogger(log Logger) bool {
	if log == nil {
		return true
	}
	zl, ok := log.(*zerolog.Logger)
	return ok && zl == nil
}

func (s *Server) serve() {
	err := s.httpServer.Serve(s.listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error().Err(err).Msg("server error")
	}
}

func (s *Server) waitForSignal() {
	select {
	case sig := <-s.signals:
		s.log.Info().Str("signal", sig.String()).Msg("shutting down")
		s.close(context.Background())
		s.exit(0)
	case <-s.done:
	}
}

// close runs the shutdown sequence once. Draining races a timer armed with the
// shutdown timeout; if the timer or ctx wins the remaining connections are closed.
func (s *Server) close(ctx context.Context) {
	s.closeOnce.Do(func() {
		started := time.Now()
		reason := s.drain(ctx)

		metrics := telemetry.GetMetrics()
		metrics.ShutdownsTotal.Add(ctx, 1, telemetry.ReasonAttr(reason))
		metrics.ShutdownDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

		signal.Stop(s.signals)
		close(s.done)
	})
}

func (s *Server) drain(ctx context.Context) string {
	drainCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	drained := make(chan error, 1)
	go func() {
		drained <- s.httpServer.Shutdown(drainCtx)
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case err := <-drained:
		if err != nil {
			s.log.Error().Err(err).Msg("failed to shut down server")
			_ = s.httpServer.Close()
			return telemetry.ShutdownFailed
		}
		return telemetry.ShutdownDrained
	case <-timer.C:
	case <-ctx.Done():
	}

	cancel()
	if err := s.httpServer.Close(); err != nil {
		s.log.Error().Err(err).Msg("failed to close server")
	}
	return telemetry.ShutdownForced
}

// Shutdown stops accepting connections and drains in-flight requests for up
// to the configured shutdown timeout or until ctx is done. It does not exit
// the process and calling it again is a no-op.
func (s *Server) Shutdown(ctx context.Context) error {
	s.close(ctx)
	return nil
}

// Done is closed once the shutdown sequence has completed.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Protocol is "https" when serving TLS and "http" otherwise.
func (s *Server) Protocol() string {
	return s.protocol
}

// URL is the base URL the server is listening at.
func (s *Server) URL() string {
	return fmt.Sprintf("%s://%s", s.protocol, s.listener.Addr().String())
}
