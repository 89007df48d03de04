package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/LabShare/services/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// syncBuffer guards log output written from server goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("ok"))
})

func newTestLogger() (*zerolog.Logger, *syncBuffer) {
	out := &syncBuffer{}
	logger := zerolog.New(out)
	return &logger, out
}

// ephemeralConfig binds an OS assigned port through the PORT override.
func ephemeralConfig() *config.Config {
	return &config.Config{EnvPort: "0"}
}

func startTestServer(t *testing.T, cfg *config.Config, opts ...Option) (*Server, *syncBuffer, chan int) {
	t.Helper()

	logger, out := newTestLogger()
	exits := make(chan int, 1)

	opts = append([]Option{
		WithHost("127.0.0.1"),
		WithSignals(syscall.SIGUSR1),
		WithExit(func(code int) { exits <- code }),
	}, opts...)

	s, err := Start(okHandler, logger, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	return s, out, exits
}

func writeKeyPair(t *testing.T) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0o600))

	return certPath, keyPath
}

func get(t *testing.T, client *http.Client, url string) *http.Response {
	t.Helper()

	resp, err := client.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestStart_invalidArguments(t *testing.T) {
	logger, _ := newTestLogger()
	var nilLogger *zerolog.Logger

	tests := []struct {
		name     string
		handler  http.Handler
		log      Logger
		expected error
	}{
		{name: "nil handler", handler: nil, log: logger, expected: ErrInvalidHandler},
		{name: "nil logger", handler: okHandler, log: nil, expected: ErrInvalidLogger},
		{name: "typed nil logger", handler: okHandler, log: nilLogger, expected: ErrInvalidLogger},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Start(tt.handler, tt.log, ephemeralConfig())
			require.ErrorIs(t, err, tt.expected)
			require.Nil(t, s)
		})
	}
}

func TestStart_plaintext(t *testing.T) {
	s, out, _ := startTestServer(t, ephemeralConfig())

	require.Equal(t, "http", s.Protocol())
	require.NotZero(t, s.Port())

	resp := get(t, http.DefaultClient, s.URL())
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
	require.Nil(t, resp.TLS)

	require.Contains(t, out.String(), "services listening at http://127.0.0.1:"+strconv.Itoa(s.Port()))
}

func TestStart_tls(t *testing.T) {
	certPath, keyPath := writeKeyPair(t)

	cfg := ephemeralConfig()
	cfg.Services.HTTPS = config.HTTPS{Certificate: certPath, PrivateKey: keyPath}

	s, out, _ := startTestServer(t, cfg)
	require.Equal(t, "https", s.Protocol())
	require.Contains(t, out.String(), "services listening at https://127.0.0.1:")

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed test certificate
		ForceAttemptHTTP2: true,
	}}

	resp := get(t, client, s.URL())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, resp.TLS)
	require.Equal(t, 2, resp.ProtoMajor)
}

func TestStart_tlsRequiresBothFiles(t *testing.T) {
	certPath, _ := writeKeyPair(t)

	cfg := ephemeralConfig()
	cfg.Services.HTTPS.Certificate = certPath

	s, _, _ := startTestServer(t, cfg)
	require.Equal(t, "http", s.Protocol())
}

func TestStart_tlsFileErrors(t *testing.T) {
	certPath, keyPath := writeKeyPair(t)
	otherCert, _ := writeKeyPair(t)
	missing := filepath.Join(t.TempDir(), "missing.pem")

	tests := []struct {
		name  string
		https config.HTTPS
		isErr error
	}{
		{name: "missing key", https: config.HTTPS{Certificate: certPath, PrivateKey: missing}, isErr: os.ErrNotExist},
		{name: "missing certificate", https: config.HTTPS{Certificate: missing, PrivateKey: keyPath}, isErr: os.ErrNotExist},
		{name: "mismatched pair", https: config.HTTPS{Certificate: otherCert, PrivateKey: keyPath}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := newTestLogger()
			cfg := ephemeralConfig()
			cfg.Services.HTTPS = tt.https

			s, err := Start(okHandler, logger, cfg, WithHost("127.0.0.1"))
			require.Error(t, err)
			require.Nil(t, s)
			if tt.isErr != nil {
				require.ErrorIs(t, err, tt.isErr)
			}
		})
	}
}

func TestStart_envPortOverridesConfig(t *testing.T) {
	// a privileged port that would fail to bind if it were used
	cfg := &config.Config{EnvPort: "0"}
	cfg.Services.Listen.Port = 1

	s, _, _ := startTestServer(t, cfg)
	require.NotEqual(t, 1, s.Port())
}

func TestStart_configPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := &config.Config{}
	cfg.Services.Listen.Port = port

	s, _, _ := startTestServer(t, cfg)
	require.Equal(t, port, s.Port())
}

func TestStart_bindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	cfg := &config.Config{EnvPort: strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)}
	logger, out := newTestLogger()

	s, err := Start(okHandler, logger, cfg, WithHost("127.0.0.1"))
	require.Error(t, err)
	require.Nil(t, s)
	require.Contains(t, out.String(), "failed to bind listener")
}

func TestStart_invalidPort(t *testing.T) {
	logger, _ := newTestLogger()

	_, err := Start(okHandler, logger, &config.Config{EnvPort: "http"})
	require.ErrorIs(t, err, config.ErrInvalidPort)
}

func TestSignalShutdown(t *testing.T) {
	cfg := ephemeralConfig()
	cfg.Services.ShutdownTimeout = 5 * time.Second

	s, out, exits := startTestServer(t, cfg)
	addr := s.Addr().String()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case code := <-exits:
		require.Zero(t, code)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not exit after signal")
	}

	<-s.Done()
	require.Contains(t, out.String(), "shutting down")

	_, err := net.DialTimeout("tcp", addr, time.Second)
	require.Error(t, err)
}

func TestShutdown_drainsInFlightRequests(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		_, _ = w.Write([]byte("done"))
	})

	logger, _ := newTestLogger()
	cfg := ephemeralConfig()
	cfg.Services.ShutdownTimeout = 5 * time.Second

	s, err := Start(slow, logger, cfg, WithHost("127.0.0.1"), WithSignals(syscall.SIGUSR1), WithExit(func(int) {}))
	require.NoError(t, err)

	type result struct {
		body string
		err  error
	}
	results := make(chan result, 1)
	go func() {
		resp, err := http.Get(s.URL())
		if err != nil {
			results <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		results <- result{body: string(body), err: err}
	}()

	<-started
	shutdownDone := make(chan struct{})
	go func() {
		_ = s.Shutdown(context.Background())
		close(shutdownDone)
	}()

	// the drain waits for the in-flight request
	select {
	case <-shutdownDone:
		t.Fatal("shutdown finished before the request completed")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	res := <-results
	require.NoError(t, res.err)
	require.Equal(t, "done", res.body)

	<-shutdownDone
	<-s.Done()
}

func TestShutdown_forcedAfterTimeout(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	stuck := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	})

	logger, _ := newTestLogger()
	cfg := ephemeralConfig()
	cfg.Services.ShutdownTimeout = 50 * time.Millisecond

	s, err := Start(stuck, logger, cfg, WithHost("127.0.0.1"), WithSignals(syscall.SIGUSR1), WithExit(func(int) {}))
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		resp, err := http.Get(s.URL())
		if err == nil {
			_ = resp.Body.Close()
		}
		errs <- err
	}()

	<-started
	begin := time.Now()
	require.NoError(t, s.Shutdown(context.Background()))
	require.Less(t, time.Since(begin), 2*time.Second)

	// the stuck connection was closed underneath the client
	require.Error(t, <-errs)
}

func TestShutdown_idempotent(t *testing.T) {
	s, _, exits := startTestServer(t, ephemeralConfig())

	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()))
	<-s.Done()

	// manual shutdown leaves exiting to the caller
	select {
	case <-exits:
		t.Fatal("exit called by manual shutdown")
	default:
	}
}
