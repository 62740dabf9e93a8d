package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/agentmesh/agentmesh/config"
)

// Server owns the HTTP listener of one agent endpoint. It resolves its bind
// address and TLS material from config.Config at construction, serves the
// given handler, and reports listener failures on the channel returned by
// Start.
type Server struct {
	logger *zap.Logger
	inner  *http.Server
	tls    *tlsMaterial
}

// tlsMaterial is the resolved TLS decision: nil means plain HTTP, an acme
// manager means certificates on demand, otherwise a cert/key file pair.
type tlsMaterial struct {
	acme     *autocert.Manager
	certFile string
	keyFile  string
}

// NewServer builds the server from configuration. Construction fails on
// incomplete TLS settings; nothing is bound until Start.
func NewServer(ctx context.Context, logger *zap.Logger, cfg config.Config, handler http.Handler) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	addr, err := cfg.ListenAddr()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve listen address: %w", err)
	}
	tls, err := resolveTLS(cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		logger: logger.Named("http-server"),
		tls:    tls,
		inner: &http.Server{
			Addr:        addr,
			Handler:     handler,
			ReadTimeout: 30 * time.Second,
			// No write timeout: SSE streams stay open indefinitely.
			IdleTimeout: 90 * time.Second,
			BaseContext: func(net.Listener) context.Context { return ctx },
		},
	}
	if tls != nil && tls.acme != nil {
		s.inner.TLSConfig = tls.acme.TLSConfig()
	}
	return s, nil
}

// resolveTLS reads the SSL section of the configuration into a tlsMaterial,
// or nil when TLS is disabled.
func resolveTLS(cfg config.Config) (*tlsMaterial, error) {
	enabled, err := cfg.SSLEnabled()
	if err != nil || !enabled {
		return nil, nil
	}
	mode, _ := cfg.SSLMode()
	if mode == "acme" {
		manager, err := acmeManager(cfg)
		if err != nil {
			return nil, err
		}
		return &tlsMaterial{acme: manager}, nil
	}

	certFile, err := cfg.SSLCertFile()
	if err != nil || certFile == "" {
		return nil, fmt.Errorf("manual TLS needs ssl.cert_file: %w", err)
	}
	keyFile, err := cfg.SSLKeyFile()
	if err != nil || keyFile == "" {
		return nil, fmt.Errorf("manual TLS needs ssl.key_file: %w", err)
	}
	return &tlsMaterial{certFile: certFile, keyFile: keyFile}, nil
}

// acmeManager assembles the autocert manager from the config's acme settings.
func acmeManager(cfg config.Config) (*autocert.Manager, error) {
	domains, err := cfg.SSLAcmeDomains()
	if err != nil || len(domains) == 0 {
		return nil, fmt.Errorf("acme TLS needs at least one domain in ssl.acme_domains: %w", err)
	}
	email, _ := cfg.SSLAcmeEmail()
	cacheDir, err := cfg.SSLAcmeCacheDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve acme cache directory: %w", err)
	}
	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create acme cache directory %q: %w", cacheDir, err)
	}
	return &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Email:      email,
		Cache:      autocert.DirCache(cacheDir),
	}, nil
}

// Start binds the listener and serves in the background. The returned
// channel delivers at most one listener error and closes when serving ends;
// a graceful Shutdown produces no error.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)

	if s.tls != nil && s.tls.acme != nil {
		go s.serveACMEChallenges()
	}

	go func() {
		defer close(errCh)
		err := s.listen()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Listener failed", zap.Error(err))
			errCh <- err
			return
		}
		s.logger.Info("Listener closed")
	}()
	return errCh
}

func (s *Server) listen() error {
	switch {
	case s.tls == nil:
		s.logger.Info("Serving HTTP", zap.String("addr", s.inner.Addr))
		return s.inner.ListenAndServe()
	case s.tls.acme != nil:
		s.logger.Info("Serving HTTPS with acme certificates", zap.String("addr", s.inner.Addr))
		return s.inner.ListenAndServeTLS("", "")
	default:
		s.logger.Info("Serving HTTPS",
			zap.String("addr", s.inner.Addr),
			zap.String("certFile", s.tls.certFile))
		return s.inner.ListenAndServeTLS(s.tls.certFile, s.tls.keyFile)
	}
}

// serveACMEChallenges answers HTTP-01 challenges on port 80 for the lifetime
// of the process.
func (s *Server) serveACMEChallenges() {
	challenge := &http.Server{Addr: ":80", Handler: s.tls.acme.HTTPHandler(nil)}
	s.logger.Info("Answering acme challenges", zap.String("addr", challenge.Addr))
	if err := challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Acme challenge listener failed", zap.Error(err))
	}
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("Draining connections")
	if err := s.inner.Shutdown(ctx); err != nil {
		s.logger.Error("Shutdown incomplete", zap.Error(err))
	}
}
