// Package api provides the HTTP server used by the agent dashboard.
//
// It exposes a health check, the manual send endpoint used when an agent
// replies to a lead, and the Twilio inbound webhook when that transport is used.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"golang.org/x/time/rate"
)

// Defaults for the HTTP server.
const (
	DefaultAddr            = ":3001"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	// DefaultSendRate allows 30 send requests per minute per client IP.
	DefaultSendRate  = rate.Limit(30.0 / 60.0)
	DefaultSendBurst = 10
	// MaxRequestBodyBytes caps JSON request bodies.
	MaxRequestBodyBytes = 64 << 10
)

// DefaultCORSOrigins are the dashboard origins allowed to call the API.
var DefaultCORSOrigins = []string{"http://localhost:5173", "https://agentoptimus.co.za"}

// Opts holds configuration for the API server.
type Opts struct {
	Addr          string
	CORSOrigins   []string
	SendRate      rate.Limit
	SendBurst     int
	TwilioWebhook http.HandlerFunc
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithCORSOrigins replaces the allowed browser origins.
func WithCORSOrigins(origins []string) Option {
	return func(o *Opts) { o.CORSOrigins = origins }
}

// WithSendRateLimit sets the per-IP limit on the send endpoint.
func WithSendRateLimit(r rate.Limit, burst int) Option {
	return func(o *Opts) {
		o.SendRate = r
		o.SendBurst = burst
	}
}

// WithTwilioWebhook mounts the Twilio inbound webhook at /webhooks/twilio.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.TwilioWebhook = h }
}

// Server serves the dashboard API.
type Server struct {
	msgService messaging.Service
	leads      store.LeadStore
	opts       Opts
	limiter    *ipRateLimiter
}

// NewServer creates an API server sending through msgService.
func NewServer(msgService messaging.Service, leads store.LeadStore, opts ...Option) *Server {
	cfg := Opts{
		Addr:        DefaultAddr,
		CORSOrigins: DefaultCORSOrigins,
		SendRate:    DefaultSendRate,
		SendBurst:   DefaultSendBurst,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		msgService: msgService,
		leads:      leads,
		opts:       cfg,
		limiter:    newIPRateLimiter(cfg.SendRate, cfg.SendBurst),
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.healthHandler)
	mux.Handle("/api/sendMessage", s.limiter.middleware(http.HandlerFunc(s.sendMessageHandler)))
	if s.opts.TwilioWebhook != nil {
		mux.HandleFunc("/webhooks/twilio", s.opts.TwilioWebhook)
	}
	return corsMiddleware(s.opts.CORSOrigins, mux)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		slog.Info("Server.Run: shutting down API server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api server shutdown failed: %w", err)
		}
		return nil
	}
}
