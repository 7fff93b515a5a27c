// ABOUTME: Gateway orchestrator that wires the callback handler and its collaborators
// ABOUTME: Manages the HTTP server, background components, and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/wecom-gateway/internal/config"
	"github.com/2389/wecom-gateway/internal/convqueue"
	"github.com/2389/wecom-gateway/internal/dedupe"
	"github.com/2389/wecom-gateway/internal/dispatch"
	"github.com/2389/wecom-gateway/internal/heartbeat"
	"github.com/2389/wecom-gateway/internal/media"
	"github.com/2389/wecom-gateway/internal/stream"
	"github.com/2389/wecom-gateway/internal/webhook"
	"github.com/2389/wecom-gateway/internal/wxcrypt"
)

// Gateway orchestrates the wecom-gateway server components. It owns the
// HTTP server that receives platform callbacks and the background
// components (stream registry, heartbeats, dedupe cache) that outlive any
// single request.
type Gateway struct {
	config     *config.Config
	httpServer *http.Server
	logger     *slog.Logger

	// serverID identifies this gateway instance
	serverID string

	streams    *stream.Registry
	heartbeats *heartbeat.Scheduler
	queue      *convqueue.Queue
	dedupe     *dedupe.Cache
	handler    *webhook.Handler
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	codec, err := wxcrypt.New(cfg.Webhook.Token, cfg.Webhook.EncodingAESKey)
	if err != nil {
		return nil, fmt.Errorf("creating webhook codec: %w", err)
	}

	fetcher := media.NewFetcher(logger)
	streams := stream.NewRegistry(fetcher, stream.Config{
		Expiry: cfg.Stream.Expiry,
	}, logger)
	beats := heartbeat.New(streams, heartbeat.Config{
		Tick:     cfg.Heartbeat.Tick,
		Deadline: cfg.Heartbeat.Deadline,
	}, logger)
	queue := convqueue.New(convqueue.Config{
		MaxBacklog:  cfg.Queue.MaxBacklog,
		IdleReclaim: cfg.Queue.IdleReclaim,
	}, logger)
	dedupeCache := dedupe.New(5*time.Minute, 100_000) // TTL 5min, max 100k entries

	dispatcher, err := dispatch.NewOpenAI(dispatch.Config{
		APIKey:       cfg.AI.APIKey,
		BaseURL:      cfg.AI.BaseURL,
		Model:        cfg.AI.Model,
		SystemPrompt: cfg.AI.SystemPrompt,
	}, streams, logger)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	handler, err := webhook.NewHandler(webhook.Deps{
		Codec:      codec,
		Streams:    streams,
		Heartbeats: beats,
		Queue:      queue,
		Dedupe:     dedupeCache,
		Dispatcher: dispatcher,
	}, webhook.Config{
		Path:        cfg.Webhook.Path,
		DeleteGrace: cfg.Stream.DeleteGrace,
		WelcomeText: cfg.Webhook.WelcomeText,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating webhook handler: %w", err)
	}

	gw := &Gateway{
		config:     cfg,
		logger:     logger.With("component", "gateway"),
		serverID:   generateServerID(),
		streams:    streams,
		heartbeats: beats,
		queue:      queue,
		dedupe:     dedupeCache,
		handler:    handler,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)
	handler.RegisterRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"webhook_path", g.handler.Path(),
		"server_id", g.serverID,
	)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases background
// components. In-flight streams are abandoned; the platform retries any
// callbacks it could not deliver.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	err := g.httpServer.Shutdown(ctx)

	g.heartbeats.Clear()
	g.streams.Close()
	g.dedupe.Close()

	if err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports readiness with the number of live reply streams.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d streams)", g.streams.Len())
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("wecom-gateway-%d", time.Now().UnixNano()%1000000)
}
