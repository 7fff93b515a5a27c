// Package gateway orchestrates the wecom-gateway server.
//
// # Overview
//
// The Gateway wires together every component of the service and owns
// their lifecycles:
//
//   - the wxcrypt codec built from the webhook credentials
//   - the stream registry and its expiry sweeper
//   - the heartbeat scheduler for slow replies
//   - the per-conversation queue
//   - the message dedupe cache
//   - the OpenAI dispatcher
//   - the HTTP server carrying the callback endpoint and health checks
//
// # Lifecycle
//
// Construction validates configuration and wires components without
// starting anything. Run binds the listener, serves until the context is
// canceled or the server fails, then performs a bounded graceful
// shutdown.
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := gw.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Endpoints
//
//   - GET/POST on the configured webhook path: the platform callback
//   - GET /health: liveness
//   - GET /health/ready: readiness with live stream count
//
// Background goroutines (sweeper, dedupe cleanup, heartbeats) start
// lazily on first use and are stopped by Shutdown.
package gateway
