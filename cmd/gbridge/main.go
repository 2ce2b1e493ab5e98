// Command gbridge is the genome tool broker: an MCP stdio server on one
// side, an HTTP/WebSocket surface for interactive genome-browser clients on
// the other. stdout is reserved for JSON-RPC frames; all logging goes to
// stderr.
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/genomebridge/genome-bridge/internal/bridge"
	"github.com/genomebridge/genome-bridge/internal/config"
	"github.com/genomebridge/genome-bridge/internal/dispatch"
	"github.com/genomebridge/genome-bridge/internal/gateway"
	"github.com/genomebridge/genome-bridge/internal/handler"
	"github.com/genomebridge/genome-bridge/internal/mcpserver"
	"github.com/genomebridge/genome-bridge/internal/selector"
	"github.com/genomebridge/genome-bridge/internal/task"
	"github.com/genomebridge/genome-bridge/internal/telemetry"
	"github.com/genomebridge/genome-bridge/internal/tool"
)

// Exit codes: 0 normal, 1 fatal startup, 2 protocol misuse on stdin.
const (
	exitFatalStartup  = 1
	exitProtocolError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	config.LoadEnv()
	opts := config.Load()
	if level, err := zerolog.ParseLevel(opts.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, opts)
	if err != nil {
		log.Error().Err(err).Msg("telemetry init failed")
		return exitFatalStartup
	}
	defer shutdownTracing(context.Background())

	reg, err := tool.Load()
	if err != nil {
		log.Error().Err(err).Msg("tool catalogue failed to load")
		return exitFatalStartup
	}
	table := handler.Table()
	if err := handler.Verify(reg, table); err != nil {
		log.Error().Err(err).Msg("handler table does not match catalogue")
		return exitFatalStartup
	}
	log.Info().Int("tools", reg.Len()).Msg("catalogue loaded")

	httpClient := handler.NewClient(opts.UpstreamTimeout)
	if opts.NCBIAPIKey == "" {
		// Entrez allows 3 req/s without a key.
		httpClient.SetHostRate("eutils.ncbi.nlm.nih.gov", 3)
	}

	b := bridge.New()
	tasks := task.New(opts)
	sel := selector.New(reg)
	disp := dispatch.New(opts, reg, table, httpClient, b, tasks, sel)
	mcpSrv := mcpserver.New(disp)

	// Task lifecycle events fan out to both downstream clients and MCP hosts.
	tasks.SetEventSink(func(event string, payload map[string]any) {
		b.Broadcast(event, payload)
		mcpSrv.NotifyTaskEvent(event, payload)
	})

	gw := gateway.New(opts, disp, b)
	gwErrs := gw.Start()
	go func() {
		if err := <-gwErrs; err != nil {
			log.Error().Err(err).Msg("gateway listener failed")
		}
	}()

	serveErr := mcpSrv.Serve()

	log.Info().Msg("stdin closed, shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	tasks.Shutdown(shutdownCtx)
	gw.Shutdown(shutdownCtx)

	if serveErr != nil && !errors.Is(serveErr, io.EOF) && !errors.Is(serveErr, context.Canceled) {
		log.Error().Err(serveErr).Msg("stdio transport error")
		return exitProtocolError
	}
	return 0
}
