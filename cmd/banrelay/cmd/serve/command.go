// Package serve provides the command that runs the relay: the upstream
// node subscription, the enrichment refresher, the optional broker mirror
// and the downstream subscriber server.
package serve

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/banrelay/internal/appcontext"
	"github.com/agentstation/banrelay/internal/config"
	"github.com/agentstation/banrelay/internal/enrich"
	"github.com/agentstation/banrelay/internal/metrics"
	"github.com/agentstation/banrelay/internal/mirror"
	"github.com/agentstation/banrelay/internal/registry"
	"github.com/agentstation/banrelay/internal/relay"
	"github.com/agentstation/banrelay/internal/server"
	"github.com/agentstation/banrelay/pkg/constants"
)

// NewCommand creates the serve command using app context.
func NewCommand(app appcontext.Interface) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server", "run"},
		Short:   "Relay node confirmations to websocket subscribers",
		Long: `Connect to a Banano node's websocket, subscribe to confirmations and
relay each one to every subscriber whose filter matches, enriched with
Discord identities and account aliases.

Subscribers connect to ws://HOST:PORT/ (or /ws) and may send a filter:

  {"filter": "all", "blocktypes": ["send", "receive"], "accounts": ["ban_1..."]}

Missing keys take their defaults: "discord", ["send"] and all accounts.

Endpoints:
  /         subscriber websocket
  /ws       subscriber websocket
  /health   liveness
  /ready    readiness (503 until the upstream is streaming)
  /metrics  Prometheus metrics (unless --metrics=false)`,
		Example: `  # Relay from a local node on the default port
  banrelay serve

  # Use a remote node and bind publicly
  banrelay serve --node-url wss://node.example.com --host 0.0.0.0 --port 8765

  # Mirror every frame to Kafka
  BANRELAY_KAFKA_BROKERS=localhost:9092 banrelay serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.Config()
			applyFlags(cmd, cfg)
			return run(cmd.Context(), app, cfg)
		},
	}

	defaults := config.Default()
	cmd.Flags().String("host", defaults.Host, "Bind address")
	cmd.Flags().Int("port", defaults.Port, "Server port")
	cmd.Flags().String("node-url", defaults.NodeURL, "Upstream node websocket URL")
	cmd.Flags().Int("queue-size", defaults.QueueSize, "Outbound frames buffered per subscriber")
	cmd.Flags().Int("connect-rate-limit", defaults.ConnectRateLimit, "Websocket upgrades per minute per IP (0 to disable)")
	cmd.Flags().Bool("metrics", defaults.MetricsEnabled, "Enable metrics endpoint")

	return cmd
}

// applyFlags overrides cfg with the flags that were set explicitly, so an
// unset flag does not mask env or file configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = mustGetString(cmd, "host")
	}
	if flags.Changed("port") {
		cfg.Port = mustGetInt(cmd, "port")
	}
	if flags.Changed("node-url") {
		cfg.NodeURL = mustGetString(cmd, "node-url")
	}
	if flags.Changed("queue-size") {
		cfg.QueueSize = mustGetInt(cmd, "queue-size")
	}
	if flags.Changed("connect-rate-limit") {
		cfg.ConnectRateLimit = mustGetInt(cmd, "connect-rate-limit")
	}
	if flags.Changed("metrics") {
		cfg.MetricsEnabled = mustGetBool(cmd, "metrics")
	}
}

// run wires every component and blocks until ctx is canceled or one of
// them fails. Shutdown closes the HTTP server and every subscriber, the
// upstream stream and the mirror sinks.
func run(ctx context.Context, app appcontext.Interface, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := app.Logger()

	enrichment, err := app.Enrichment()
	if err != nil {
		return fmt.Errorf("building enrichment: %w", err)
	}

	reg := registry.New(logger, registry.WithSizeObserver(func(n int) {
		metrics.Subscribers.Set(float64(n))
	}))

	// Bind before starting anything so an occupied port fails fast.
	sc := serverConfig(cfg)
	listener, err := net.Listen("tcp", sc.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", sc.Addr(), err)
	}

	broker, err := newBroker(cfg, logger)
	if err != nil {
		_ = listener.Close()
		return err
	}

	engineOpts := []relay.Option{
		relay.WithReconnectDelay(cfg.ReconnectDelay, cfg.ReconnectMaxDelay),
		relay.WithLogger(logger),
	}
	if broker != nil {
		engineOpts = append(engineOpts, relay.WithMirror(broker))
	}
	engine := relay.NewEngine(relay.NewWebsocketSource(cfg.NodeURL), reg, enrichment.Enricher, engineOpts...)

	refresher := enrich.NewRefresher(cfg.RefreshInterval, logger,
		enrichment.Enricher.Identities(),
		enrichment.Enricher.Aliases(),
	)

	srv := server.New(sc, reg, engine, enrichment.Enricher, logger, app.Version())

	logger.Info().
		Str("addr", listener.Addr().String()).
		Str("node_url", cfg.NodeURL).
		Str("cache_store", cfg.CacheStore).
		Int("mirror_sinks", sinkCount(broker)).
		Msg("Starting relay")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return refresher.Run(ctx) })
	if broker != nil {
		g.Go(func() error { return broker.Run(ctx) })
	}
	g.Go(func() error { return srv.Serve(listener) })
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("Shutdown signal received")

		// The parent context is already canceled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("Relay stopped gracefully")
	return nil
}

// serverConfig maps application settings onto the server's configuration.
func serverConfig(cfg *config.Config) server.Config {
	sc := server.DefaultConfig()
	sc.Host = cfg.Host
	sc.Port = cfg.Port
	sc.QueueSize = cfg.QueueSize
	sc.ConnectRateLimit = cfg.ConnectRateLimit
	sc.MetricsEnabled = cfg.MetricsEnabled
	return sc
}

// newBroker returns a mirror broker over the configured sinks, or nil when
// no sink is configured.
func newBroker(cfg *config.Config, logger *zerolog.Logger) (*mirror.Broker, error) {
	var sinks []mirror.Sink

	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, mirror.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic))
	}
	if cfg.NATSURL != "" {
		sink, err := mirror.NewNATSSink(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	if len(sinks) == 0 {
		return nil, nil
	}
	return mirror.NewBroker(logger, constants.MirrorQueueSize, sinks...), nil
}

func sinkCount(b *mirror.Broker) int {
	if b == nil {
		return 0
	}
	return b.Sinks()
}

// mustGetInt retrieves an integer flag value or panics if the flag doesn't exist.
// This should only be used for flags defined in this package.
func mustGetInt(cmd *cobra.Command, name string) int {
	val, err := cmd.Flags().GetInt(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

// mustGetString retrieves a string flag value or panics if the flag doesn't exist.
// This should only be used for flags defined in this package.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

// mustGetBool retrieves a boolean flag value or panics if the flag doesn't exist.
// This should only be used for flags defined in this package.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}
