package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pulsestream/pulsestream/internal/alerting"
	"github.com/pulsestream/pulsestream/internal/api"
	"github.com/pulsestream/pulsestream/internal/ingest"
	"github.com/pulsestream/pulsestream/internal/metrics"
	"github.com/pulsestream/pulsestream/internal/notifier"
	"github.com/pulsestream/pulsestream/internal/queue"
	"github.com/pulsestream/pulsestream/internal/ratelimit"
	"github.com/pulsestream/pulsestream/internal/storage"
	"github.com/pulsestream/pulsestream/pkg/config"
)

var (
	configFile string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "pulsestream-server",
	Short: "PulseStream Server - Event ingestion and alerting",
	Long: `PulseStream Server ingests application events from tenant services,
evaluates alert rules against them, and dispatches notifications
when rule conditions are met.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pulsestream-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	var cfg *Config

	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	// Override with CLI flags
	if httpAddr != "" {
		cfg.Server.Address = httpAddr
	}
	cfg.Verbose = verbose

	jwtSecret := os.Getenv("PULSESTREAM_JWT_SECRET")
	if jwtSecret == "" {
		return fmt.Errorf("PULSESTREAM_JWT_SECRET environment variable is required")
	}

	// Auto-create data directory
	dbDir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	// Control-plane storage
	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	log.Printf("database initialized at %s", cfg.Database.Path)

	for _, t := range cfg.Tenants {
		if err := store.EnsureTenant(t.ID, t.Name, t.RateLimitPerMinute); err != nil {
			return fmt.Errorf("seed tenant %s: %w", t.ID, err)
		}
	}

	// Event storage: ClickHouse when enabled, otherwise SQLite
	eventRepo := store.Events()
	if cfg.ClickHouse.Enabled {
		ch := storage.NewClickHouseStorage(&storage.ClickHouseConfig{
			Addresses:     cfg.ClickHouse.Addresses,
			Database:      cfg.ClickHouse.Database,
			Username:      cfg.ClickHouse.Username,
			Password:      cfg.ClickHouse.Password,
			RetentionDays: cfg.ClickHouse.RetentionDays,
		})
		if err := ch.Open(); err != nil {
			return fmt.Errorf("open clickhouse: %w", err)
		}
		defer ch.Close()
		if err := ch.Migrate(); err != nil {
			return fmt.Errorf("migrate clickhouse: %w", err)
		}
		eventRepo = ch.Events()
		log.Printf("event storage: clickhouse at %v", cfg.ClickHouse.Addresses)
	} else {
		log.Printf("event storage: sqlite")
	}

	// Downstream processing queue
	var publisher queue.Publisher
	if cfg.Queue.KafkaEnabled {
		kp := queue.NewKafkaPublisher(queue.KafkaConfig{
			Brokers: cfg.Queue.Brokers,
			Topic:   cfg.Queue.Topic,
		})
		defer kp.Close()
		publisher = kp
		log.Printf("queue: kafka topic %s on %v", cfg.Queue.Topic, cfg.Queue.Brokers)
	} else {
		publisher = queue.NewMemoryPublisher()
		log.Printf("queue: in-process")
	}

	limiter := ratelimit.New(ratelimit.NewMemoryStore(), time.Minute)
	ingestor := ingest.NewIngestor(eventRepo, limiter, publisher)

	dispatcher, err := buildDispatcher(cfg)
	if err != nil {
		return fmt.Errorf("configure notifications: %w", err)
	}
	defer dispatcher.Close()

	apiServer, err := api.New(&api.Config{
		Address:        cfg.Server.Address,
		JWTSecret:      []byte(jwtSecret),
		AccessTokenTTL: duration(cfg.Server.AccessTokenTTL),
		QueryTimeout:   duration(cfg.Server.QueryTimeout),
		Verbose:        cfg.Verbose,
	}, store, eventRepo, ingestor)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	// Signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	log.Printf("starting pulsestream-server %s", config.Version)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return apiServer.Run(gctx)
	})

	if cfg.Alerting.Enabled {
		driver := alerting.NewDriver(
			alerting.NewEvaluator(eventRepo),
			alerting.NewTriggerController(store.Rules(), store.Alerts()),
			dispatcher,
			store.Rules(),
			store.Alerts(),
		)
		g.Go(func() error {
			runScheduler(gctx, driver, store.Rules(), duration(cfg.Alerting.TickInterval))
			return nil
		})
		log.Printf("rule evaluation scheduler started, tick %s", cfg.Alerting.TickInterval)
	}

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Address)
		g.Go(func() error {
			return metricsServer.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
		log.Printf("metrics listening on %s", cfg.Metrics.Address)
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run server: %w", err)
	}

	log.Printf("server stopped")
	return nil
}

// buildDispatcher creates the notification dispatcher with the
// configured channels registered.
func buildDispatcher(cfg *Config) (*notifier.Dispatcher, error) {
	d := notifier.NewDispatcherWithRateLimit(notifier.RateLimitConfig{
		MaxPerWindow: cfg.Notifications.RateLimitPerMinute,
		Window:       time.Minute,
		Enabled:      true,
	})

	if c := cfg.Notifications.Email; c != nil {
		n, err := notifier.NewEmailNotifier(notifier.EmailConfig{
			Host:       c.Host,
			Port:       c.Port,
			Username:   c.Username,
			Password:   c.Password,
			From:       c.From,
			Recipients: c.Recipients,
		})
		if err != nil {
			return nil, fmt.Errorf("email channel: %w", err)
		}
		d.Register(n)
		log.Printf("notification channel registered: email via %s:%d", c.Host, c.Port)
	}
	if c := cfg.Notifications.Slack; c != nil {
		n, err := notifier.NewSlackNotifier(notifier.SlackConfig{WebhookURL: c.WebhookURL})
		if err != nil {
			return nil, fmt.Errorf("slack channel: %w", err)
		}
		d.Register(n)
		log.Printf("notification channel registered: slack")
	}
	if c := cfg.Notifications.Webhook; c != nil {
		n, err := notifier.NewWebhookNotifier(notifier.WebhookConfig{URL: c.URL, Headers: c.Headers})
		if err != nil {
			return nil, fmt.Errorf("webhook channel: %w", err)
		}
		d.Register(n)
		log.Printf("notification channel registered: webhook to %s", c.URL)
	}

	return d, nil
}

// runScheduler ticks the evaluation loop until the context is canceled.
// Each tick evaluates every tenant that has at least one active rule.
func runScheduler(ctx context.Context, driver *alerting.Driver, rules storage.RuleRepository, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tenants, err := rules.TenantsWithActiveRules(ctx)
			if err != nil {
				log.Printf("list tenants with active rules: %v", err)
				continue
			}
			for _, tenantID := range tenants {
				triggered := driver.EvaluateAll(ctx, tenantID)
				if len(triggered) > 0 {
					log.Printf("tenant %s: %d alert(s) triggered", tenantID, len(triggered))
				}
			}
		}
	}
}
