package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pegmark/pegmark/internal/api"
	"github.com/pegmark/pegmark/internal/cache"
	"github.com/pegmark/pegmark/internal/competitors"
	"github.com/pegmark/pegmark/internal/config"
	"github.com/pegmark/pegmark/internal/engine"
	"github.com/pegmark/pegmark/internal/logging"
	"github.com/pegmark/pegmark/internal/marketdata"
	"github.com/pegmark/pegmark/internal/notification"
	"github.com/pegmark/pegmark/internal/pricing"
)

var (
	configPath      string
	dataPath        string
	marketCondition string
	verbose         bool
)

var rootCmd = &cobra.Command{
	Use:   "pegmark",
	Short: "Crypto-pegged dynamic pricing engine",
	Long: `pegmark computes recommended selling prices for products pegged to a
cryptocurrency reference price, combining rolling volatility, momentum and
trend signals with configurable guardrails and regime-aware strategies.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadEnvFile()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pricing pipeline once and print the results",
	RunE:  runPipeline,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the interactive pricing dashboard API",
	RunE:  serveDashboard,
}

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List recognized market-condition labels",
	Run: func(cmd *cobra.Command, args []string) {
		labels := pricing.ConditionLabels()
		conditions := make([]string, 0, len(labels))
		for condition := range labels {
			conditions = append(conditions, string(condition))
		}
		sort.Strings(conditions)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CONDITION\tALIASES")
		for _, condition := range conditions {
			aliases := labels[pricing.MarketCondition(condition)]
			fmt.Fprintf(w, "%s\t%v\n", condition, aliases)
		}
		w.Flush()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file (default: ./configs/config.yaml)")

	runCmd.Flags().StringVar(&dataPath, "data", "", "Optional CSV with timestamp,price columns; overrides the configured provider")
	runCmd.Flags().StringVar(&marketCondition, "market-condition", "", "Strategy tuned for the market regime or business goal")
	runCmd.Flags().BoolVar(&verbose, "verbose", false, "Print intermediate signals for each product")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(strategiesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadEnvFile populates the environment from a .env file if one exists.
// Existing environment variables always win so shell exports or CI secrets
// are never overwritten by accidental entries in the file.
func loadEnvFile() {
	path := os.Getenv("PEGMARK_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// buildProvider assembles the market data provider chain: CSV override, the
// configured provider, and the Redis series cache when one is configured.
func buildProvider(cfg *config.Config, logger *logrus.Logger) (marketdata.Provider, *cache.SeriesCache, error) {
	if dataPath != "" {
		return marketdata.NewCSVProvider(dataPath), nil, nil
	}

	provider, err := marketdata.NewProvider(cfg.DataSource, "", logger)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Redis.Host == "" {
		return provider, nil, nil
	}

	redisClient, err := cache.NewRedisConnection(cfg.Redis)
	if err != nil {
		// Caching is best effort; a missing Redis must not block pricing.
		logger.Warnf("Series cache disabled: %v", err)
		return provider, nil, nil
	}

	ttl, err := time.ParseDuration(cfg.DataSource.CacheTTL)
	if err != nil || ttl <= 0 {
		ttl = 5 * time.Minute
	}

	seriesCache := cache.NewSeriesCache(redisClient, ttl, logger)
	return marketdata.NewCachedProvider(provider, seriesCache, cfg.DataSource, logger), seriesCache, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.Environment)

	condition := marketCondition
	if condition == "" {
		condition = cfg.MarketCondition
	}
	strategy, err := pricing.BuildStrategy(condition)
	if err != nil {
		return err
	}

	provider, _, err := buildProvider(cfg, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	run, err := engine.New(cfg, provider, strategy, logger).Run(ctx)
	if err != nil {
		return err
	}

	printRun(cmd, run)

	notifier, err := notification.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
	if err != nil {
		logger.Warnf("Telegram notifier unavailable: %v", err)
	} else if notifier.Enabled() {
		if err := notifier.NotifyRun(ctx, run); err != nil {
			logger.Warnf("Failed to notify pricing run: %v", err)
		}
	}

	return nil
}

func printRun(cmd *cobra.Command, run *engine.Run) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\nDynamic Pricing Results")
	fmt.Fprintln(out, "-----------------------")

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, result := range run.Results {
		fmt.Fprintf(w, "%s\tprice: $%s\tmarkup: %.2f%%\n",
			result.Product.Name,
			result.RecommendedPrice.StringFixed(2),
			result.Markup*100,
		)
		if verbose {
			keys := make([]string, 0, len(result.Signals))
			for key := range result.Signals {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			line := "    signals ->"
			for _, key := range keys {
				line += fmt.Sprintf(" %s=%.4f", key, result.Signals[key])
			}
			fmt.Fprintln(w, line)
		}
	}
	w.Flush()
}

func serveDashboard(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.Environment)

	provider, seriesCache, err := buildProvider(cfg, logger)
	if err != nil {
		return err
	}

	competitorService, err := competitors.NewService(cfg.Competitor, logger)
	if err != nil {
		return err
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	handler := api.NewPricingHandler(cfg, provider, competitorService, logger)
	api.SetupRoutes(router, handler, seriesCache)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Infof("Dashboard listening on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited")
	return nil
}
