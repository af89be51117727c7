// Package cli provides the command-line entry point for the billcore
// service: a Cobra root command that loads configuration, wires the Event
// Log, Command Router, Projection Pipeline, Reactive Handlers, and Query
// Service to a Postgres pool and the blob/OCR/SMTP adapters, and serves the
// (non-goal, minimal) HTTP layer over them.
//
// Configuration is read from environment variables under the BILLCORE_
// prefix, with an optional YAML config file (see initConfig), following
// this lineage's usual Cobra + Viper pattern.
package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/evalgo/billcore/api"
	"github.com/evalgo/billcore/common"
	"github.com/evalgo/billcore/config"
	"github.com/evalgo/billcore/consumer"
	"github.com/evalgo/billcore/eventlog"
	httputil "github.com/evalgo/billcore/http"
	"github.com/evalgo/billcore/notification"
	"github.com/evalgo/billcore/ocr"
	"github.com/evalgo/billcore/projection"
	"github.com/evalgo/billcore/query"
	"github.com/evalgo/billcore/reactive"
	"github.com/evalgo/billcore/router"
	"github.com/evalgo/billcore/storage"
)

var cfgFile string

// RootCmd is the billcore service's entry point. It starts the Router, the
// Projection Pipeline, the Reactive Handlers, the Query Service, and the
// HTTP layer that fronts them, and runs until interrupted.
var RootCmd = &cobra.Command{
	Use:   "billcore",
	Short: "event-sourced bill processing: intake, OCR, and approval",
	Long: `billcore

An event-sourced CQRS service for bill intake, OCR extraction, and approval:
- Command Router with optimistic concurrency and bounded retry
- Projection Pipeline materializing bill-summary and bill-files read models
- Reactive Handlers driving OCR extraction and approval notifications
- Query Service over the read models

Configuration is read from BILLCORE_* environment variables, or a YAML
config file pointed to by --config.`,
	RunE: runServer,
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: none, environment only)")
	RootCmd.PersistentFlags().Int("port", 0, "HTTP listen port (overrides BILLCORE_PORT)")
	viper.BindPFlag("BILLCORE_PORT", RootCmd.PersistentFlags().Lookup("port"))
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		for _, key := range viper.AllKeys() {
			if viper.InConfig(key) {
				os.Setenv(strings.ToUpper(key), viper.GetString(key))
			}
		}
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}

	logger := common.NewContextLogger(nil, map[string]interface{}{"component": "billcore", "service": settings.Service.Name})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, settings.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	for _, schema := range []string{eventlog.Schema, consumer.Schema, projection.Schema} {
		if _, err := pool.Exec(ctx, schema); err != nil {
			return err
		}
	}

	logStore := eventlog.NewStore(pool, "billcore_events", logger)
	limits := settings.Limits()
	rtr := router.New(logStore, limits, settings.Router.RetryOnConflict, logger)
	rtr.SetMaxCacheEntries(settings.Router.CacheSize)

	positions := consumer.NewPostgresStore(pool)

	blobStore, err := storage.New(ctx, settings.BlobStoreConfig(), logger)
	if err != nil {
		return err
	}

	baseURL, timeout, maxRetries := settings.OcrClientConfig()
	ocrClient := ocr.New(baseURL, timeout, maxRetries)

	notifyAdapter := notification.New(settings.NotifyAdapterConfig(), logger)
	recipients := []string{} // no setting fills this list; Send rejects an empty list, so each notification fails

	projPipeline := projection.New(logStore, pool, positions, settings.Consumer.PoisonBudget, logger)
	reactPipeline := reactive.New(logStore, positions, rtr, blobStore, ocrClient, notifyAdapter, recipients, settings.Consumer.PoisonBudget, logger)

	go func() {
		if err := projPipeline.Run(ctx); err != nil {
			logger.WithField("pipeline", "projection").WithField("err", err.Error()).Error("projection pipeline stopped")
		}
	}()
	go func() {
		if err := reactPipeline.Run(ctx); err != nil {
			logger.WithField("pipeline", "reactive").WithField("err", err.Error()).Error("reactive pipeline stopped")
		}
	}()

	queryService := query.New(pool)
	queryService.SetBlobStore(blobStore)

	serverCfg := httputil.DefaultServerConfig()
	if settings.Server.Port > 0 {
		serverCfg.Port = settings.Server.Port
	}
	if cmd.Flags().Changed("port") {
		serverCfg.Port, _ = cmd.Flags().GetInt("port")
	}
	e := httputil.NewEchoServer(serverCfg)
	e.HTTPErrorHandler = httputil.CustomHTTPErrorHandler
	e.Use(httputil.SecurityHeadersMiddleware())
	e.Use(httputil.JSONContentTypeMiddleware())
	e.GET("/healthz", httputil.HealthCheckHandler(settings.Service.Name, settings.Service.Version))
	api.RegisterRoutes(e, &api.Handlers{Router: rtr, Query: queryService})

	go func() {
		if err := httputil.StartServer(e, serverCfg); err != nil && err != http.ErrServerClosed {
			log.Fatalf("billcore: server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	cancel()

	return httputil.GracefulShutdown(e, 10*time.Second)
}
