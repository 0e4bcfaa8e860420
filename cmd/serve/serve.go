// Package serve runs the transcription service: queue consumers, the
// janitor, and the operational HTTP endpoint.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/datastore"
	"github.com/hyescribe/hyescribe/internal/httpsrv"
	"github.com/hyescribe/hyescribe/internal/janitor"
	"github.com/hyescribe/hyescribe/internal/logging"
	"github.com/hyescribe/hyescribe/internal/notify"
	"github.com/hyescribe/hyescribe/internal/objectstore"
	"github.com/hyescribe/hyescribe/internal/observability"
	"github.com/hyescribe/hyescribe/internal/provider"
	"github.com/hyescribe/hyescribe/internal/queue"
	"github.com/hyescribe/hyescribe/internal/ratelimit"
	"github.com/hyescribe/hyescribe/internal/telemetry"
	"github.com/hyescribe/hyescribe/internal/worker"
)

// Command creates the serve command.
func Command(settings *conf.Settings, version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transcription service",
		Long:  "Start the queue consumers, the janitor, and the health/metrics endpoint, and process transcription jobs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(settings, version)
		},
	}

	cmd.Flags().StringVar(&settings.Queue.Addr, "redis", viper.GetString("queue.addr"), "Redis address for the work queue")
	cmd.Flags().IntVar(&settings.Queue.Concurrency, "concurrency", viper.GetInt("queue.concurrency"), "Number of concurrent jobs")
	cmd.Flags().StringVar(&settings.HTTP.Listen, "listen", viper.GetString("http.listen"), "Listen address of the health/metrics endpoint")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
	}
	return cmd
}

func runService(settings *conf.Settings, version string) error {
	if err := conf.ValidateSettings(settings); err != nil {
		return err
	}

	if err := telemetry.Init(settings, version); err != nil {
		logging.Warn("telemetry initialization failed, continuing without it", "error", err)
	}
	defer telemetry.Flush(3 * time.Second)

	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no job store enabled in configuration")
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()

	objects, err := objectstore.New(settings)
	if err != nil {
		return err
	}
	defer objects.Close()

	q := queue.New(&settings.Queue)
	defer q.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := q.Ping(ctx); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}

	limiter := ratelimit.New()
	for _, name := range provider.Names() {
		if ps := settings.Provider(name); ps != nil && ps.Enabled {
			limiter.Configure(name, ps.RPM)
		}
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	limiter.SetMetrics(metrics.Provider)
	q.SetMetrics(metrics.Queue)

	notifier, err := notify.New(&settings.Notify)
	if err != nil {
		return err
	}

	jan := janitor.New(settings, store, objects, notifier, metrics)
	if _, err := jan.RecoverStaleJobs(ctx); err != nil {
		logging.Error("stale job recovery failed", "error", err)
	}

	w := worker.New(settings, store, objects, q, limiter, notifier, metrics)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		jan.Run(ctx)
	}()

	concurrency := settings.Queue.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	jobConsumer := queue.NewConsumer(q, settings.Queue.TranscriptionQueue, concurrency, w.HandleMessage)
	webhookConsumer := queue.NewConsumer(q, settings.Queue.WebhookQueue, 1, w.HandleMessage)

	wg.Add(2)
	go func() {
		defer wg.Done()
		jobConsumer.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		webhookConsumer.Run(ctx)
	}()

	var srv *httpsrv.Server
	if settings.HTTP.Enabled {
		srv = httpsrv.New(settings, store, q, metrics, version)
		go srv.Start()
	}

	logging.Info("service started", "version", version,
		"queue", settings.Queue.TranscriptionQueue, "concurrency", concurrency)

	<-ctx.Done()
	logging.Info("shutdown requested, draining")

	wg.Wait()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn("http server shutdown error", "error", err)
		}
	}
	logging.Info("service stopped")
	return nil
}
