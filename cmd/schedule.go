package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"estate-crawler/control"
	"estate-crawler/metrics"
	"estate-crawler/utils"
)

func newScheduleCmd() *cobra.Command {
	var runNow bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run crawl + ETL on a cron schedule and serve /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, func(ctx context.Context, a *app) error {
				return a.schedule(ctx, runNow)
			})
		},
	}
	cmd.Flags().BoolVar(&runNow, "now", true, "run one cycle immediately on startup")
	return cmd
}

// schedule blocks until ctx is cancelled, running a cycle on every tick of
// cfg.Schedule. Overlapping ticks are skipped.
func (a *app) schedule(ctx context.Context, runNow bool) error {
	clog := cronLogger{a.logger}
	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	job := cron.FuncJob(func() {
		err := a.withLease(ctx, "run", a.cycle)
		switch {
		case errors.Is(err, control.ErrLeaseHeld):
			a.logger.Info("[scheduler] Another instance is running this cycle, skipping")
		case err != nil:
			a.logger.Error("[scheduler] Cycle failed: %v", err)
		default:
			a.logger.Info("[scheduler] Cycle complete")
		}
	})
	id, err := c.AddJob(a.cfg.Schedule, job)
	if err != nil {
		return fmt.Errorf("cron.AddJob(%q): %w", a.cfg.Schedule, err)
	}

	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           newRouter(a.metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("[scheduler] Serving /metrics and /healthz on %s", a.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("[scheduler] Metrics server: %v", err)
		}
	}()

	c.Start()
	a.logger.Info("[scheduler] Cron started, spec: %s", a.cfg.Schedule)

	var startup sync.WaitGroup
	if runNow {
		startup.Add(1)
		go func() {
			defer startup.Done()
			c.Entry(id).WrappedJob.Run()
		}()
	}

	<-ctx.Done()
	a.logger.Info("[scheduler] Shutting down")

	stopped := c.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	select {
	case <-stopped.Done():
	case <-shutdownCtx.Done():
	}
	startup.Wait()
	return nil
}

func newRouter(m *metrics.Metrics) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	return r
}

// cronLogger adapts utils.Logger to cron.Logger.
type cronLogger struct {
	l *utils.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("[cron] %s %v", msg, keysAndValues)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("[cron] %s: %v %v", msg, err, keysAndValues)
}
