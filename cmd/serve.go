package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mycelica/wot/internal/fetcher"
	"mycelica/wot/internal/inserter"
	"mycelica/wot/internal/logger"
	"mycelica/wot/internal/metrics"
	"mycelica/wot/internal/transport"
	"mycelica/wot/internal/wot"
)

var serveDocumentDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fetcher, the inserter and the metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveDocumentDir, "documents", "", "Document directory (default: next to the database)")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	level := logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	log := logger.New("wot").Level(logger.ParseLevel(level))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	w, store, err := OpenWoT(wot.WithLogger(log), wot.WithMetrics(m))
	if err != nil {
		return err
	}
	defer store.Close()

	dir, err := documentDir()
	if err != nil {
		return err
	}
	source, err := transport.NewDirSource(dir, log)
	if err != nil {
		return err
	}

	sched, err := fetcher.New(source, w, w,
		fetcher.WithLogger(log),
		fetcher.WithMetrics(m),
		fetcher.WithWorkers(cfg.FetchWorkers),
		fetcher.WithRetry(500*time.Millisecond, cfg.FetchMaxElapsed),
	)
	if err != nil {
		return err
	}
	w.SetFetcher(sched)

	ins, err := inserter.New(source, w,
		inserter.WithLogger(log),
		inserter.WithMetrics(m),
		inserter.WithInterval(cfg.InsertInterval),
		inserter.WithDelays(cfg.InsertMinDelay, cfg.InsertMaxDelay),
	)
	if err != nil {
		return err
	}

	if _, err := w.EnsureSeedIdentities(ctx); err != nil {
		return fmt.Errorf("adding seed identities: %w", err)
	}
	remote, err := w.NonOwnIdentities(ctx, true)
	if err != nil {
		return err
	}
	for _, identity := range remote {
		sched.Fetch(identity.ID)
	}

	server := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newRouter(w, store, registry, log),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	log.Info().
		Str("documents", dir).
		Str("addr", cfg.MetricsAddr).
		Int("queued", len(remote)).
		Msg("wot service starting")

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gCtx) })
	g.Go(func() error { return ins.Run(gCtx) })
	g.Go(func() error { return source.Watch(gCtx, sched.OnPublished) })
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func documentDir() (string, error) {
	if serveDocumentDir != "" {
		return serveDocumentDir, nil
	}
	if cfg != nil && cfg.DocumentDir != "" {
		return cfg.DocumentDir, nil
	}
	path, err := DiscoverDB()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(path), "documents"), nil
}
