package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	dispatchapi "github.com/BearBump/DispatchBox/internal/api/dispatch_api"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/sync/errgroup"
)

type dispatchAPIOpts struct {
	httpAddr    string
	swaggerPath string

	statusTopic   string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type runner interface {
	Run(ctx context.Context) error
}

// appDeps — всё, что собрал bootstrap; runDispatchAPI только запускает.
type appDeps struct {
	api     *dispatchapi.DispatchAPI
	metrics http.Handler
	stats   func() map[string]any
	ready   func(ctx context.Context) error
	config  map[string]any

	// outbox уведомлений и sink событий
	workers map[string]runner

	consumer      kafkaConsumer
	statusHandler func(key, value []byte) error

	// закрывает websocket-соединения: Shutdown их не трогает
	onShutdown func()
}

func runDispatchAPI(ctx context.Context, opts dispatchAPIOpts, deps appDeps) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}
	if opts.httpAddr == "" {
		opts.httpAddr = ":8080"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runHTTPServer(gctx, lis, opts.swaggerPath, deps)
	})

	for name, w := range deps.workers {
		g.Go(func() error {
			slog.Info("worker started", "name", name)
			err := w.Run(gctx)
			slog.Info("worker stopped", "name", name)
			return err
		})
	}

	if deps.consumer != nil && deps.statusHandler != nil {
		g.Go(func() error {
			slog.Info("kafka consumer started", "topic", opts.statusTopic, "group", opts.consumerGroup)
			// падение consumer'а не должно ронять API
			if err := deps.consumer.Consume(gctx, deps.statusHandler); err != nil && gctx.Err() == nil {
				slog.Error("kafka consumer stopped", "topic", opts.statusTopic, "error", err.Error())
			}
			return nil
		})
	}

	return g.Wait()
}

func runHTTPServer(ctx context.Context, lis net.Listener, swaggerPath string, deps appDeps) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if deps.ready != nil {
			if err := deps.ready(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "error": err.Error()})
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if deps.stats == nil {
			_, _ = w.Write([]byte(`{"error":"stats not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(deps.stats())
	})
	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if deps.config == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(deps.config)
	})
	if deps.metrics != nil {
		r.Handle("/metrics", deps.metrics)
	}

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	r.Mount("/v1", deps.api.Routes())

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if deps.onShutdown != nil {
			deps.onShutdown()
		}
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
