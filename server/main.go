package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/beraber/beraber/server/src/config"
	"github.com/beraber/beraber/server/src/extractor"
	"github.com/beraber/beraber/server/src/logger"
	"github.com/beraber/beraber/server/src/party"
	"github.com/beraber/beraber/server/src/proxy"
)

func main() {
	cli := config.ParseCommandArgs()
	logger.NewGlobalLogger(cli.Production)
	defer logger.Sync()

	if cli.Debug {
		config.PrintConfig(cli)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := party.NewEngine(party.DefaultEngineConfig())
	engine.StartReaper(ctx)

	cacheTTL := time.Duration(cli.CacheTTLSeconds) * time.Second
	resolver := newResolver(cli, cacheTTL)

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)

	router.Get("/ws/{room_id}", party.WSHandler(engine, resolver, cli.ProxyURL))
	router.Group(func(r chi.Router) {
		r.Use(httprate.Limit(60, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Get("/party/{room_id}", partyResolver(engine, cli))
	})
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())

	if cli.ProxyEnabled {
		segments := proxy.NewSegmentCache(int64(cli.CacheSizeMB)*1024*1024, cacheTTL)
		mediaProxy := proxy.New(segments)
		router.Group(func(r chi.Router) {
			r.Use(httprate.Limit(120, time.Second, httprate.WithKeyFuncs(httprate.KeyByIP)))
			r.Get("/proxy/video", mediaProxy.VideoHandler)
			r.Get("/proxy/subtitle", mediaProxy.SubtitleHandler)
		})
	}

	addr := fmt.Sprintf("%s:%d", cli.Host, cli.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Infow("server listening", "addr", addr, "tls", cli.Cert != "")
		if cli.Cert != "" && cli.Key != "" {
			errs <- server.ListenAndServeTLS(cli.Cert, cli.Key)
		} else {
			errs <- server.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		logger.Infow("shutting down")
	case err := <-errs:
		logger.Errorw("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("shutdown incomplete", "error", err)
	}
}

func newResolver(cli config.CLI, cacheTTL time.Duration) *extractor.Extractor {
	opts := []extractor.Option{
		extractor.WithAvailabilityCheck(cli.AvailabilityCheck),
	}

	if cli.CachePath != "" {
		if err := os.MkdirAll(filepath.Dir(cli.CachePath), 0o755); err != nil {
			logger.Warnw("cannot create cache directory", "path", cli.CachePath, "error", err)
		} else if store, err := extractor.NewBoltStore(cli.CachePath, cacheTTL); err != nil {
			logger.Warnw("extractor cache disabled", "path", cli.CachePath, "error", err)
		} else {
			opts = append(opts, extractor.WithStore(store))
		}
	}

	return extractor.New(cli.APIURL, opts...)
}

// partyResolver answers the pre-join lookup clients make before opening the
// websocket: where to connect and whether the room already exists.
func partyResolver(engine *party.Engine, cli config.CLI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "room_id")
		if roomID == "" {
			http.Error(w, "room id required", http.StatusBadRequest)
			return
		}

		wsBase := cli.WSURL
		if wsBase == "" {
			scheme := "ws"
			if r.TLS != nil {
				scheme = "wss"
			}
			wsBase = scheme + "://" + r.Host
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"room_id":    roomID,
			"ws_url":     wsBase + "/ws/" + roomID,
			"exists":     engine.HasRoom(roomID),
			"secret_key": cli.SecretKey,
		})
	}
}
