package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/subletmap/subletmap/internal/availability"
	"github.com/subletmap/subletmap/internal/markers"
	"github.com/subletmap/subletmap/internal/model"
)

var servePort int

// listingsMaxAge bounds how stale the in-memory sheet snapshot may get
// before a request triggers a re-fetch.
const listingsMaxAge = 5 * time.Minute

// listingsLoader memoizes the fetched sheet so bursts of map requests don't
// hammer the published export.
type listingsLoader struct {
	env *appEnv

	mu        sync.Mutex
	listings  []model.Listing
	fetchedAt time.Time
}

func (ll *listingsLoader) load(r *http.Request) ([]model.Listing, error) {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	if ll.listings != nil && time.Since(ll.fetchedAt) < listingsMaxAge {
		return ll.listings, nil
	}

	listings, err := ll.env.Sheet.Fetch(r.Context())
	if err != nil {
		// Serve the stale snapshot rather than a blank map if we have one.
		if ll.listings != nil {
			zap.L().Warn("sheet fetch failed, serving stale listings", zap.Error(err))
			return ll.listings, nil
		}
		return nil, err
	}

	ll.listings = listings
	ll.fetchedAt = time.Now()
	return listings, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the marker and cache API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		loader := &listingsLoader{env: env}

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Get("/api/markers", func(w http.ResponseWriter, req *http.Request) {
			listings, err := loader.load(req)
			if err != nil {
				writeError(w, http.StatusBadGateway, err)
				return
			}

			month := req.URL.Query().Get("month")
			if month == "" {
				month = availability.AllMonths
			}
			filtered := availability.FilterByMonth(listings, month)

			results, err := env.Cache.BatchResolve(req.Context(), filtered, cfg.Geocode.BatchConcurrency)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}

			writeJSON(w, http.StatusOK, markers.Build(results))
		})

		r.Get("/api/months", func(w http.ResponseWriter, req *http.Request) {
			listings, err := loader.load(req)
			if err != nil {
				writeError(w, http.StatusBadGateway, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"months": availability.Months(listings),
			})
		})

		r.Get("/api/cache/stats", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, env.Cache.StatsSnapshot())
		})

		r.Post("/api/cache/invalidate", func(w http.ResponseWriter, req *http.Request) {
			key := req.URL.Query().Get("key")
			if key == "" {
				env.Cache.InvalidateAll(req.Context())
			} else {
				env.Cache.Invalidate(req.Context(), key)
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
		})

		r.Post("/api/cache/clear", func(w http.ResponseWriter, req *http.Request) {
			key := req.URL.Query().Get("key")
			if key == "" {
				env.Cache.ClearAll(req.Context())
			} else {
				env.Cache.Clear(req.Context(), key)
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go waitShutdown(ctx, srv)

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// shutdownTimeout bounds how long in-flight requests get to drain.
const shutdownTimeout = 10 * time.Second

// waitShutdown blocks until ctx is canceled, then drains the server on a
// fresh timeout context. The signal context is already done by the time
// Shutdown runs; passing it through would close without draining.
func waitShutdown(ctx context.Context, srv *http.Server) {
	<-ctx.Done()
	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	zap.L().Error("request failed", zap.Error(err))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
