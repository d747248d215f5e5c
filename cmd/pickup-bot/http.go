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

	"github.com/BearBump/PickupRelay/config"
	pickupsapi "github.com/BearBump/PickupRelay/internal/api/pickups_api"
	"github.com/BearBump/PickupRelay/internal/metrics"
	"github.com/BearBump/PickupRelay/internal/services/matcher"
	"github.com/BearBump/PickupRelay/internal/services/pickups"
	"github.com/BearBump/PickupRelay/internal/services/registry"
	"github.com/BearBump/PickupRelay/internal/services/retention"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
)

type botHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	api       *pickupsapi.API
	store     submissionStore
	matcher   *matcher.Matcher
	service   *pickups.Service
	retention *retention.Scheduler
	registry  *registry.Registry
	settings  config.Settings
	cfg       *config.Config
}

type botStats struct {
	Matcher   matcher.Stats   `json:"matcher"`
	Service   pickups.Stats   `json:"service"`
	Retention retention.Stats `json:"retention"`
	Open      []openRequest   `json:"openRequests"`
}

type openRequest struct {
	ID       string    `json:"id"`
	Status   string    `json:"status"`
	Location string    `json:"location"`
	Deadline time.Time `json:"deadline"`
}

func runBotHTTPServer(ctx context.Context, opts botHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8080"
	}
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
			return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
		}
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := newBotRouter(opts)

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newBotRouter(opts botHTTPOpts) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.store != nil {
			pingCtx, cancel := context.WithTimeout(r.Context(), time.Second)
			defer cancel()
			if err := opts.store.Ping(pingCtx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "error": err.Error()})
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.matcher == nil || opts.service == nil {
			_, _ = w.Write([]byte(`{"error":"dispatcher not wired"}`))
			return
		}
		out := botStats{
			Matcher: opts.matcher.Stats(),
			Service: opts.service.Stats(),
			Open:    []openRequest{},
		}
		if opts.retention != nil {
			out.Retention = opts.retention.Stats()
		}
		if opts.registry != nil {
			for _, req := range opts.registry.Snapshot() {
				out.Open = append(out.Open, openRequest{
					ID:       req.ID,
					Status:   string(req.Status),
					Location: req.Fields.Location,
					Deadline: req.ExpiresAt,
				})
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// No token, passwords or hosts here.
		s := opts.settings
		out := map[string]any{
			"dryRun":                opts.cfg.Telegram.Token == "",
			"groupChatId":           opts.cfg.Telegram.GroupChatID,
			"outcomeTopic":          s.OutcomeTopic,
			"defaultWaitMinutes":    int(s.DefaultWait / time.Minute),
			"maxWaitMinutes":        int(s.MaxWait / time.Minute),
			"pollTimeoutSeconds":    int(s.PollTimeout / time.Second),
			"pollPauseMillis":       int(s.PollPause / time.Millisecond),
			"retentionSeconds":      int(s.Retention / time.Second),
			"intakeLimitPerHour":    s.IntakeLimitPerHour,
			"submissionTtlSeconds":  int(s.SubmissionTTL / time.Second),
			"resetPendingOnStartup": opts.cfg.Pickup.ResetPendingOnStartup,
			"timezone":              s.Location.String(),
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Get("/metrics", metrics.Handler())

	if opts.api != nil {
		opts.api.Routes(r)
	}

	if opts.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}

	return r
}
