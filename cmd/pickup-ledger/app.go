package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/PickupRelay/internal/broker/kafka"
	"github.com/BearBump/PickupRelay/internal/broker/messages"
	"github.com/BearBump/PickupRelay/internal/metrics"
	"github.com/BearBump/PickupRelay/internal/services/ledger"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	summaryTTL   = 30 * time.Second
	defaultLimit = 50
	maxLimit     = 500
)

type ledgerOpts struct {
	httpAddr      string
	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runLedger(ctx context.Context, opts ledgerOpts, svc *ledger.Service, consumer kafkaConsumer) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
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
		return serveLedgerHTTP(gctx, lis, svc)
	})
	g.Go(func() error {
		slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		err := consumer.Consume(gctx, outcomeHandler(gctx, svc))
		if gctx.Err() != nil {
			return gctx.Err()
		}
		return err
	})
	return g.Wait()
}

// outcomeHandler skips events that can never be stored. Storage errors stop
// the consumer without committing.
func outcomeHandler(ctx context.Context, svc *ledger.Service) func(key, value []byte) error {
	return func(key, value []byte) error {
		var m messages.PickupOutcome
		if err := json.Unmarshal(value, &m); err != nil {
			slog.Warn("undecodable pickup outcome", "key", string(key), "error", err.Error())
			return errors.Wrap(kafka.ErrSkip, err.Error())
		}
		if err := svc.ApplyOutcome(ctx, m); err != nil {
			if errors.Is(err, ledger.ErrInvalidOutcome) {
				slog.Warn("invalid pickup outcome", "key", string(key), "error", err.Error())
				return errors.Wrap(kafka.ErrSkip, err.Error())
			}
			return err
		}
		slog.Info("pickup outcome stored", "request_id", m.RequestID, "status", m.Status)
		return nil
	}
}

func serveLedgerHTTP(ctx context.Context, lis net.Listener, svc *ledger.Service) error {
	srv := &http.Server{Handler: newLedgerRouter(svc), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("ledger HTTP listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newLedgerRouter(svc *ledger.Service) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/metrics", metrics.Handler())

	r.Get("/outcomes", func(w http.ResponseWriter, r *http.Request) {
		limit, err := intParam(r, "limit", defaultLimit)
		if err != nil || limit <= 0 || limit > maxLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		offset, err := intParam(r, "offset", 0)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "offset must not be negative")
			return
		}
		items, err := svc.ListOutcomes(r.Context(), limit, offset)
		if err != nil {
			slog.Error("list outcomes", "error", err.Error())
			writeError(w, http.StatusInternalServerError, "ledger unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
	})

	r.Get("/outcomes/summary", func(w http.ResponseWriter, r *http.Request) {
		sum, err := svc.Summary(r.Context())
		if err != nil {
			slog.Error("outcome summary", "error", err.Error())
			writeError(w, http.StatusInternalServerError, "ledger unavailable")
			return
		}
		writeJSON(w, http.StatusOK, sum)
	})

	return r
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
