package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/BearBump/BostaSync/config"
	"github.com/BearBump/BostaSync/internal/models"
	"github.com/BearBump/BostaSync/internal/services/syncer"
	"github.com/BearBump/BostaSync/internal/storage/pgorders"
)

type syncService interface {
	Stats() syncer.Stats
	Trigger()
	StartTrack(ctx context.Context, tr models.Track) error
	SyncPhone(ctx context.Context, phone string, all bool) (syncer.PhoneResult, error)
	UpdatePendingStatus(ctx context.Context, trackingNumber, status, receivedBy, notes string) error
}

type pendingReader interface {
	Ping(ctx context.Context) error
	GetPendingOrderState(ctx context.Context, trackingNumber string) (*pgorders.PendingOrderState, error)
}

type checkpointReader interface {
	Load(ctx context.Context) (models.ResumeState, error)
}

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	syncer     syncService
	store      pendingReader
	checkpoint checkpointReader
	registry   *prometheus.Registry
	cfg        *config.Config
}

type pendingStatusRequest struct {
	Status        string `json:"status" validate:"required"`
	ReceivedBy    string `json:"received_by" validate:"max=255"`
	ReceivedNotes string `json:"received_notes" validate:"max=2000"`
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
			return fmt.Errorf("worker swagger file not found: %s", opts.swaggerPath)
		}
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{
		Handler:           newWorkerRouter(ctx, opts),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("worker admin http listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newWorkerRouter builds the admin routes. Track runs started over HTTP are
// bound to appCtx, not to the request.
func newWorkerRouter(appCtx context.Context, opts workerHTTPOpts) http.Handler {
	validate := validator.New()
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.store == nil {
			writeError(w, http.StatusServiceUnavailable, "store not wired")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := opts.store.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		if opts.syncer == nil {
			writeError(w, http.StatusServiceUnavailable, "syncer not wired")
			return
		}
		out := map[string]any{"sync": opts.syncer.Stats()}
		if opts.checkpoint != nil {
			st, err := opts.checkpoint.Load(r.Context())
			if err != nil {
				slog.Warn("stats: load checkpoint", "error", err.Error())
			} else {
				out["checkpoint"] = st
			}
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		if opts.cfg == nil {
			writeError(w, http.StatusServiceUnavailable, "config not wired")
			return
		}
		// без секретов
		c := opts.cfg
		writeJSON(w, http.StatusOK, map[string]any{
			"apiBaseUrl":          c.Bosta.BaseURL,
			"apiTimeoutSeconds":   c.Bosta.TimeoutSeconds,
			"apiKeyConfigured":    c.Bosta.APIKey != "",
			"loginConfigured":     c.Bosta.Email != "",
			"pageSize":            c.Sync.PageSize,
			"workers":             c.Sync.Workers,
			"intervalMinutes":     c.Sync.IntervalMinutes,
			"retryDelaySeconds":   c.Sync.RetryDelaySeconds,
			"drainGraceSeconds":   c.Sync.DrainGraceSeconds,
			"checkpointPath":      c.Sync.CheckpointPath,
			"kafkaEnabled":        c.Kafka.Enabled(),
			"redisEnabled":        c.Redis.Enabled(),
			"detailRateLimit":     c.Redis.DetailRateLimit,
			"detailRateWindowSec": c.Redis.DetailRateLimitSeconds,
		})
	})

	if opts.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.registry, promhttp.HandlerOpts{}))
	}

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if opts.syncer == nil {
			writeError(w, http.StatusServiceUnavailable, "syncer not wired")
			return
		}
		opts.syncer.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
	})

	r.Post("/trigger/{track}", func(w http.ResponseWriter, r *http.Request) {
		if opts.syncer == nil {
			writeError(w, http.StatusServiceUnavailable, "syncer not wired")
			return
		}
		tr, err := models.ParseTrack(chi.URLParam(r, "track"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		err = opts.syncer.StartTrack(appCtx, tr)
		switch {
		case errors.Is(err, syncer.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, err.Error())
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			writeJSON(w, http.StatusAccepted, map[string]any{"track": tr, "started": true})
		}
	})

	r.Post("/sync/phone/{phone}", func(w http.ResponseWriter, r *http.Request) {
		if opts.syncer == nil {
			writeError(w, http.StatusServiceUnavailable, "syncer not wired")
			return
		}
		all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
		res, err := opts.syncer.SyncPhone(r.Context(), chi.URLParam(r, "phone"), all)
		switch {
		case errors.Is(err, syncer.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		case err != nil:
			slog.Error("sync by phone", "error", err.Error())
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeJSON(w, http.StatusOK, res)
		}
	})

	r.Get("/pending-orders/{tn}", func(w http.ResponseWriter, r *http.Request) {
		if opts.store == nil {
			writeError(w, http.StatusServiceUnavailable, "store not wired")
			return
		}
		st, err := opts.store.GetPendingOrderState(r.Context(), chi.URLParam(r, "tn"))
		switch {
		case errors.Is(err, pgorders.ErrPendingNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			writeJSON(w, http.StatusOK, st)
		}
	})

	r.Patch("/pending-orders/{tn}/status", func(w http.ResponseWriter, r *http.Request) {
		if opts.syncer == nil {
			writeError(w, http.StatusServiceUnavailable, "syncer not wired")
			return
		}
		var req pendingStatusRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		tn := chi.URLParam(r, "tn")
		err := opts.syncer.UpdatePendingStatus(r.Context(), tn, req.Status, req.ReceivedBy, req.ReceivedNotes)
		switch {
		case errors.Is(err, syncer.ErrInvalidRequest), errors.Is(err, pgorders.ErrInvalidStatus):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, pgorders.ErrPendingNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case err != nil:
			slog.Error("update pending status", "tracking_number", tn, "error", err.Error())
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			writeJSON(w, http.StatusOK, map[string]string{"tracking_number": tn, "status": req.Status})
		}
	})

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

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
