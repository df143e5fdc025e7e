package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"qabot/internal/app"
	"qabot/internal/gateway"
	"qabot/internal/history"
	"qabot/internal/httputil"
	"qabot/internal/router"
)

type askRequest struct {
	Question    string   `json:"question" validate:"required,min=3,max=2000"`
	Model       string   `json:"model" validate:"omitempty,max=100"`
	Temperature *float64 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   int      `json:"max_tokens" validate:"omitempty,min=1,max=4096"`
}

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go deps.Prober.Run(ctx)

	r := httputil.NewRouter(deps.Log)
	r.Post("/api/ask", askHandler(deps.Gateway, deps.Log))
	r.Get("/health", healthHandler(deps.Gateway))
	r.Get("/api/history", historyHandler(deps.Gateway, deps.Log))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", deps.Config.Port),
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			deps.Log.Error("shutdown error", "err", err)
		}
	}()

	deps.Log.Info("gateway listening", "addr", srv.Addr, "model", deps.Set.Model())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		deps.Log.Error("server error", "err", err)
		os.Exit(1)
	}
	deps.Log.Info("gateway stopped")
}

func askHandler(svc gateway.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(log, w, err)
			return
		}

		res, err := svc.Ask(r.Context(), gateway.AskRequest{
			Question:    req.Question,
			Model:       req.Model,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
		if err != nil {
			writeAskError(log, w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, res)
	}
}

// writeAskError maps routing failures to HTTP statuses: exhaustion is 503,
// a caller deadline is 504. Per-backend details stay in the logs.
func writeAskError(log *slog.Logger, w http.ResponseWriter, err error) {
	var unavail *router.AllBackendsUnavailableError
	var deadline *router.DeadlineExceededError
	switch {
	case errors.As(err, &unavail):
		httputil.Fail(log, w, "all answer backends are unavailable, try again later", err, http.StatusServiceUnavailable)
	case errors.As(err, &deadline):
		httputil.Fail(log, w, "request timed out", err, http.StatusGatewayTimeout)
	default:
		httputil.Fail(log, w, "failed to answer question", err, http.StatusInternalServerError)
	}
}

func healthHandler(svc gateway.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := svc.HealthSnapshot()
		status := http.StatusOK
		if report.OllamaStatus == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, report)
	}
}

func historyHandler(svc gateway.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 500 {
				httputil.Fail(log, w, "invalid limit", err, http.StatusBadRequest)
				return
			}
			limit = n
		}
		entries, err := svc.History(r.Context(), limit)
		if err != nil {
			httputil.Fail(log, w, "failed to list history", err, http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []history.Entry{}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
	}
}
