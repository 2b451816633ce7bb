package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/mylaniakea/unity/internal/model"
	"github.com/mylaniakea/unity/internal/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// executionPage is the response of the execution history route
type executionPage struct {
	Total      int                      `json:"total"`
	Executions []*model.ExecutionRecord `json:"executions"`
}

// adminRouter serves the Prometheus metrics, the liveness check and the
// collector health view
func (a *app) adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Handle("/metrics", a.metrics.Handler())
	r.Handle("/healthz", health.NewHandler(a.healthChecker()))
	r.Get("/collectors", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(a.scheduler.Statuses()); err != nil {
			a.logger.Warn("Failed to encode collector statuses", zap.Error(err))
		}
	})
	r.Get("/collectors/{id}/executions", a.handleExecutions)
	return r
}

func (a *app) handleExecutions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	outcome, err := parseOutcome(query.Get("outcome"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, offset := defaultHistoryLimit, 0
	if v := query.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}
	if v := query.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			http.Error(w, "invalid offset", http.StatusBadRequest)
			return
		}
	}

	page, err := a.executionHistory(r.Context(), storage.ExecutionFilter{
		CollectorID: chi.URLParam(r, "id"),
		Outcome:     outcome,
	}, offset, limit)
	if err != nil {
		a.logger.Error("Failed to read execution history", zap.Error(err))
		http.Error(w, "failed to read execution history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(page); err != nil {
		a.logger.Warn("Failed to encode execution history", zap.Error(err))
	}
}

// executionHistory reads one page of persisted execution records, newest first
func (a *app) executionHistory(ctx context.Context, filter storage.ExecutionFilter, offset, limit int) (*executionPage, error) {
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	total, err := a.executions.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	records, err := a.executions.List(ctx, filter, offset, limit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*model.ExecutionRecord{}
	}
	return &executionPage{Total: total, Executions: records}, nil
}

func parseOutcome(v string) (model.ExecutionOutcome, error) {
	switch outcome := model.ExecutionOutcome(v); outcome {
	case "", model.OutcomeSuccess, model.OutcomeFailure, model.OutcomeTimeout:
		return outcome, nil
	default:
		return "", fmt.Errorf("unknown outcome %q", v)
	}
}

func (a *app) healthChecker() health.Checker {
	opts := []health.CheckerOption{
		health.WithCacheDuration(time.Second),
		health.WithTimeout(5 * time.Second),
		health.WithCheck(health.Check{
			Name:    "storage",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				return a.db.PingContext(ctx)
			},
		}),
		health.WithCheck(health.Check{
			Name:  "collectors",
			Check: func(context.Context) error { return collectorsCheck(a.scheduler.Statuses()) },
		}),
	}
	if a.nc != nil {
		opts = append(opts, health.WithCheck(health.Check{
			Name: "nats",
			Check: func(context.Context) error {
				if status := a.nc.Status(); status != nats.CONNECTED {
					return fmt.Errorf("connection %s", status)
				}
				return nil
			},
		}))
	}
	return health.NewChecker(opts...)
}

// collectorsCheck fails when any enabled collector is erroring or stale
func collectorsCheck(statuses []model.CollectorHealth) error {
	var failing []string
	for _, s := range statuses {
		if s.State == model.HealthError || s.State == model.HealthStale {
			failing = append(failing, fmt.Sprintf("%s=%s", s.CollectorID, s.State))
		}
	}
	if len(failing) > 0 {
		return errors.New("unhealthy collectors: " + strings.Join(failing, ", "))
	}
	return nil
}
