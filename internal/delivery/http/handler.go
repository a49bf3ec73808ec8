package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/catalogsync/backend/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 100
)

// MetricsExporter records request metrics and serves the metrics endpoint
type MetricsExporter interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
	Handler() http.Handler
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	reports domain.ReportRepository
	metrics MetricsExporter
	logger  logrus.FieldLogger
}

// NewHandler creates a new HTTP handler. metrics may be nil.
func NewHandler(reports domain.ReportRepository, metrics MetricsExporter, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		reports: reports,
		metrics: metrics,
		logger:  logger.WithField("module", "http"),
	}
}

// runSummary is the list view of a run report
type runSummary struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	DurationMS int64     `json:"durationMs"`
	DryRun     bool      `json:"dryRun"`
	Read       int       `json:"read"`
	Filtered   int       `json:"filtered"`
	Considered int       `json:"considered"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Skipped    int       `json:"skipped"`
	Planned    int       `json:"planned"`
	Errored    int       `json:"errored"`
	Balanced   bool      `json:"balanced"`
}

func summarize(r *domain.RunReport) runSummary {
	return runSummary{
		RunID:      r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMS: r.Duration().Milliseconds(),
		DryRun:     r.DryRun,
		Read:       r.Read,
		Filtered:   r.Filtered,
		Considered: r.Considered,
		Created:    r.Created,
		Updated:    r.Updated,
		Skipped:    r.Skipped,
		Planned:    r.Planned,
		Errored:    r.Errored,
		Balanced:   r.Balanced(),
	}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "catalogsync",
		"version": "1.0.0",
	})
}

// ListRuns returns the most recent runs, newest first
func (h *Handler) ListRuns(c *gin.Context) {
	limit := defaultRunLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunLimit)
	}

	reports, err := h.reports.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("failed to list runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	runs := make([]runSummary, 0, len(reports))
	for _, r := range reports {
		runs = append(runs, summarize(r))
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// LatestRun returns the full report of the most recent run
func (h *Handler) LatestRun(c *gin.Context) {
	reports, err := h.reports.List(c.Request.Context(), 1)
	if err != nil {
		h.logger.WithError(err).Error("failed to load latest run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load latest run"})
		return
	}
	if len(reports) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no runs recorded"})
		return
	}
	c.JSON(http.StatusOK, reports[0])
}

// GetRun returns the full report of one run
func (h *Handler) GetRun(c *gin.Context) {
	id := c.Param("id")
	report, err := h.reports.Get(c.Request.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "runId": id})
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("run_id", id).Error("failed to load run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}
	c.JSON(http.StatusOK, report)
}
