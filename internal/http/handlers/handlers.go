package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/interpool/backend/internal/db"
	"github.com/interpool/backend/internal/engine"
	"github.com/interpool/backend/internal/models"
	"github.com/interpool/backend/internal/policy"
	"github.com/interpool/backend/internal/pool"
	"github.com/interpool/backend/internal/recovery"
)

type Handler struct {
	Store      *db.Store
	Pool       *pool.Service
	Policies   *policy.Service
	Engine     *engine.Engine
	Recovery   *recovery.Service
	Supervisor *recovery.Supervisor
	Validator  *validator.Validate
	Logger     zerolog.Logger
	AdminKey   string
}

func writeError(c *gin.Context, status int, code, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Pool statistics
// @Description Counts of pool entries by status
// @Tags pool
// @Produce json
// @Success 200 {object} pool.Stats
// @Router /api/pool/stats [get]
func (h *Handler) PoolStats(c *gin.Context) {
	stats, err := h.Pool.Stats(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to read pool stats", err.Error())
		return
	}
	c.JSON(http.StatusOK, stats)
}

// @Summary Diagnostics snapshot
// @Description Pool counts, health warnings, degradation level and recent errors
// @Tags diagnostics
// @Produce json
// @Success 200 {object} recovery.Diagnostics
// @Router /api/diagnostics [get]
func (h *Handler) Diagnostics(c *gin.Context) {
	diag, err := h.Recovery.Diagnose(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to build diagnostics", err.Error())
		return
	}
	c.JSON(http.StatusOK, diag)
}

// @Summary Active assignment policy
// @Tags policy
// @Produce json
// @Success 200 {object} models.AssignmentPolicy
// @Router /api/policy [get]
func (h *Handler) PolicyGet(c *gin.Context) {
	p, err := h.Policies.Load(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load policy", err.Error())
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary Update assignment policy
// @Description Partial update; weight fields only apply in CUSTOM mode
// @Tags policy
// @Accept json
// @Produce json
// @Param body body policy.Update true "policy changes"
// @Success 200 {object} models.AssignmentPolicy
// @Failure 400 {object} map[string]any
// @Router /api/policy [put]
func (h *Handler) PolicyUpdate(c *gin.Context) {
	var update policy.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Malformed policy update", err.Error())
		return
	}
	p, err := h.Policies.Update(c.Request.Context(), update)
	if err != nil {
		if errors.Is(err, policy.ErrInvalidPolicy) {
			writeError(c, http.StatusBadRequest, "INVALID_POLICY", "Policy validation failed", err.Error())
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to save policy", err.Error())
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary Run one scheduler tick now
// @Tags processing
// @Produce json
// @Success 200 {object} engine.TickSummary
// @Router /api/process [post]
func (h *Handler) Process(c *gin.Context) {
	summary := h.Supervisor.Tick(c.Request.Context())
	c.JSON(http.StatusOK, summary)
}

type enqueueRequest struct {
	BookingID int64 `json:"booking_id" validate:"required,gt=0"`
}

// @Summary Enqueue a booking for assignment
// @Description Pools the booking, or assigns immediately when it is inside the urgent threshold
// @Tags pool
// @Accept json
// @Produce json
// @Param body body enqueueRequest true "booking"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/pool/entries [post]
func (h *Handler) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Malformed request", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "booking_id required", err.Error())
		return
	}

	ctx := c.Request.Context()
	booking, err := h.Store.GetBooking(ctx, req.BookingID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Booking not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load booking", err.Error())
		return
	}
	if booking.InterpreterEmpCode != nil {
		writeError(c, http.StatusConflict, "ALREADY_ASSIGNED", "Booking already has an interpreter", nil)
		return
	}

	p, err := h.Policies.Load(ctx)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load policy", err.Error())
		return
	}

	now := time.Now().UTC()
	if policy.ImmediateFor(p, now, booking.StartAt) {
		result, err := h.Engine.RunBooking(ctx, booking.ID)
		if err != nil {
			if errors.Is(err, engine.ErrNoCandidates) {
				// No one is free right now; pool it so ticks keep trying.
				h.enqueuePooled(c, p, booking, now)
				return
			}
			writeError(c, http.StatusInternalServerError, "ASSIGNMENT_ERROR", "Immediate assignment failed", err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"pooled": false, "result": result})
		return
	}
	h.enqueuePooled(c, p, booking, now)
}

func (h *Handler) enqueuePooled(c *gin.Context, p models.AssignmentPolicy, booking models.Booking, now time.Time) {
	readyAt := policy.ReadyTimeFor(p, now, booking.StartAt)
	deadlineAt := policy.DeadlineFor(p, booking.StartAt)
	added, err := h.Pool.Add(c.Request.Context(), booking.ID, p.Mode, readyAt, deadlineAt)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to pool booking", err.Error())
		return
	}
	if !added {
		writeError(c, http.StatusConflict, "ALREADY_POOLED", "Booking already has a live pool entry", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pooled": true, "deadline_at": deadlineAt})
}

// @Summary Assign a booking now
// @Description Manual immediate assignment, bypassing the schedule
// @Tags processing
// @Produce json
// @Param id path int true "booking id"
// @Success 200 {object} models.BatchResult
// @Failure 404 {object} map[string]any
// @Failure 422 {object} map[string]any
// @Router /api/bookings/{id}/assign [post]
func (h *Handler) AssignBooking(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid booking id", nil)
		return
	}
	result, err := h.Engine.RunBooking(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Booking not found", nil)
		case errors.Is(err, engine.ErrNoCandidates):
			writeError(c, http.StatusUnprocessableEntity, "NO_CANDIDATES", "No eligible interpreter for this window", nil)
		default:
			writeError(c, http.StatusInternalServerError, "ASSIGNMENT_ERROR", "Assignment failed", err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Summary Ranked interpreter suggestions
// @Description Candidates with score breakdowns for manual override
// @Tags processing
// @Produce json
// @Param id path int true "booking id"
// @Param limit query int false "max suggestions"
// @Success 200 {array} models.Suggestion
// @Router /api/bookings/{id}/suggestions [get]
func (h *Handler) Suggestions(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid booking id", nil)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	suggestions, err := h.Engine.Suggest(c.Request.Context(), id, limit)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Booking not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "SUGGESTION_ERROR", "Failed to rank candidates", err.Error())
		return
	}
	c.JSON(http.StatusOK, suggestions)
}

// @Summary Requeue failed pool entries
// @Tags pool
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/pool/retry-failed [post]
func (h *Handler) RetryFailed(c *gin.Context) {
	n, err := h.Pool.RetryFailed(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to requeue entries", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"requeued": n})
}

// @Summary Reset a stuck processing entry
// @Tags pool
// @Produce json
// @Param id path int true "booking id"
// @Success 200 {object} map[string]any
// @Router /api/pool/{id}/reset [post]
func (h *Handler) ResetProcessing(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid booking id", nil)
		return
	}
	reset, err := h.Pool.ResetProcessing(c.Request.Context(), id)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to reset entry", err.Error())
		return
	}
	if !reset {
		writeError(c, http.StatusConflict, "NOT_PROCESSING", "Entry is not in processing state", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}
