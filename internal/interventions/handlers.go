package interventions

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edupulse/edupulse/internal/logging"
)

// Handler provides HTTP endpoints for interventions.
type Handler struct {
	svc *Service
}

// NewHandler creates a new intervention handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up intervention endpoints. mutating is the
// group that carries write authentication.
func (h *Handler) RegisterRoutes(r, mutating *gin.RouterGroup) {
	mutating.POST("/interventions", h.Log)
	mutating.PATCH("/interventions/:id/status", h.Advance)
	r.GET("/interventions", h.List)
	// "stats" and "pending" share the :id segment; gin's router does
	// not allow static siblings of a wildcard.
	r.GET("/interventions/:id", func(c *gin.Context) {
		switch c.Param("id") {
		case "stats":
			h.Stats(c)
		case "pending":
			h.Pending(c)
		default:
			h.Get(c)
		}
	})
}

// Log records a new outreach attempt.
// POST /v1/interventions
func (h *Handler) Log(c *gin.Context) {
	var iv Intervention
	if err := c.ShouldBindJSON(&iv); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Malformed intervention payload",
		})
		return
	}

	if err := h.svc.Log(c.Request.Context(), &iv); err != nil {
		if errors.Is(err, ErrInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
			return
		}
		logging.L(c.Request.Context()).Error("logging intervention failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "log_failed",
			"message": "Unable to log intervention",
		})
		return
	}
	c.JSON(http.StatusCreated, iv)
}

// Get fetches one intervention.
func (h *Handler) Get(c *gin.Context) {
	iv, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Intervention not found",
			})
			return
		}
		logging.L(c.Request.Context()).Error("fetching intervention failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "fetch_failed",
			"message": "Unable to fetch intervention",
		})
		return
	}
	c.JSON(http.StatusOK, iv)
}

type statusRequest struct {
	Status string `json:"status"`
}

// Advance updates an intervention's status.
// PATCH /v1/interventions/:id/status
func (h *Handler) Advance(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'status'",
		})
		return
	}

	iv, err := h.svc.Advance(c.Request.Context(), c.Param("id"), Status(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Intervention not found",
			})
		case errors.Is(err, ErrInvalid):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		default:
			logging.L(c.Request.Context()).Error("advancing intervention failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "update_failed",
				"message": "Unable to update intervention",
			})
		}
		return
	}
	c.JSON(http.StatusOK, iv)
}

// List returns interventions, newest first.
func (h *Handler) List(c *gin.Context) {
	f := ListFilter{}
	if v := c.Query("userId"); v != "" {
		f.UserID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := c.Query("courseId"); v != "" {
		f.CourseID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := c.Query("status"); v != "" {
		if !ValidStatus(v) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid status parameter",
			})
			return
		}
		f.Status = Status(v)
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		logging.L(c.Request.Context()).Error("listing interventions failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Unable to list interventions",
		})
		return
	}
	if items == nil {
		items = []*Intervention{}
	}
	c.JSON(http.StatusOK, gin.H{"interventions": items, "count": len(items)})
}

// Stats summarizes intervention outcomes.
// GET /v1/interventions/stats?courseId=&days=30
func (h *Handler) Stats(c *gin.Context) {
	var courseID int64
	if v := c.Query("courseId"); v != "" {
		courseID, _ = strconv.ParseInt(v, 10, 64)
	}
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))

	stats, err := h.svc.Stats(c.Request.Context(), courseID, days)
	if err != nil {
		logging.L(c.Request.Context()).Error("intervention stats failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "stats_failed",
			"message": "Unable to build intervention stats",
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Pending lists interventions still awaiting an outcome.
func (h *Handler) Pending(c *gin.Context) {
	var courseID int64
	if v := c.Query("courseId"); v != "" {
		courseID, _ = strconv.ParseInt(v, 10, 64)
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	items, err := h.svc.Pending(c.Request.Context(), courseID, limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("pending interventions failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Unable to list pending interventions",
		})
		return
	}
	if items == nil {
		items = []*Intervention{}
	}
	c.JSON(http.StatusOK, gin.H{"interventions": items, "count": len(items)})
}
