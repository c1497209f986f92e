package activity

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edupulse/edupulse/internal/logging"
)

// Handler provides HTTP endpoints for recording and querying activity.
type Handler struct {
	tracker *Tracker
}

// NewHandler creates a new activity handler.
func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// RegisterRoutes sets up activity endpoints. mutating is the group
// that carries write authentication.
func (h *Handler) RegisterRoutes(r, mutating *gin.RouterGroup) {
	mutating.POST("/activity", h.Record)
	r.GET("/activity/:userID/summary", h.GetSummary)
	r.GET("/inactive", h.ListInactive)
}

// Record ingests one learning event.
// POST /v1/activity
func (h *Handler) Record(c *gin.Context) {
	var e Event
	if err := c.ShouldBindJSON(&e); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Malformed event payload",
		})
		return
	}

	if err := h.tracker.Track(c.Request.Context(), &e); err != nil {
		if errors.Is(err, ErrInvalidEvent) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
			return
		}
		logging.L(c.Request.Context()).Error("recording activity failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "record_failed",
			"message": "Unable to record activity",
		})
		return
	}
	c.JSON(http.StatusCreated, e)
}

// GetSummary returns a student's activity counts over a trailing
// window, 30 days by default.
func (h *Handler) GetSummary(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("userID"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid userID parameter",
		})
		return
	}
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))

	sum, err := h.tracker.Summary(c.Request.Context(), userID, days)
	if err != nil {
		logging.L(c.Request.Context()).Error("activity summary failed",
			"user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "summary_failed",
			"message": "Unable to build activity summary",
		})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// ListInactive returns students quiet for at least the given number
// of days, quietest first.
func (h *Handler) ListInactive(c *gin.Context) {
	var courseID int64
	if v := c.Query("courseId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid courseId parameter",
			})
			return
		}
		courseID = id
	}
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	students, err := h.tracker.Inactive(c.Request.Context(), courseID, days, limit, offset)
	if err != nil {
		logging.L(c.Request.Context()).Error("inactive listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Unable to list inactive students",
		})
		return
	}
	if students == nil {
		students = []InactiveStudent{}
	}
	c.JSON(http.StatusOK, gin.H{"students": students, "count": len(students)})
}
