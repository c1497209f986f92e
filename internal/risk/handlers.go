package risk

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edupulse/edupulse/internal/cache"
	"github.com/edupulse/edupulse/internal/logging"
)

// Handler provides HTTP endpoints for risk scores.
type Handler struct {
	engine  *Engine
	store   Store
	cache   cache.Cache
	listTTL time.Duration
}

// NewHandler creates a new risk handler.
func NewHandler(engine *Engine, store Store) *Handler {
	return &Handler{engine: engine, store: store, listTTL: 30 * time.Minute}
}

// WithListCache enables caching of at-risk listings.
func (h *Handler) WithListCache(c cache.Cache, ttl time.Duration) *Handler {
	h.cache = c
	if ttl > 0 {
		h.listTTL = ttl
	}
	return h
}

// RegisterRoutes sets up risk endpoints. mutating is the group that
// carries write authentication.
func (h *Handler) RegisterRoutes(r, mutating *gin.RouterGroup) {
	r.GET("/risk/:userID/:courseID", h.GetRisk)
	r.GET("/at-risk", h.ListAtRisk)
	mutating.POST("/risk/:userID/:courseID/recalculate", h.Recalculate)
	mutating.POST("/risk/batch", h.CalculateBatch)
}

// GetRisk returns the risk snapshot for one student in one course,
// computing it on demand when no cached value exists.
func (h *Handler) GetRisk(c *gin.Context) {
	userID, courseID, ok := pathIDs(c)
	if !ok {
		return
	}

	r, err := h.engine.Calculate(c.Request.Context(), userID, courseID)
	if err != nil {
		logging.L(c.Request.Context()).Error("risk calculation failed",
			"user_id", userID, "course_id", courseID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "calculation_failed",
			"message": "Unable to calculate risk score",
		})
		return
	}
	c.JSON(http.StatusOK, r)
}

// Recalculate forces a fresh calculation, bypassing the cache.
func (h *Handler) Recalculate(c *gin.Context) {
	userID, courseID, ok := pathIDs(c)
	if !ok {
		return
	}

	r, err := h.engine.Recalculate(c.Request.Context(), userID, courseID)
	if err != nil {
		logging.L(c.Request.Context()).Error("risk recalculation failed",
			"user_id", userID, "course_id", courseID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "calculation_failed",
			"message": "Unable to recalculate risk score",
		})
		return
	}
	c.JSON(http.StatusOK, r)
}

// BatchRequest asks for scores of several students in one course.
type BatchRequest struct {
	CourseID int64   `json:"courseId"`
	UserIDs  []int64 `json:"userIds"`
}

// CalculateBatch returns risk snapshots for multiple students.
// POST /v1/risk/batch
func (h *Handler) CalculateBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'courseId' and 'userIds'",
		})
		return
	}
	if req.CourseID <= 0 || len(req.UserIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "A positive courseId and at least one user ID are required",
		})
		return
	}
	if len(req.UserIDs) > 500 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "At most 500 user IDs per batch",
		})
		return
	}

	results, err := h.engine.CalculateBatch(c.Request.Context(), req.CourseID, req.UserIDs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// ListAtRisk returns stored snapshots above the score floor, most
// severe first. Listings are cached briefly since registrars poll
// them from dashboards.
func (h *Handler) ListAtRisk(c *gin.Context) {
	f := ListFilter{}
	if v := c.Query("courseId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			badParam(c, "courseId")
			return
		}
		f.CourseID = id
	}
	if v := c.Query("level"); v != "" {
		if !ValidLevel(v) {
			badParam(c, "level")
			return
		}
		f.Level = Level(v)
	}
	if v := c.Query("minScore"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			badParam(c, "minScore")
			return
		}
		f.MinScore = n
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	f = f.normalized()

	ctx := c.Request.Context()
	key := cache.AtRiskListKey(map[string]string{
		"course":   strconv.FormatInt(f.CourseID, 10),
		"level":    string(f.Level),
		"minScore": strconv.Itoa(f.MinScore),
		"limit":    strconv.Itoa(f.Limit),
		"offset":   strconv.Itoa(f.Offset),
	})

	if h.cache != nil {
		if b, ok := h.cache.Get(ctx, key); ok {
			c.Data(http.StatusOK, "application/json; charset=utf-8", b)
			return
		}
	}

	students, err := h.store.ListAtRisk(ctx, f)
	if err != nil {
		logging.L(ctx).Error("at-risk listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Unable to list at-risk students",
		})
		return
	}
	total, err := h.store.CountAtRisk(ctx, f)
	if err != nil {
		logging.L(ctx).Error("at-risk count failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Unable to list at-risk students",
		})
		return
	}
	if students == nil {
		students = []*Result{}
	}

	resp := gin.H{
		"students": students,
		"total":    total,
		"limit":    f.Limit,
		"offset":   f.Offset,
	}
	if h.cache != nil {
		if b, err := json.Marshal(resp); err == nil {
			if err := h.cache.Set(ctx, key, b, h.listTTL); err != nil {
				logging.L(ctx).Warn("caching at-risk listing failed", "error", err)
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

func pathIDs(c *gin.Context) (userID, courseID int64, ok bool) {
	userID, err := strconv.ParseInt(c.Param("userID"), 10, 64)
	if err != nil || userID <= 0 {
		badParam(c, "userID")
		return 0, 0, false
	}
	courseID, err = strconv.ParseInt(c.Param("courseID"), 10, 64)
	if err != nil || courseID <= 0 {
		badParam(c, "courseID")
		return 0, 0, false
	}
	return userID, courseID, true
}

func badParam(c *gin.Context, name string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": "Invalid " + name + " parameter",
	})
}
