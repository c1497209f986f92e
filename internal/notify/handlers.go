package notify

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edupulse/edupulse/internal/idgen"
)

// Handler provides HTTP endpoints for webhook management.
type Handler struct {
	store    Store
	urlCheck func(string) error
}

// NewHandler creates a new webhook handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// WithURLCheck adds an extra endpoint URL check on registration,
// typically an SSRF guard. Applied after the scheme check.
func (h *Handler) WithURLCheck(fn func(string) error) *Handler {
	h.urlCheck = fn
	return h
}

// RegisterRoutes sets up webhook routes on the authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.Create)
	r.GET("/webhooks", h.List)
	r.DELETE("/webhooks/:webhookID", h.Delete)
}

// CreateRequest registers a webhook subscription.
type CreateRequest struct {
	URL      string   `json:"url" binding:"required"`
	Events   []string `json:"events" binding:"required"`
	CourseID int64    `json:"courseId"`
}

// Create handles POST /v1/webhooks.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'url' and 'events'",
		})
		return
	}

	if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "URL must be http or https",
		})
		return
	}
	if h.urlCheck != nil {
		if err := h.urlCheck(req.URL); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "URL rejected: " + err.Error(),
			})
			return
		}
	}

	events := make([]EventType, 0, len(req.Events))
	for _, e := range req.Events {
		if !ValidEventType(e) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Unknown event type: " + e,
			})
			return
		}
		events = append(events, EventType(e))
	}

	secret := idgen.Hex(32)
	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		URL:       req.URL,
		Secret:    secret,
		Events:    events,
		CourseID:  req.CourseID,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create webhook",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": sub,
		"secret":  secret, // Only shown once.
		"usage": gin.H{
			"signature": "Verify with HMAC-SHA256(payload, secret)",
			"header":    "X-EduPulse-Signature",
		},
	})
}

// List handles GET /v1/webhooks.
func (h *Handler) List(c *gin.Context) {
	subs, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list webhooks",
		})
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": subs})
}

// Delete handles DELETE /v1/webhooks/:webhookID.
func (h *Handler) Delete(c *gin.Context) {
	id := c.Param("webhookID")
	if _, err := h.store.Get(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Webhook not found",
			})
			return
		}
	}
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete webhook",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
