package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/zulandar/costdesk/internal/catalog"
	"github.com/zulandar/costdesk/internal/chat"
	"github.com/zulandar/costdesk/internal/models"
	"github.com/zulandar/costdesk/internal/registry"
	"go.uber.org/zap"
)

// handlers holds what every route needs.
type handlers struct {
	reg *registry.Registry
	cat *catalog.Catalog
	log *zap.Logger
}

// registerRoutes sets up all routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/", h.index)
	router.GET("/healthz", h.health)

	api := router.Group("/api")
	api.GET("/catalog", h.catalog)
	api.POST("/sessions", h.createSession)
	api.GET("/sessions", h.listSessions)

	s := api.Group("/sessions/:key", h.lookup)
	s.GET("", h.snapshot)
	s.DELETE("", h.deleteSession)
	s.PUT("/input", h.setInput)
	s.POST("/submit", h.submit)
	s.POST("/messages", h.sendMessage)
	s.POST("/cards/:card", h.askCard)
	s.PUT("/view", h.setView)
	s.GET("/dashboard", h.dashboard)
	s.GET("/events", h.events)
}

// ctrlKey is the gin context key under which lookup stores the controller.
const ctrlKey = "costdesk.controller"

func errorJSON(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

func (h *handlers) index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{"Catalog": h.cat})
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": h.reg.Len()})
}

func (h *handlers) catalog(c *gin.Context) {
	c.JSON(http.StatusOK, h.cat)
}

func (h *handlers) createSession(c *gin.Context) {
	key := uuid.NewString()
	if _, _, err := h.reg.Open(key, models.SurfaceWeb); err != nil {
		h.log.Error("open session", zap.Error(err))
		if errors.Is(err, registry.ErrClosed) {
			errorJSON(c, http.StatusServiceUnavailable, "shutting down")
			return
		}
		errorJSON(c, http.StatusInternalServerError, "could not open session")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"key": key})
}

// sessionSummary is one row of the session listing.
type sessionSummary struct {
	Key          string    `json:"key"`
	Surface      string    `json:"surface"`
	SessionID    string    `json:"sessionId,omitempty"`
	ActiveView   string    `json:"activeView"`
	Busy         bool      `json:"busy"`
	Messages     int       `json:"messages"`
	LastActivity time.Time `json:"lastActivity"`
}

func (h *handlers) listSessions(c *gin.Context) {
	rows, err := h.reg.List(c.Request.Context())
	if err != nil {
		h.log.Error("list sessions", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "could not list sessions")
		return
	}
	out := make([]sessionSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, sessionSummary{
			Key:          r.Key,
			Surface:      r.Surface,
			SessionID:    r.BackendSessionID,
			ActiveView:   r.ActiveView,
			Busy:         r.Busy,
			Messages:     r.MessageCount,
			LastActivity: r.LastActivity,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// lookup resolves :key to a live controller or answers 404.
func (h *handlers) lookup(c *gin.Context) {
	ctrl, ok := h.reg.Get(c.Param("key"))
	if !ok {
		errorJSON(c, http.StatusNotFound, "session not found")
		return
	}
	c.Set(ctrlKey, ctrl)
	c.Next()
}

func controller(c *gin.Context) *chat.Controller {
	return c.MustGet(ctrlKey).(*chat.Controller)
}

func (h *handlers) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, controller(c).Snapshot())
}

func (h *handlers) deleteSession(c *gin.Context) {
	if err := h.reg.Close(c.Param("key")); err != nil && !errors.Is(err, registry.ErrNotFound) {
		h.log.Warn("close session", zap.String("session_key", c.Param("key")), zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

type textRequest struct {
	Text string `json:"text"`
}

func bindText(c *gin.Context) (string, bool) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "body must be {\"text\": string}")
		return "", false
	}
	return req.Text, true
}

func (h *handlers) setInput(c *gin.Context) {
	text, ok := bindText(c)
	if !ok {
		return
	}
	ctrl := controller(c)
	ctrl.SetInput(text)
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *handlers) submit(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accepted": controller(c).Submit()})
}

func (h *handlers) sendMessage(c *gin.Context) {
	text, ok := bindText(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": controller(c).Send(text)})
}

func (h *handlers) askCard(c *gin.Context) {
	card, ok := h.cat.Card(c.Param("card"))
	if !ok {
		errorJSON(c, http.StatusNotFound, "card not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": controller(c).AskFromCard(card.Question)})
}

type viewRequest struct {
	View string `json:"view"`
}

func (h *handlers) setView(c *gin.Context) {
	var req viewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "body must be {\"view\": string}")
		return
	}
	v, err := chat.ParseView(req.View)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	ctrl := controller(c)
	ctrl.SetView(v)
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

// dashboardResponse reports dashboard data for the presentation layer.
type dashboardResponse struct {
	Available bool            `json:"available"`
	Loading   bool            `json:"loading"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (h *handlers) dashboard(c *gin.Context) {
	d := controller(c).Snapshot().Dashboard
	c.JSON(http.StatusOK, dashboardResponse{
		Available: d.Available(),
		Loading:   d.Loading,
		Data:      d.Data,
	})
}
