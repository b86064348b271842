package rest

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sumire-games/nightdistrict/server/audit"
	"github.com/sumire-games/nightdistrict/server/game/player"
	"github.com/sumire-games/nightdistrict/server/game/world"
	mw "github.com/sumire-games/nightdistrict/server/middleware"
	"github.com/sumire-games/nightdistrict/server/model"
	"github.com/sumire-games/nightdistrict/server/resource"
	"github.com/sumire-games/nightdistrict/server/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db     *gorm.DB
	sm     *player.SessionManager
	wm     *world.Manager
	loader *resource.Loader
	sched  *scheduler.Scheduler
	audit  *audit.Service
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	db *gorm.DB,
	sm *player.SessionManager,
	wm *world.Manager,
	loader *resource.Loader,
	sched *scheduler.Scheduler,
	auditSvc *audit.Service,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{db: db, sm: sm, wm: wm, loader: loader, sched: sched, audit: auditSvc, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online_viewers":   h.sm.Count(),
		"active_districts": h.wm.ActiveRoomCount(),
		"loaded_districts": len(h.loader.Districts),
		"scheduler_tasks":  h.sched.ListTickers(),
	})
}

// ListViewers returns a snapshot of all connected viewers.
// GET /api/admin/viewers
func (h *AdminHandler) ListViewers(c *gin.Context) {
	sessions := h.sm.All()
	type viewerInfo struct {
		SessionID  string  `json:"session_id"`
		OperatorID int64   `json:"operator_id"`
		Name       string  `json:"name"`
		DistrictID int     `json:"district_id"`
		X          float64 `json:"x"`
		Y          float64 `json:"y"`
	}
	result := make([]viewerInfo, 0, len(sessions))
	for _, s := range sessions {
		x, y := s.Position()
		result = append(result, viewerInfo{
			SessionID:  s.SessionID,
			OperatorID: s.OperatorID,
			Name:       s.Name,
			DistrictID: s.District(),
			X:          x,
			Y:          y,
		})
	}
	c.JSON(http.StatusOK, gin.H{"viewers": result, "count": len(result)})
}

// ListDistricts returns every loaded district with its live status.
// GET /api/admin/districts
func (h *AdminHandler) ListDistricts(c *gin.Context) {
	type districtInfo struct {
		ID      int    `json:"id"`
		Name    string `json:"name"`
		Actors  int    `json:"actors"`
		Active  bool   `json:"active"`
		Viewers int    `json:"viewers"`
	}
	result := make([]districtInfo, 0, len(h.loader.Districts))
	for id, d := range h.loader.Districts {
		info := districtInfo{ID: id, Name: d.Name, Actors: len(d.Actors)}
		if room := h.wm.Get(id); room != nil {
			info.Active = true
			info.Viewers = room.ViewerCount()
		}
		result = append(result, info)
	}
	c.JSON(http.StatusOK, gin.H{"districts": result})
}

// ListActors returns the live actor snapshot of an active district.
// GET /api/admin/districts/:id/actors
func (h *AdminHandler) ListActors(c *gin.Context) {
	districtID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	room := h.wm.Get(districtID)
	if room == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "district not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actors": room.ActorSnapshot()})
}

type forceRouteRequest struct {
	ActorID       int                    `json:"actor_id" binding:"required"`
	Route         []resource.RouteRecord `json:"route" binding:"required"`
	FromBeginning bool                   `json:"from_beginning"`
}

// ForceRoute splices a route ahead of an actor's pattern from the admin API.
// POST /api/admin/districts/:id/force
func (h *AdminHandler) ForceRoute(c *gin.Context) {
	districtID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req forceRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room := h.wm.Get(districtID)
	if room == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "district not running"})
		return
	}

	start := time.Now()
	err = room.ForceRoute(req.ActorID, req.Route, req.FromBeginning)
	h.logAdminCommand(c, "admin_actor_force", districtID, req, err, time.Since(start))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ResetRoute cancels a forced route from the admin API.
// POST /api/admin/districts/:id/reset
func (h *AdminHandler) ResetRoute(c *gin.Context) {
	districtID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		ActorID int `json:"actor_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room := h.wm.Get(districtID)
	if room == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "district not running"})
		return
	}

	start := time.Now()
	err = room.ResetRoute(req.ActorID)
	h.logAdminCommand(c, "admin_actor_reset", districtID, req, err, time.Since(start))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ReloadDistrict re-reads a district file from disk and rebuilds its room.
// POST /api/admin/districts/:id/reload
func (h *AdminHandler) ReloadDistrict(c *gin.Context) {
	districtID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	path := filepath.Join(h.loader.DataPath, fmt.Sprintf("District%d.json", districtID))
	if _, err := h.loader.Reload(path); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	h.wm.Reload(districtID)
	h.logAdminCommand(c, "admin_district_reload", districtID, nil, nil, 0)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// KickViewer forcibly disconnects a viewer by session ID.
// POST /api/admin/kick/:session_id
func (h *AdminHandler) KickViewer(c *gin.Context) {
	sessionID := c.Param("session_id")
	s := h.sm.Get(sessionID)
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "viewer not online"})
		return
	}
	s.Close()
	h.logger.Info("admin kicked viewer", zap.String("session_id", sessionID))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// BanOperator bans or unbans an operator account.
// POST /api/admin/operators/:id/ban
func (h *AdminHandler) BanOperator(c *gin.Context) {
	operatorID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Ban bool `json:"ban"`
	}
	_ = c.ShouldBindJSON(&req)

	status := 1
	if req.Ban {
		status = 0
	}
	result := h.db.Model(&model.Operator{}).Where("id = ?", operatorID).Update("status", status)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "operator not found"})
		return
	}

	// Kick the operator's sessions if currently online.
	if req.Ban {
		for _, s := range h.sm.All() {
			if s.OperatorID == operatorID {
				s.Close()
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status})
}

// ListSchedulerTasks returns names of all registered ticker tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.ListTickers()})
}

// logAdminCommand records an admin mutation in the audit trail.
func (h *AdminHandler) logAdminCommand(c *gin.Context, action string, districtID int, req interface{}, err error, took time.Duration) {
	if h.audit == nil {
		return
	}
	entry := audit.AuditEntry{
		TraceID:    mw.GetTraceID(c),
		Action:     action,
		Request:    req,
		IP:         c.ClientIP(),
		DistrictID: districtID,
		DurationMs: int(took.Milliseconds()),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	h.audit.Log(entry)
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// WARNING: if adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be accidentally deployed without protection. Set a non-empty
// server.admin_key in config to enable admin routes.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
