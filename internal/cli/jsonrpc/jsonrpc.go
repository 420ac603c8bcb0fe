// Package jsonrpc exposes the orchestrator's command surface as a small
// JSON-RPC-flavored HTTP API, matching the configuration surface's
// "enable JSON-RPC CLI" toggle.
package jsonrpc

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/syncbeam/slimproto/internal/slimproto/session"
)

// Commands is the subset of *orchestrator.Orchestrator this surface
// drives; kept as an interface so the HTTP layer doesn't need the
// orchestrator's full collaborator wiring to be testable in isolation.
type Commands interface {
	PlayURL(ctx context.Context, id string, opts session.PlayURLOptions) error
	Stop(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Power(ctx context.Context, id string, on bool) error
	VolumeSet(ctx context.Context, id string, vol int) error
	Mute(ctx context.Context, id string, on bool) error
	Sync(ctx context.Context, childID, leaderID string) error
	Unsync(ctx context.Context, childID string) error
	PlayPreset(ctx context.Context, id string, index int) error
	SetSyncOffset(ctx context.Context, id string, offsetMS int) error
}

// Server wraps a gin.Engine serving the JSON-RPC command surface.
type Server struct {
	engine *gin.Engine
	log    *slog.Logger
}

// New builds a Server. cmds is the orchestrator facade driving every
// handler; log receives one structured line per request.
func New(cmds Commands, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	s := &Server{engine: engine, log: log}
	s.routes(cmds)
	return s
}

// Handler returns the underlying http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

type playRequest struct {
	PlayerID            string `json:"player_id" binding:"required"`
	URL                 string `json:"url" binding:"required"`
	MimeType            string `json:"mime_type"`
	Codec               string `json:"codec"`
	Flush               bool   `json:"flush"`
	Crossfade           bool   `json:"crossfade"`
	TransitionDurationS int    `json:"transition_duration_s"`
	Autostart           bool   `json:"autostart"`
}

type playerIDRequest struct {
	PlayerID string `json:"player_id" binding:"required"`
}

type toggleRequest struct {
	PlayerID string `json:"player_id" binding:"required"`
	On       bool   `json:"on"`
}

type volumeRequest struct {
	PlayerID string `json:"player_id" binding:"required"`
	Volume   int    `json:"volume"`
}

type syncRequest struct {
	ChildID  string `json:"child_id" binding:"required"`
	LeaderID string `json:"leader_id" binding:"required"`
}

type presetRequest struct {
	PlayerID string `json:"player_id" binding:"required"`
	Index    int    `json:"index"`
}

type syncOffsetRequest struct {
	PlayerID string `json:"player_id" binding:"required"`
	OffsetMS int    `json:"offset_ms"`
}

func (s *Server) routes(cmds Commands) {
	s.engine.POST("/rpc/play_url", func(c *gin.Context) {
		var req playRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		transition := session.TransitionNone
		if req.Crossfade {
			transition = session.TransitionCrossfade
		}
		err := cmds.PlayURL(c.Request.Context(), req.PlayerID, session.PlayURLOptions{
			URL:                 req.URL,
			MimeType:            req.MimeType,
			Codec:               req.Codec,
			Flush:               req.Flush,
			Transition:          transition,
			TransitionDurationS: req.TransitionDurationS,
			Autostart:           req.Autostart,
		})
		respond(c, s.log, err)
	})

	s.engine.POST("/rpc/stop", simplePlayerHandler(cmds.Stop, s.log))
	s.engine.POST("/rpc/pause", simplePlayerHandler(cmds.Pause, s.log))
	s.engine.POST("/rpc/resume", simplePlayerHandler(cmds.Resume, s.log))

	s.engine.POST("/rpc/power", func(c *gin.Context) {
		var req toggleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respond(c, s.log, cmds.Power(c.Request.Context(), req.PlayerID, req.On))
	})

	s.engine.POST("/rpc/mute", func(c *gin.Context) {
		var req toggleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respond(c, s.log, cmds.Mute(c.Request.Context(), req.PlayerID, req.On))
	})

	s.engine.POST("/rpc/volume", func(c *gin.Context) {
		var req volumeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respond(c, s.log, cmds.VolumeSet(c.Request.Context(), req.PlayerID, req.Volume))
	})

	s.engine.POST("/rpc/sync", func(c *gin.Context) {
		var req syncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respond(c, s.log, cmds.Sync(c.Request.Context(), req.ChildID, req.LeaderID))
	})

	s.engine.POST("/rpc/unsync", simplePlayerHandler(cmds.Unsync, s.log))

	s.engine.POST("/rpc/play_preset", func(c *gin.Context) {
		var req presetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respond(c, s.log, cmds.PlayPreset(c.Request.Context(), req.PlayerID, req.Index))
	})

	s.engine.POST("/rpc/set_sync_offset", func(c *gin.Context) {
		var req syncOffsetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respond(c, s.log, cmds.SetSyncOffset(c.Request.Context(), req.PlayerID, req.OffsetMS))
	})
}

func simplePlayerHandler(fn func(ctx context.Context, id string) error, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req playerIDRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respond(c, log, fn(c.Request.Context(), req.PlayerID))
	}
}

func respond(c *gin.Context, log *slog.Logger, err error) {
	if err != nil {
		if log != nil {
			log.Warn("rpc command failed", "err", err)
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
