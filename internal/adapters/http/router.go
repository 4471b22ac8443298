package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/dkeye/meet/internal/app"
	"github.com/dkeye/meet/internal/app/media"
	"github.com/dkeye/meet/internal/app/orch"
	"github.com/dkeye/meet/internal/config"
	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Session is the part of a room session the view API drives.
type Session interface {
	RoomSnapshot() app.RoomSnapshot
	ChatSnapshot() app.ChatSnapshot
	OnRoom(func(app.RoomSnapshot)) (unsubscribe func())
	OnChat(func(app.ChatSnapshot)) (unsubscribe func())

	SendChat(content string, recipient domain.ParticipantID) (domain.ChatMessage, error)
	SetChatOpen(open bool) error
	MarkChatRead() error
	SetAudio(enabled bool) error
	SetVideo(enabled bool) error
	StartScreenShare(ctx context.Context) error
	StopScreenShare() error
	Leave() error
}

// StatusFeed reports the signaling connection status.
type StatusFeed interface {
	Status() core.ConnectionStatus
	OnStatus(func(core.ConnectionStatus)) (unsubscribe func())
}

type roomView struct {
	app.RoomSnapshot
	Status core.ConnectionStatus `json:"status"`
}

type chatRequest struct {
	Content     string `json:"content" binding:"required,max=4000"`
	RecipientID string `json:"recipientId" binding:"omitempty,max=64"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type visibilityRequest struct {
	Open *bool `json:"open" binding:"required"`
}

// SetupRouter exposes the session view under /api. leave is called after a
// successful POST /api/leave; it may be nil.
func SetupRouter(cfg *config.Config, sess Session, status StatusFeed, leave func()) *gin.Engine {
	if cfg.Mode == config.ModeProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == config.ModeDevelopment {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	log.Info().Str("module", "adapters.http").Str("room", cfg.Room).Msg("router setup")

	api := r.Group("/api")

	api.GET("/room", func(c *gin.Context) {
		c.JSON(http.StatusOK, roomView{RoomSnapshot: sess.RoomSnapshot(), Status: status.Status()})
	})

	api.GET("/chat", func(c *gin.Context) {
		c.JSON(http.StatusOK, sess.ChatSnapshot())
	})

	api.POST("/chat", func(c *gin.Context) {
		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		m, err := sess.SendChat(req.Content, domain.ParticipantID(req.RecipientID))
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusCreated, m)
	})

	api.POST("/chat/read", func(c *gin.Context) {
		if err := sess.MarkChatRead(); err != nil {
			abort(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.POST("/chat/visibility", func(c *gin.Context) {
		var req visibilityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := sess.SetChatOpen(*req.Open); err != nil {
			abort(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.POST("/media/audio", toggle(sess.SetAudio))
	api.POST("/media/video", toggle(sess.SetVideo))

	api.POST("/screen", func(c *gin.Context) {
		if err := sess.StartScreenShare(c.Request.Context()); err != nil {
			abort(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.DELETE("/screen", func(c *gin.Context) {
		if err := sess.StopScreenShare(); err != nil {
			abort(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.POST("/leave", func(c *gin.Context) {
		if err := sess.Leave(); err != nil {
			abort(c, err)
			return
		}
		log.Info().Str("module", "adapters.http").Msg("leave requested")
		if leave != nil {
			leave()
		}
		c.Status(http.StatusNoContent)
	})

	api.GET("/events", func(c *gin.Context) {
		f := newFeed()
		f.put("status", gin.H{"status": status.Status()})
		f.put("room", sess.RoomSnapshot())
		f.put("chat", sess.ChatSnapshot())

		unsubs := []func(){
			sess.OnRoom(func(s app.RoomSnapshot) { f.put("room", s) }),
			sess.OnChat(func(s app.ChatSnapshot) { f.put("chat", s) }),
			status.OnStatus(func(s core.ConnectionStatus) { f.put("status", gin.H{"status": s}) }),
		}
		defer func() {
			for _, unsubscribe := range unsubs {
				unsubscribe()
			}
		}()

		log.Debug().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("event stream opened")
		ctx := c.Request.Context()
		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case <-f.ready():
			}
			for _, ev := range f.take() {
				c.SSEvent(ev.name, ev.data)
			}
			return true
		})
	})

	return r
}

func toggle(set func(bool) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req toggleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := set(*req.Enabled); err != nil {
			abort(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func abort(c *gin.Context, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		log.Error().Str("module", "adapters.http").Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, orch.ErrNotJoined), errors.Is(err, media.ErrNotSharing):
		return http.StatusConflict
	case errors.Is(err, app.ErrChatNotAllowed),
		errors.Is(err, app.ErrScreenShareNotAllowed),
		errors.Is(err, orch.ErrAudioNotAllowed),
		errors.Is(err, orch.ErrVideoNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, orch.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrChatContentEmpty),
		errors.Is(err, domain.ErrChatContentTooLong),
		errors.Is(err, domain.ErrChatRecipient):
		return http.StatusBadRequest
	case errors.Is(err, orch.ErrUnavailable), errors.Is(err, core.ErrMediaDenied):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
