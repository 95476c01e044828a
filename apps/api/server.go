package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/auth"
	"github.com/mahaj/dupahar-realtime/pkg/chat"
	"github.com/mahaj/dupahar-realtime/pkg/model"
	"github.com/mahaj/dupahar-realtime/pkg/objectstore"
	"github.com/mahaj/dupahar-realtime/pkg/store"
)

// Archive serves long-range history from the message archive.
type Archive interface {
	Page(ctx context.Context, conversationID string, before int64, limit int) ([]model.Message, error)
}

// OnlineLookup reports the online members of a conversation.
type OnlineLookup interface {
	OnlineIn(ctx context.Context, conversationID string) ([]string, error)
}

type Uploader interface {
	PresignUpload(ctx context.Context, userID, filename string, ttl time.Duration) (objectstore.Upload, error)
}

type server struct {
	chat    *chat.Service
	authn   *auth.Authenticator
	tokens  *auth.Verifier
	users   store.Users
	archive Archive
	online  OnlineLookup
	uploads Uploader
	log     *slog.Logger
}

func (s *server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), cors())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/login", s.login)

	authed := r.Group("/", auth.Middleware(s.authn))
	authed.GET("/history", s.history)
	authed.GET("/conversations", s.listConversations)
	authed.GET("/conversations/:id/online", s.onlineUsers)

	v1 := r.Group("/v1", auth.Middleware(s.authn))
	v1.GET("/conversations", s.listConversations)
	v1.GET("/conversations/:id", s.getConversation)
	v1.GET("/conversations/:id/members", s.listMembers)
	v1.POST("/conversations/:id/join", s.joinConversation)
	v1.POST("/conversations/:id/leave", s.leaveConversation)
	v1.DELETE("/conversations/:id/members/:userId", s.removeMember)
	v1.POST("/conversations/:id/invitations", s.invite)
	v1.POST("/invitations/:id/accept", s.acceptInvitation)
	v1.POST("/invitations/:id/decline", s.declineInvitation)

	v1.GET("/conversations/:id/messages", s.listMessages)
	v1.POST("/conversations/:id/messages", s.sendMessage)
	v1.PATCH("/messages/:id", s.editMessage)
	v1.DELETE("/messages/:id", s.deleteMessage)
	v1.GET("/messages/:id/reactions", s.listReactions)
	v1.POST("/messages/:id/reactions", s.toggleReaction)

	v1.POST("/conversations/:id/read", s.markRead)
	v1.GET("/conversations/:id/unread", s.unreadCount)
	v1.POST("/messages/:id/delivered", s.markDelivered)
	v1.GET("/messages/:id/receipts", s.receiptStats)

	v1.POST("/conversations/:id/moderation", s.moderate)
	v1.GET("/conversations/:id/moderation", s.moderationHistory)
	v1.GET("/conversations/:id/mute", s.activeMute)

	v1.GET("/notifications", s.listNotifications)
	v1.GET("/notifications/unread-count", s.unreadNotifications)
	v1.POST("/notifications/:id/read", s.markNotificationRead)
	v1.POST("/notifications/read-all", s.markAllNotificationsRead)

	v1.POST("/attachments", s.presignAttachment)
	return r
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, PATCH, DELETE")
		h.Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// fail is the single error adapter of the API.
func (s *server) fail(c *gin.Context, err error) {
	if chat.Unexpected(err) {
		s.log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(apperr.KindOf(err).HTTPStatus(), gin.H{"success": false, "error": apperr.Message(err)})
}

func (s *server) reply(c *gin.Context, status int, data any, err error) {
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(status, gin.H{"success": true, "data": data})
}

func userID(c *gin.Context) string {
	id, _ := auth.IdentityFrom(c.Request.Context())
	return id.ID
}

func bind[T any](c *gin.Context) (T, error) {
	var v T
	if err := c.ShouldBindJSON(&v); err != nil {
		return v, apperr.Validation("invalid request body: " + err.Error())
	}
	return v, nil
}

func paramID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation(name + " must be a positive integer")
	}
	return id, nil
}

func queryInt(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, apperr.Validation(name + " must be a non-negative integer")
	}
	return n, nil
}

type loginRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// login issues a development token, registering the user on first use.
func (s *server) login(c *gin.Context) {
	req, err := bind[loginRequest](c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if req.UserID == "" {
		s.fail(c, apperr.Validation("user_id is required"))
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.UserID
	}
	err = s.users.CreateUser(c.Request.Context(), model.Identity{ID: req.UserID, DisplayName: req.DisplayName, Status: model.StatusOffline, LastSeenAt: time.Now().UTC()})
	if err != nil && !errors.Is(err, apperr.ErrConflict) {
		s.fail(c, err)
		return
	}
	token, err := s.tokens.GenerateToken(req.UserID)
	if err != nil {
		s.fail(c, apperr.Internal(err))
		return
	}
	c.JSON(http.StatusOK, loginResponse{Token: token})
}
