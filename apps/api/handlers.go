package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/chat"
	"github.com/mahaj/dupahar-realtime/pkg/conversation"
	"github.com/mahaj/dupahar-realtime/pkg/db"
	"github.com/mahaj/dupahar-realtime/pkg/moderation"
)

const uploadTTL = 15 * time.Minute

// history serves a conversation's messages newest first. The archive is
// preferred when configured; membership is always checked against the
// primary store first.
func (s *server) history(c *gin.Context) {
	ctx := c.Request.Context()
	convID := c.Query("conversation_id")
	if convID == "" {
		s.fail(c, apperr.Validation("conversation_id is required"))
		return
	}
	before, err := queryInt(c, "before")
	if err != nil {
		s.fail(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	if _, _, err := s.chat.Conversation(ctx, userID(c), convID); err != nil {
		s.fail(c, err)
		return
	}
	if s.archive != nil {
		msgs, err := s.archive.Page(ctx, convID, before, db.ClampLimit(limit))
		if err == nil {
			s.reply(c, http.StatusOK, msgs, nil)
			return
		}
		s.log.Warn("archive read failed, using primary store", "conversation", convID, "error", err)
	}
	msgs, err := s.chat.Messages(ctx, userID(c), convID, before, limit)
	s.reply(c, http.StatusOK, msgs, err)
}

func (s *server) onlineUsers(c *gin.Context) {
	ctx := c.Request.Context()
	convID := c.Param("id")
	if _, _, err := s.chat.Conversation(ctx, userID(c), convID); err != nil {
		s.fail(c, err)
		return
	}
	if s.online == nil {
		s.fail(c, apperr.NotImplemented("presence cache not configured"))
		return
	}
	users, err := s.online.OnlineIn(ctx, convID)
	if err != nil {
		s.fail(c, apperr.Internal(err))
		return
	}
	s.reply(c, http.StatusOK, users, nil)
}

// Conversations and membership

func (s *server) listConversations(c *gin.Context) {
	list, err := s.chat.ListConversations(c.Request.Context(), userID(c))
	s.reply(c, http.StatusOK, list, err)
}

type conversationView struct {
	Conversation any `json:"conversation"`
	Membership   any `json:"membership"`
}

func (s *server) getConversation(c *gin.Context) {
	conv, m, err := s.chat.Conversation(c.Request.Context(), userID(c), c.Param("id"))
	s.reply(c, http.StatusOK, conversationView{Conversation: conv, Membership: m}, err)
}

func (s *server) listMembers(c *gin.Context) {
	members, err := s.chat.Members(c.Request.Context(), userID(c), c.Param("id"))
	s.reply(c, http.StatusOK, members, err)
}

func (s *server) joinConversation(c *gin.Context) {
	m, err := s.chat.JoinPublic(c.Request.Context(), userID(c), c.Param("id"))
	s.reply(c, http.StatusCreated, m, err)
}

func (s *server) leaveConversation(c *gin.Context) {
	err := s.chat.Leave(c.Request.Context(), userID(c), c.Param("id"))
	s.reply(c, http.StatusOK, nil, err)
}

func (s *server) removeMember(c *gin.Context) {
	err := s.chat.RemoveMember(c.Request.Context(), userID(c), c.Param("id"), c.Param("userId"))
	s.reply(c, http.StatusOK, nil, err)
}

type inviteRequest struct {
	RecipientID string     `json:"recipientId"`
	ExpiresAt   *time.Time `json:"expiresAt"`
}

func (s *server) invite(c *gin.Context) {
	req, err := bind[inviteRequest](c)
	if err != nil {
		s.fail(c, err)
		return
	}
	inv, err := s.chat.Invite(c.Request.Context(), userID(c), c.Param("id"), req.RecipientID, req.ExpiresAt)
	s.reply(c, http.StatusCreated, inv, err)
}

func (s *server) acceptInvitation(c *gin.Context) {
	m, err := s.chat.AcceptInvitation(c.Request.Context(), userID(c), c.Param("id"))
	s.reply(c, http.StatusOK, m, err)
}

func (s *server) declineInvitation(c *gin.Context) {
	err := s.chat.DeclineInvitation(c.Request.Context(), userID(c), c.Param("id"))
	s.reply(c, http.StatusOK, nil, err)
}

// Messages

func (s *server) listMessages(c *gin.Context) {
	before, err := queryInt(c, "before")
	if err != nil {
		s.fail(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	msgs, err := s.chat.Messages(c.Request.Context(), userID(c), c.Param("id"), before, limit)
	s.reply(c, http.StatusOK, msgs, err)
}

func (s *server) sendMessage(c *gin.Context) {
	in, err := bind[conversation.SendInput](c)
	if err != nil {
		s.fail(c, err)
		return
	}
	in.ConversationID = c.Param("id")
	msg, err := s.chat.SendMessage(c.Request.Context(), userID(c), in)
	s.reply(c, http.StatusCreated, msg, err)
}

type editRequest struct {
	Text string `json:"text"`
}

func (s *server) editMessage(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	req, err := bind[editRequest](c)
	if err != nil {
		s.fail(c, err)
		return
	}
	msg, err := s.chat.EditMessage(c.Request.Context(), userID(c), id, req.Text)
	s.reply(c, http.StatusOK, msg, err)
}

func (s *server) deleteMessage(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	msg, err := s.chat.DeleteMessage(c.Request.Context(), userID(c), id)
	s.reply(c, http.StatusOK, msg, err)
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

func (s *server) toggleReaction(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	req, err := bind[reactionRequest](c)
	if err != nil {
		s.fail(c, err)
		return
	}
	res, err := s.chat.ToggleReaction(c.Request.Context(), userID(c), id, req.Emoji)
	s.reply(c, http.StatusOK, res, err)
}

func (s *server) listReactions(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	groups, err := s.chat.Reactions(c.Request.Context(), userID(c), id)
	s.reply(c, http.StatusOK, groups, err)
}

// Receipts

type readRequest struct {
	UpToMessageID int64 `json:"upToMessageId"`
}

func (s *server) markRead(c *gin.Context) {
	var req readRequest
	if c.Request.ContentLength != 0 {
		var err error
		if req, err = bind[readRequest](c); err != nil {
			s.fail(c, err)
			return
		}
	}
	res, err := s.chat.MarkRead(c.Request.Context(), userID(c), c.Param("id"), req.UpToMessageID)
	s.reply(c, http.StatusOK, res, err)
}

func (s *server) unreadCount(c *gin.Context) {
	n, err := s.chat.UnreadMessages(c.Request.Context(), userID(c), c.Param("id"))
	s.reply(c, http.StatusOK, chat.Count{Count: n}, err)
}

func (s *server) markDelivered(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	up, err := s.chat.MarkDelivered(c.Request.Context(), userID(c), id, c.Query("conversation_id"))
	s.reply(c, http.StatusOK, up, err)
}

func (s *server) receiptStats(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		s.fail(c, err)
		return
	}
	st, err := s.chat.ReceiptStats(c.Request.Context(), userID(c), id)
	s.reply(c, http.StatusOK, st, err)
}

// Moderation

func (s *server) moderate(c *gin.Context) {
	req, err := bind[moderation.Request](c)
	if err != nil {
		s.fail(c, err)
		return
	}
	req.ConversationID = c.Param("id")
	out, err := s.chat.Moderate(c.Request.Context(), userID(c), req)
	s.reply(c, http.StatusOK, out, err)
}

func (s *server) moderationHistory(c *gin.Context) {
	actions, err := s.chat.ModerationHistory(c.Request.Context(), userID(c), c.Param("id"))
	s.reply(c, http.StatusOK, actions, err)
}

func (s *server) activeMute(c *gin.Context) {
	mute, err := s.chat.ActiveMute(c.Request.Context(), userID(c), c.Param("id"))
	s.reply(c, http.StatusOK, mute, err)
}

// Notifications

func (s *server) listNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := s.chat.Notifications(c.Request.Context(), userID(c), limit)
	s.reply(c, http.StatusOK, list, err)
}

func (s *server) unreadNotifications(c *gin.Context) {
	n, err := s.chat.UnreadNotifications(c.Request.Context(), userID(c))
	s.reply(c, http.StatusOK, chat.Count{Count: n}, err)
}

func (s *server) markNotificationRead(c *gin.Context) {
	n, err := s.chat.MarkNotificationRead(c.Request.Context(), userID(c), c.Param("id"))
	s.reply(c, http.StatusOK, chat.Count{Count: n}, err)
}

func (s *server) markAllNotificationsRead(c *gin.Context) {
	n, err := s.chat.MarkAllNotificationsRead(c.Request.Context(), userID(c))
	s.reply(c, http.StatusOK, gin.H{"updated": n}, err)
}

// Attachments

type presignRequest struct {
	Filename string `json:"filename"`
}

func (s *server) presignAttachment(c *gin.Context) {
	if s.uploads == nil {
		s.fail(c, apperr.NotImplemented("attachments are not enabled"))
		return
	}
	req, err := bind[presignRequest](c)
	if err != nil {
		s.fail(c, err)
		return
	}
	up, err := s.uploads.PresignUpload(c.Request.Context(), userID(c), req.Filename, uploadTTL)
	s.reply(c, http.StatusCreated, up, err)
}
