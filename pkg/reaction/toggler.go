// Package reaction toggles emoji reactions on messages.
package reaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/model"
)

const maxEmojiLen = 64

type Action string

const (
	Added   Action = "added"
	Removed Action = "removed"
)

type Store interface {
	GetMessage(ctx context.Context, id int64) (model.Message, error)
	GetReaction(ctx context.Context, messageID int64, userID, emoji string) (model.Reaction, error)
	CreateReaction(ctx context.Context, r model.Reaction) error
	DeleteReaction(ctx context.Context, messageID int64, userID, emoji string) error
	ListReactions(ctx context.Context, messageID int64) ([]model.Reaction, error)
}

// Result is the outcome of a toggle and doubles as the reaction:updated
// payload.
type Result struct {
	ConversationID string `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
	AuthorID       string `json:"-"`
	Emoji          string `json:"emoji"`
	UserID         string `json:"userId"`
	Action         Action `json:"action"`
}

// Group is one emoji with the users who reacted with it.
type Group struct {
	Emoji   string   `json:"emoji"`
	UserIDs []string `json:"userIds"`
}

type Toggler struct {
	store Store
}

func NewToggler(store Store) *Toggler {
	return &Toggler{store: store}
}

// Toggle adds the (user, message, emoji) reaction if absent and removes it
// if present.
func (t *Toggler) Toggle(ctx context.Context, userID string, messageID int64, emoji string) (Result, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiLen {
		return Result{}, apperr.Validation("emoji is required")
	}
	msg, err := t.store.GetMessage(ctx, messageID)
	if err != nil {
		return Result{}, err
	}
	if msg.Deleted() {
		return Result{}, apperr.Validation("cannot react to a deleted message")
	}
	res := Result{ConversationID: msg.ConversationID, MessageID: messageID, AuthorID: msg.AuthorID, Emoji: emoji, UserID: userID}

	_, err = t.store.GetReaction(ctx, messageID, userID, emoji)
	switch {
	case err == nil:
		if err := t.store.DeleteReaction(ctx, messageID, userID, emoji); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return Result{}, fmt.Errorf("delete reaction: %w", err)
		}
		res.Action = Removed
	case errors.Is(err, apperr.ErrNotFound):
		err := t.store.CreateReaction(ctx, model.Reaction{
			MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: time.Now().UTC(),
		})
		if err != nil && !errors.Is(err, apperr.ErrConflict) {
			return Result{}, fmt.Errorf("create reaction: %w", err)
		}
		res.Action = Added
	default:
		return Result{}, fmt.Errorf("get reaction: %w", err)
	}
	return res, nil
}

// GetForMessage groups reactions by emoji, in the order each emoji was
// first used.
func (t *Toggler) GetForMessage(ctx context.Context, messageID int64) ([]Group, error) {
	if _, err := t.store.GetMessage(ctx, messageID); err != nil {
		return nil, err
	}
	rs, err := t.store.ListReactions(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	index := make(map[string]int)
	groups := []Group{}
	for _, r := range rs {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, Group{Emoji: r.Emoji})
		}
		groups[i].UserIDs = append(groups[i].UserIDs, r.UserID)
	}
	return groups, nil
}
