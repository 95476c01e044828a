package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/model"
)

type RestrictionStore interface {
	GetBan(ctx context.Context, conversationID, userID string) (model.ChannelBan, error)
	ListActions(ctx context.Context, conversationID, userID string, kinds ...model.ModerationKind) ([]model.ModerationAction, error)
}

// Checker answers "is this user banned or muted here" from stored state.
type Checker struct {
	store RestrictionStore
	now   func() time.Time
}

func NewChecker(store RestrictionStore) *Checker {
	return &Checker{store: store, now: time.Now}
}

// ActiveBan returns the user's ban if one exists and has not expired.
// Expired bans are treated as absent without being deleted.
func (c *Checker) ActiveBan(ctx context.Context, conversationID, userID string) (*model.ChannelBan, error) {
	ban, err := c.store.GetBan(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get ban: %w", err)
	}
	if !ban.Active(c.now()) {
		return nil, nil
	}
	return &ban, nil
}

// ActiveMute returns the most recent MUTE for the pair when no later
// UNMUTE exists and it has not expired.
func (c *Checker) ActiveMute(ctx context.Context, userID, conversationID string) (*model.ModerationAction, error) {
	actions, err := c.store.ListActions(ctx, conversationID, userID, model.ActionMute, model.ActionUnmute)
	if err != nil {
		return nil, fmt.Errorf("list mute actions: %w", err)
	}
	if len(actions) == 0 {
		return nil, nil
	}
	latest := actions[0]
	if latest.Kind != model.ActionMute || latest.Expired(c.now()) {
		return nil, nil
	}
	return &latest, nil
}
