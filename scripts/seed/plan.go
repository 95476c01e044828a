package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/model"
	"github.com/mahaj/dupahar-realtime/pkg/store"
)

type seeder interface {
	store.Users
	store.Conversations
	store.Members
}

type plan struct {
	Conversation model.Conversation
	Members      []string
}

// apply is safe to rerun: rows that already exist are left alone.
func (p plan) apply(ctx context.Context, st seeder) error {
	c := p.Conversation
	switch c.Kind {
	case model.KindDirect:
		if len(p.Members) != 1 {
			return fmt.Errorf("a direct conversation has exactly one member besides the owner, got %d", len(p.Members))
		}
	case model.KindGroup, model.KindChannel:
	default:
		return fmt.Errorf("unknown conversation kind %q", c.Kind)
	}

	now := time.Now().UTC()
	for _, id := range append([]string{c.OwnerID}, p.Members...) {
		u := model.Identity{ID: id, DisplayName: id, Status: model.StatusOffline, LastSeenAt: now}
		if err := ignoreConflict(st.CreateUser(ctx, u)); err != nil {
			return fmt.Errorf("create user %s: %w", id, err)
		}
	}

	c.CreatedAt = now
	if err := ignoreConflict(st.CreateConversation(ctx, c)); err != nil {
		return fmt.Errorf("create conversation %s: %w", c.ID, err)
	}

	if err := ignoreConflict(st.AddMember(ctx, model.Membership{ConversationID: c.ID, UserID: c.OwnerID, Role: model.RoleOwner, JoinedAt: now})); err != nil {
		return fmt.Errorf("add owner: %w", err)
	}
	for _, id := range p.Members {
		if id == c.OwnerID {
			continue
		}
		m := model.Membership{ConversationID: c.ID, UserID: id, Role: model.RoleMember, JoinedAt: now}
		if err := ignoreConflict(st.AddMember(ctx, m)); err != nil {
			return fmt.Errorf("add member %s: %w", id, err)
		}
	}
	return nil
}

func ignoreConflict(err error) error {
	if apperr.KindOf(err) == apperr.KindConflict {
		return nil
	}
	return err
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
