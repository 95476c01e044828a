// Package membership tracks which conversation rooms each live connection
// is subscribed to.
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/model"
)

const userChannelPrefix = "user:"

// UserChannel is the implicit room every connection of a user sits in.
func UserChannel(userID string) string { return userChannelPrefix + userID }

// IsUserChannel reports whether room is an implicit per-user channel.
func IsUserChannel(room string) bool { return strings.HasPrefix(room, userChannelPrefix) }

// Conn is the part of a live connection the registry needs.
type Conn interface {
	ID() string
	UserID() string
}

// Source is the membership source of truth. It is queried on every join
// decision and never cached.
type Source interface {
	ConversationIDsForUser(ctx context.Context, userID string) ([]string, error)
	GetMember(ctx context.Context, conversationID, userID string) (model.Membership, error)
}

// Registry owns the room -> connections set. It is the only multi-writer
// structure shared by connections.
type Registry struct {
	source Source
	log    *slog.Logger

	mu        sync.RWMutex
	rooms     map[string]map[string]Conn      // room -> conn id -> conn
	connRooms map[string]map[string]struct{} // conn id -> rooms
}

func NewRegistry(source Source, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		source:    source,
		log:       log,
		rooms:     make(map[string]map[string]Conn),
		connRooms: make(map[string]map[string]struct{}),
	}
}

// Register subscribes conn to its user's implicit channel.
func (r *Registry) Register(conn Conn) {
	r.subscribe(UserChannel(conn.UserID()), conn)
}

// Unregister removes conn from every room, its implicit channel included.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room := range r.connRooms[conn.ID()] {
		r.unsubscribeLocked(room, conn.ID())
	}
	delete(r.connRooms, conn.ID())
}

// JoinAllForUser subscribes conn to every conversation userID belongs to
// and returns the rooms joined. No memberships is not an error.
func (r *Registry) JoinAllForUser(ctx context.Context, conn Conn, userID string) ([]string, error) {
	ids, err := r.source.ConversationIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load conversations for %s: %w", userID, err)
	}
	for _, id := range ids {
		r.subscribe(id, conn)
	}
	r.log.Debug("joined conversation rooms", "user", userID, "conn", conn.ID(), "rooms", len(ids))
	return ids, nil
}

// JoinOne re-verifies live membership before subscribing. It returns false
// without subscribing when the user is not a member.
func (r *Registry) JoinOne(ctx context.Context, conn Conn, conversationID string) (bool, error) {
	if conversationID == "" || IsUserChannel(conversationID) {
		return false, apperr.Validation("conversationId is required")
	}
	if _, err := r.source.GetMember(ctx, conversationID, conn.UserID()); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check membership: %w", err)
	}
	r.subscribe(conversationID, conn)
	return true, nil
}

func (r *Registry) LeaveOne(conn Conn, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(conversationID, conn.ID())
}

// LeaveAll unsubscribes conn from every room except its implicit channel.
func (r *Registry) LeaveAll(conn Conn) {
	own := UserChannel(conn.UserID())
	r.mu.Lock()
	defer r.mu.Unlock()
	for room := range r.connRooms[conn.ID()] {
		if room != own {
			r.unsubscribeLocked(room, conn.ID())
		}
	}
}

// Connections returns a snapshot of the connections subscribed to room.
func (r *Registry) Connections(room string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	out := make([]Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// UserConnections returns every live connection of userID.
func (r *Registry) UserConnections(userID string) []Conn {
	return r.Connections(UserChannel(userID))
}

// RoomsOf returns the sorted rooms conn is subscribed to.
func (r *Registry) RoomsOf(conn Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.connRooms[conn.ID()]))
	for room := range r.connRooms[conn.ID()] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) subscribe(room string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.rooms[room]
	if members == nil {
		members = make(map[string]Conn)
		r.rooms[room] = members
	}
	members[conn.ID()] = conn

	rooms := r.connRooms[conn.ID()]
	if rooms == nil {
		rooms = make(map[string]struct{})
		r.connRooms[conn.ID()] = rooms
	}
	rooms[room] = struct{}{}
}

func (r *Registry) unsubscribeLocked(room, connID string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if rooms, ok := r.connRooms[connID]; ok {
		delete(rooms, room)
	}
}
