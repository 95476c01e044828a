// Package auth resolves connection credentials to identities.
package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/mahaj/dupahar-realtime/pkg/apperr"
	"github.com/mahaj/dupahar-realtime/pkg/model"
)

// SubprotocolName is the websocket subprotocol that carries the auth
// payload: clients offer ["access_token", "<token>"].
const SubprotocolName = "access_token"

// Handshake is everything a connection attempt presents.
type Handshake struct {
	AuthToken string
	Header    http.Header
	Query     url.Values
}

// HandshakeFromRequest collects credentials from an upgrade request.
func HandshakeFromRequest(r *http.Request) Handshake {
	h := Handshake{Header: r.Header, Query: r.URL.Query()}
	protocols := websocketProtocols(r.Header)
	for i, p := range protocols {
		if p == SubprotocolName && i+1 < len(protocols) {
			h.AuthToken = protocols[i+1]
			break
		}
	}
	return h
}

func websocketProtocols(h http.Header) []string {
	var out []string
	for _, v := range h.Values("Sec-Websocket-Protocol") {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// ExtractToken picks the bearer token from the auth payload, the
// Authorization header, or the token query parameter, in that order.
func ExtractToken(h Handshake) string {
	if t := strings.TrimSpace(h.AuthToken); t != "" {
		return stripBearer(t)
	}
	if h.Header != nil {
		if t := strings.TrimSpace(h.Header.Get("Authorization")); t != "" {
			return stripBearer(t)
		}
	}
	if h.Query != nil {
		if t := strings.TrimSpace(h.Query.Get("token")); t != "" {
			return stripBearer(t)
		}
	}
	return ""
}

func stripBearer(t string) string {
	if len(t) > 7 && strings.EqualFold(t[:7], "Bearer ") {
		return strings.TrimSpace(t[7:])
	}
	return t
}

type UserLookup interface {
	GetUser(ctx context.Context, id string) (model.Identity, error)
}

type SubjectVerifier interface {
	Subject(token string) (string, error)
}

type Authenticator struct {
	verifier SubjectVerifier
	users    UserLookup
}

func NewAuthenticator(v SubjectVerifier, users UserLookup) *Authenticator {
	return &Authenticator{verifier: v, users: users}
}

// Authenticate resolves a handshake to an identity. Every failure is an
// apperr.KindAuthentication error.
func (a *Authenticator) Authenticate(ctx context.Context, h Handshake) (model.Identity, error) {
	return a.AuthenticateToken(ctx, ExtractToken(h))
}

func (a *Authenticator) AuthenticateToken(ctx context.Context, token string) (model.Identity, error) {
	if token == "" {
		return model.Identity{}, apperr.Authentication("authentication token missing")
	}
	userID, err := a.verifier.Subject(token)
	if err != nil {
		return model.Identity{}, apperr.Wrap(apperr.KindAuthentication, "invalid or expired token", err)
	}
	user, err := a.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return model.Identity{}, apperr.Authentication("user no longer exists")
		}
		return model.Identity{}, apperr.Internal(err)
	}
	return user, nil
}

type contextKey struct{}

// WithIdentity stores the authenticated identity on ctx.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(model.Identity)
	return id, ok
}
