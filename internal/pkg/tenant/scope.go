// Package tenant carries the (user, optional organization) pair that isolates all data access.
package tenant

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

const (
	HeaderUserID         = "X-User-ID"
	HeaderOrganizationID = "X-Organization-ID"
)

var ErrMissingTenant = errors.New("missing tenant user id")

type Scope struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// Key renders the scope for cache keys and lock names. Two scopes have the same key iff they are equal.
// Both ids are query-escaped, so the rendered key never contains ':', '|' or redis glob characters
// from the ids themselves. A scope without organization renders an empty org field.
func (s Scope) Key() string {
	return "user:" + url.QueryEscape(s.UserID) + "|org:" + url.QueryEscape(s.OrganizationID)
}

func (s Scope) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return ErrMissingTenant
	}
	return nil
}

// FromRequest reads the scope set by the upstream auth gateway.
func FromRequest(r *http.Request) (Scope, error) {
	s := Scope{
		UserID:         strings.TrimSpace(r.Header.Get(HeaderUserID)),
		OrganizationID: strings.TrimSpace(r.Header.Get(HeaderOrganizationID)),
	}
	return s, s.Validate()
}

type ctxKey struct{}

func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(Scope)
	return s, ok
}
