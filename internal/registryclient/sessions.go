package registryclient

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/ManuGH/distvote/internal/session"
)

type newSession struct {
	Host    string         `json:"host"`
	Port    int            `json:"port"`
	Options []string       `json:"options"`
	Status  session.Status `json:"status,omitempty"`
}

// CreateSession registers a session led by host:port and returns its code.
func (c *Client) CreateSession(ctx context.Context, host string, port int, options []string) (session.ID, error) {
	if net.ParseIP(host) == nil {
		// The registry stores addresses, not names.
		addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
		if err != nil {
			return "", fmt.Errorf("resolve leader host %q: %w", host, err)
		}
		host = addrs[0].String()
	}

	var id session.ID
	err := c.do(ctx, "create", http.MethodPost, "/sessions", newSession{Host: host, Port: port, Options: options}, &id)
	return id, err
}

// ListSessions returns every session known to the registry.
func (c *Client) ListSessions(ctx context.Context) ([]session.Session, error) {
	var out []session.Session
	if err := c.do(ctx, "list", http.MethodGet, "/sessions", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []session.Session{}
	}
	return out, nil
}

// ListSessionIDs returns the codes of all sessions.
func (c *Client) ListSessionIDs(ctx context.Context) ([]session.ID, error) {
	var out struct {
		Sessions []session.ID `json:"sessions"`
	}
	if err := c.do(ctx, "list_ids", http.MethodGet, "/sessions/all", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// GetSession fetches one session. Unknown codes yield session.ErrNotFound.
func (c *Client) GetSession(ctx context.Context, id session.ID) (session.Session, error) {
	var out session.Session
	err := c.do(ctx, "get", http.MethodGet, "/sessions/"+string(id), nil, &out)
	return out, err
}

// VotingOptions returns the ballot options of a session.
func (c *Client) VotingOptions(ctx context.Context, id session.ID) ([]string, error) {
	s, err := c.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Options, nil
}

// SessionStatus returns the lifecycle status of a session.
func (c *Client) SessionStatus(ctx context.Context, id session.ID) (session.Status, error) {
	s, err := c.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	return s.Status, nil
}

// UpdateSession applies a partial update.
func (c *Client) UpdateSession(ctx context.Context, id session.ID, p session.Patch) error {
	if p.Empty() {
		return session.ErrEmptyPatch
	}
	return c.do(ctx, "update", http.MethodPatch, "/sessions/"+string(id), p, nil)
}
