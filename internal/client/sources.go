package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"servchat/internal/livesync"
	"servchat/internal/model"
	"servchat/internal/presence"
	"servchat/internal/realtime"
)

var (
	_ livesync.Source[model.Message]       = SectorMessages{}
	_ livesync.Source[model.DirectMessage] = DirectMessages{}
	_ livesync.Source[model.Task]          = Tasks{}
	_ livesync.UnreadSource                = (*Client)(nil)
	_ presence.Reporter                    = (*Client)(nil)
)

var errScopeMismatch = errors.New("scope does not belong to this source")

// SectorMessages is the remote side of a sector chat list. Scopes are
// messages filtered by sector.
type SectorMessages struct{ C *Client }

func SectorScope(sector string) realtime.Scope {
	return realtime.Scope{Table: realtime.TableMessages, Column: "sector", Value: sector}
}

func (s SectorMessages) Fetch(ctx context.Context, scope realtime.Scope) ([]model.Message, error) {
	if scope.Table != realtime.TableMessages || scope.Column != "sector" {
		return nil, errScopeMismatch
	}
	var resp struct {
		Messages []model.Message `json:"messages"`
	}
	err := s.C.do(ctx, http.MethodGet, "/v1/sectors/"+url.PathEscape(scope.Value)+"/messages", nil, &resp)
	return resp.Messages, err
}

func (s SectorMessages) Create(ctx context.Context, scope realtime.Scope, draft model.Message) (model.Message, error) {
	var resp struct {
		Message model.Message `json:"message"`
	}
	body := map[string]string{"content": draft.Content, "attachmentKey": draft.AttachmentKey}
	err := s.C.do(ctx, http.MethodPost, "/v1/sectors/"+url.PathEscape(scope.Value)+"/messages", body, &resp)
	return resp.Message, err
}

// DirectMessages is the remote side of a one-to-one conversation list.
// Scopes are direct messages filtered by conversation key.
type DirectMessages struct{ C *Client }

func ConversationScope(a, b string) realtime.Scope {
	return realtime.Scope{Table: realtime.TableDirectMessages, Column: "conversation", Value: model.ConversationKey(a, b)}
}

func (s DirectMessages) partner(scope realtime.Scope) (string, error) {
	if scope.Table != realtime.TableDirectMessages || scope.Column != "conversation" {
		return "", errScopeMismatch
	}
	self := s.C.Self().ID
	if self == "" {
		return "", ErrNoToken
	}
	a, b, ok := strings.Cut(scope.Value, ":")
	switch {
	case !ok:
		return "", fmt.Errorf("invalid conversation key %q", scope.Value)
	case a == self:
		return b, nil
	case b == self:
		return a, nil
	}
	return "", errScopeMismatch
}

func (s DirectMessages) Fetch(ctx context.Context, scope realtime.Scope) ([]model.DirectMessage, error) {
	partner, err := s.partner(scope)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Messages []model.DirectMessage `json:"messages"`
	}
	err = s.C.do(ctx, http.MethodGet, "/v1/conversations/"+url.PathEscape(partner)+"/messages", nil, &resp)
	return resp.Messages, err
}

func (s DirectMessages) Create(ctx context.Context, scope realtime.Scope, draft model.DirectMessage) (model.DirectMessage, error) {
	partner, err := s.partner(scope)
	if err != nil {
		return model.DirectMessage{}, err
	}
	var resp struct {
		Message model.DirectMessage `json:"message"`
	}
	body := map[string]string{"content": draft.Content}
	err = s.C.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(partner)+"/messages", body, &resp)
	return resp.Message, err
}

// Tasks is the remote side of a task board.
type Tasks struct{ C *Client }

func BoardScope(board string) realtime.Scope {
	return realtime.Scope{Table: realtime.TableTasks, Column: "board", Value: board}
}

func (s Tasks) Fetch(ctx context.Context, scope realtime.Scope) ([]model.Task, error) {
	if scope.Table != realtime.TableTasks || scope.Column != "board" {
		return nil, errScopeMismatch
	}
	var resp struct {
		Tasks []model.Task `json:"tasks"`
	}
	err := s.C.do(ctx, http.MethodGet, "/v1/boards/"+url.PathEscape(scope.Value)+"/tasks", nil, &resp)
	return resp.Tasks, err
}

func (s Tasks) Create(ctx context.Context, scope realtime.Scope, draft model.Task) (model.Task, error) {
	var resp struct {
		Task model.Task `json:"task"`
	}
	body := map[string]any{"title": draft.Title, "description": draft.Description}
	if draft.AssigneeID != "" {
		body["assigneeId"] = draft.AssigneeID
	}
	if draft.DueAt != nil {
		body["dueAt"] = draft.DueAt
	}
	err := s.C.do(ctx, http.MethodPost, "/v1/boards/"+url.PathEscape(scope.Value)+"/tasks", body, &resp)
	return resp.Task, err
}

// Counts reads the unread badges.
func (c *Client) Counts(ctx context.Context) (livesync.Counts, error) {
	var counts livesync.Counts
	err := c.do(ctx, http.MethodGet, "/v1/unread", nil, &counts)
	return counts, err
}

// MarkRead acknowledges a conversation, by partner id, or an announcement,
// by announcement id.
func (c *Client) MarkRead(ctx context.Context, cat livesync.Category, target string) error {
	switch cat {
	case livesync.DirectMessages:
		return c.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(target)+"/read", nil, nil)
	case livesync.Announcements:
		return c.do(ctx, http.MethodPost, "/v1/announcements/"+url.PathEscape(target)+"/read", nil, nil)
	}
	return fmt.Errorf("unknown category %v", cat)
}

func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/presence/heartbeat", nil, nil)
}

func (c *Client) Offline(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/presence/offline", nil, nil)
}

// Presence lists every presence record with online already resolved against
// the server's freshness window.
func (c *Client) Presence(ctx context.Context) ([]model.Presence, error) {
	var resp struct {
		Presence []model.Presence `json:"presence"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/presence", nil, &resp)
	return resp.Presence, err
}

// DirectScopeFor selects every direct message addressed to userID.
func DirectScopeFor(userID string) realtime.Scope {
	return realtime.Scope{Table: realtime.TableDirectMessages, Column: "recipient_id", Value: userID}
}
