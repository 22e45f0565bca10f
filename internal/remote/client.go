package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// CommentData is one remote comment. The body comment carries no id; every
// other comment is identified by its remote comment id.
type CommentData struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

// NodeData is the remote copy of one node: its content fields, comments
// (body first) and the ids of its immediate children.
type NodeData struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	State string `json:"state"`
	// DuplicateOf is set only when State is "duplicate" and names the
	// surviving node.
	DuplicateOf string        `json:"duplicateOf,omitempty"`
	Labels      []string      `json:"labels,omitempty"`
	Comments    []CommentData `json:"comments,omitempty"`
	ChildIDs    []string      `json:"childIds,omitempty"`
	UpdatedAt   *time.Time    `json:"updatedAt,omitempty"`
}

// Event is a remote change notification, used only to trigger sync sessions.
type Event struct {
	NodeID string `json:"nodeId"`
	Kind   string `json:"kind"`
}

// Client is the remote tracker surface the sync engine consumes. The contract
// requires that a duplicate-closed node is never surfaced through FetchChildren.
// Retry policy belongs to the implementation, not to callers.
type Client interface {
	FetchNode(ctx context.Context, id string) (NodeData, error)
	FetchChildren(ctx context.Context, ids []string) (map[string]NodeData, error)
	CreateNode(ctx context.Context, parentID, title, body string, closed bool) (string, error)
	UpdateNodeState(ctx context.Context, id string, closed bool) error
}

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a remote 404.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}
