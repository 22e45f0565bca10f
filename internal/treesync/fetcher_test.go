package treesync

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/agentworkforce/trackfile/internal/remote"
)

type createCall struct {
	ParentID string
	Title    string
	Body     string
	Closed   bool
}

type updateCall struct {
	ID     string
	Closed bool
}

// fakeClient serves a fixed node map and records mutations. Mutation failures
// are keyed by node title (creates) or id (updates) so tests can fail exactly
// one action in a batch.
type fakeClient struct {
	mu sync.Mutex

	nodes map[string]remote.NodeData

	childBatches [][]string
	creates      []createCall
	updates      []updateCall

	failCreate map[string]error
	failUpdate map[string]error

	nextID int
}

func newFakeClient(nodes ...remote.NodeData) *fakeClient {
	c := &fakeClient{
		nodes:      make(map[string]remote.NodeData),
		failCreate: make(map[string]error),
		failUpdate: make(map[string]error),
	}
	for _, n := range nodes {
		c.nodes[n.ID] = n
	}
	return c
}

func (c *fakeClient) FetchNode(ctx context.Context, id string) (remote.NodeData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.nodes[id]
	if !ok {
		return remote.NodeData{}, &remote.HTTPError{StatusCode: 404, Message: "no such node"}
	}
	return data, nil
}

func (c *fakeClient) FetchChildren(ctx context.Context, ids []string) (map[string]remote.NodeData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.childBatches = append(c.childBatches, append([]string(nil), ids...))
	out := make(map[string]remote.NodeData, len(ids))
	for _, id := range ids {
		data, ok := c.nodes[id]
		if !ok {
			return nil, &remote.HTTPError{StatusCode: 404, Message: "no such node " + id}
		}
		if data.State == "duplicate" {
			continue
		}
		out[id] = data
	}
	return out, nil
}

func (c *fakeClient) CreateNode(ctx context.Context, parentID, title, body string, closed bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failCreate[title]; err != nil {
		return "", err
	}
	c.nextID++
	id := fmt.Sprintf("new-%d", c.nextID)
	c.creates = append(c.creates, createCall{ParentID: parentID, Title: title, Body: body, Closed: closed})
	return id, nil
}

func (c *fakeClient) UpdateNodeState(ctx context.Context, id string, closed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failUpdate[id]; err != nil {
		return err
	}
	c.updates = append(c.updates, updateCall{ID: id, Closed: closed})
	return nil
}

func remoteNode(id, title, body string, childIDs ...string) remote.NodeData {
	data := remote.NodeData{ID: id, Title: title, State: "open", ChildIDs: childIDs}
	if body != "" {
		data.Comments = []remote.CommentData{{Text: body}}
	}
	return data
}

func TestFetchBuildsTreeLevelByLevel(t *testing.T) {
	client := newFakeClient(
		remoteNode("root", "root node", "root body", "a", "b"),
		remoteNode("a", "left", "a body", "a1"),
		remoteNode("b", "right", "b body"),
		remoteNode("a1", "grandchild", "a1 body"),
	)
	fetcher := NewFetcher(client, nil)

	root, err := fetcher.Fetch(context.Background(), "root")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if root.Title != "root node" || root.Body() != "root body" {
		t.Fatalf("root = %q / %q", root.Title, root.Body())
	}
	if len(root.Children) != 2 {
		t.Fatalf("root children = %d, want 2", len(root.Children))
	}
	if id, _ := root.Children[0].Ref.RemoteID(); id != "a" {
		t.Fatalf("first child id = %q, want a", id)
	}
	if len(root.Children[0].Children) != 1 || root.Children[0].Children[0].Title != "grandchild" {
		t.Fatalf("grandchild missing: %+v", root.Children[0].Children)
	}

	wantBatches := [][]string{{"a", "b"}, {"a1"}}
	if !reflect.DeepEqual(client.childBatches, wantBatches) {
		t.Fatalf("child batches = %v, want %v", client.childBatches, wantBatches)
	}
}

func TestFetchDropsDuplicateClosedChildren(t *testing.T) {
	dup := remoteNode("dup", "duplicate child", "")
	dup.State = "duplicate"
	dup.DuplicateOf = "keep"
	client := newFakeClient(
		remoteNode("root", "root node", "", "keep", "dup"),
		remoteNode("keep", "kept child", ""),
		dup,
	)
	fetcher := NewFetcher(client, nil)

	root, err := fetcher.Fetch(context.Background(), "root")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(root.Children) != 1 || root.Children[0].Title != "kept child" {
		t.Fatalf("children = %+v, want kept child only", root.Children)
	}
}

func TestFetchFailureReturnsNoPartialTree(t *testing.T) {
	client := newFakeClient(
		remoteNode("root", "root node", "", "a", "missing"),
		remoteNode("a", "left", ""),
	)
	fetcher := NewFetcher(client, nil)

	root, err := fetcher.Fetch(context.Background(), "root")
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if root != nil {
		t.Fatalf("partial tree returned: %+v", root)
	}
	var httpErr *remote.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error %v does not wrap HTTPError", err)
	}
}

func TestFetchMapsStatesAndComments(t *testing.T) {
	child := remote.NodeData{
		ID:    "c",
		Title: "closed child",
		State: "not-planned",
		Comments: []remote.CommentData{
			{Text: "the body"},
			{ID: "cm1", Text: "a discussion comment"},
		},
		Labels:    []string{"ops"},
		UpdatedAt: timeAt(1234),
	}
	client := newFakeClient(
		remoteNode("root", "root node", "", "c"),
		child,
	)
	fetcher := NewFetcher(client, nil)

	root, err := fetcher.Fetch(context.Background(), "root")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	got := root.Children[0]
	if got.State.String() != "not-planned" {
		t.Fatalf("state = %v", got.State)
	}
	if got.Body() != "the body" {
		t.Fatalf("body = %q", got.Body())
	}
	rest := got.Rest()
	if len(rest) != 1 || rest[0].Text != "a discussion comment" {
		t.Fatalf("rest comments = %+v", rest)
	}
	if id, ok := rest[0].Ref.RemoteID(); !ok || id != "cm1" {
		t.Fatalf("comment ref = %+v", rest[0].Ref)
	}
	if got.SyncedAt == nil || !got.SyncedAt.Equal(*timeAt(1234)) {
		t.Fatalf("SyncedAt = %v", got.SyncedAt)
	}
	if !reflect.DeepEqual(got.Labels, []string{"ops"}) {
		t.Fatalf("labels = %v", got.Labels)
	}
}
