package treesync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentworkforce/trackfile/internal/remote"
	"github.com/agentworkforce/trackfile/internal/tracker"
)

// Fetcher materializes a remote subtree as a local node tree. Fetching walks
// the tree one depth level at a time; all children of the current frontier are
// requested in a single call, so siblings load concurrently while parent-child
// ordering is preserved. Any fetch failure aborts the whole walk; a partial
// tree is never returned.
type Fetcher struct {
	client remote.Client
	logger *slog.Logger
}

func NewFetcher(client remote.Client, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, logger: logger}
}

type frontierEntry struct {
	parent   *tracker.Node
	childIDs []string
}

// Fetch retrieves the subtree rooted at rootID. Children closed as duplicates
// are dropped at the fetch boundary and never appear in the result.
func (f *Fetcher) Fetch(ctx context.Context, rootID string) (*tracker.Node, error) {
	data, err := f.client.FetchNode(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("fetch root %s: %w", rootID, err)
	}
	root, err := nodeFromData(data)
	if err != nil {
		return nil, err
	}

	frontier := []frontierEntry{{parent: root, childIDs: data.ChildIDs}}
	depth := 0
	for len(frontier) > 0 {
		var ids []string
		for _, entry := range frontier {
			ids = append(ids, entry.childIDs...)
		}
		if len(ids) == 0 {
			break
		}
		depth++
		f.logger.Debug("fetching tree level", "root", rootID, "depth", depth, "nodes", len(ids))

		children, err := f.client.FetchChildren(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("fetch depth %d of %s: %w", depth, rootID, err)
		}

		var next []frontierEntry
		for _, entry := range frontier {
			for _, id := range entry.childIDs {
				childData, ok := children[id]
				if !ok {
					// Filtered at the fetch boundary, typically a
					// duplicate-closed child.
					continue
				}
				child, err := nodeFromData(childData)
				if err != nil {
					return nil, err
				}
				entry.parent.Children = append(entry.parent.Children, child)
				next = append(next, frontierEntry{parent: child, childIDs: childData.ChildIDs})
			}
		}
		frontier = next
	}
	return root, nil
}

// nodeFromData converts one remote snapshot into a tree node. The first
// remote comment without an id is the node body; everything else keeps its
// remote comment identity.
func nodeFromData(data remote.NodeData) (*tracker.Node, error) {
	state, err := closeStateFromWire(data.State, data.DuplicateOf)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", data.ID, err)
	}
	node := &tracker.Node{
		Ref:      tracker.LinkedRef(data.ID),
		Title:    data.Title,
		State:    state,
		SyncedAt: data.UpdatedAt,
	}
	if len(data.Labels) > 0 {
		node.Labels = append([]string(nil), data.Labels...)
	}
	for i, comment := range data.Comments {
		ref := tracker.LinkedCommentRef(comment.ID)
		if i == 0 && comment.ID == "" {
			ref = tracker.BodyRef()
		}
		node.Comments = append(node.Comments, tracker.Comment{Ref: ref, Text: comment.Text})
	}
	return node, nil
}

func closeStateFromWire(state, duplicateOf string) (tracker.CloseState, error) {
	switch state {
	case "open", "":
		return tracker.Open(), nil
	case "closed":
		return tracker.Closed(), nil
	case "not-planned":
		return tracker.NotPlanned(), nil
	case "duplicate":
		return tracker.DuplicateOf(duplicateOf), nil
	default:
		return tracker.CloseState{}, fmt.Errorf("unknown close state %q", state)
	}
}
