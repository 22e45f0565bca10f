package treesync

import (
	"github.com/agentworkforce/trackfile/internal/tracker"
)

type ActionType string

const (
	ActionCreate      ActionType = "create"
	ActionUpdateState ActionType = "update_state"
)

// Action is one remote mutation. Create actions carry the parent's remote id
// and the new node's content; update actions carry the target's remote id and
// the desired closed flag. Path locates the subject node in the resolved tree
// by child indexes so a create's assigned id can be linked back after dispatch.
type Action struct {
	Type     ActionType
	Path     []int
	ParentID string
	NodeID   string
	Title    string
	Body     string
	Closed   bool
}

// Plan derives the remote mutations implied by the resolved tree, batched by
// tree depth. Within a depth, creates precede updates. A create is emitted
// only for a pending node whose parent id is already known; the pending
// node's own children are deliberately left out and picked up by a later
// Plan call, once dispatch has linked the parent. Batches for depths with no
// actions are omitted from the tail but kept in the middle so index equals
// depth.
func Plan(resolved, consensus *tracker.Node) [][]Action {
	var batches [][]Action
	planCreates(resolved, "", 0, []int{}, &batches)
	planUpdates(resolved, consensus, 0, []int{}, &batches)
	return trimEmptyTail(batches)
}

func planCreates(node *tracker.Node, parentID string, depth int, path []int, batches *[][]Action) {
	if node.Ref.IsPending() {
		appendAction(batches, depth, Action{
			Type:     ActionCreate,
			Path:     append([]int{}, path...),
			ParentID: parentID,
			Title:    node.Title,
			Body:     node.Body(),
			Closed:   node.State.IsClosed(),
		})
		// Children wait for the parent's id.
		return
	}
	id, _ := node.Ref.RemoteID()
	for i, child := range node.Children {
		planCreates(child, id, depth+1, append(path, i), batches)
	}
}

func planUpdates(node, consensus *tracker.Node, depth int, path []int, batches *[][]Action) {
	if node.Ref.IsPending() {
		return
	}
	id, _ := node.Ref.RemoteID()
	if consensus != nil && !node.State.Equal(consensus.State) {
		appendAction(batches, depth, Action{
			Type:   ActionUpdateState,
			Path:   append([]int{}, path...),
			NodeID: id,
			Closed: node.State.IsClosed(),
		})
	}
	for i, child := range node.Children {
		var consensusChild *tracker.Node
		if consensus != nil {
			if match, ok := consensus.ChildByRef(child.Ref); ok {
				consensusChild = match
			}
		}
		planUpdates(child, consensusChild, depth+1, append(path, i), batches)
	}
}

func appendAction(batches *[][]Action, depth int, action Action) {
	for len(*batches) <= depth {
		*batches = append(*batches, nil)
	}
	(*batches)[depth] = append((*batches)[depth], action)
}

func trimEmptyTail(batches [][]Action) [][]Action {
	for len(batches) > 0 && len(batches[len(batches)-1]) == 0 {
		batches = batches[:len(batches)-1]
	}
	return batches
}
