package treesync

import (
	"reflect"
	"testing"

	"github.com/agentworkforce/trackfile/internal/tracker"
)

func pendingNode(title, body string, children ...*tracker.Node) *tracker.Node {
	n := &tracker.Node{
		Ref:      tracker.PendingRef(),
		Title:    title,
		State:    tracker.Open(),
		Children: children,
	}
	if body != "" {
		n.Comments = []tracker.Comment{{Ref: tracker.BodyRef(), Text: body}}
	}
	return n
}

func TestPlanEmptyWhenAgreed(t *testing.T) {
	tree := linkedNode("root", "r", "body",
		linkedNode("c0", "child", "body"))
	batches := Plan(tree, tree.Clone())
	if len(batches) != 0 {
		t.Fatalf("batches = %v, want none", batches)
	}
}

func TestPlanCreateForPendingChild(t *testing.T) {
	draft := pendingNode("draft", "draft body")
	draft.State = tracker.Closed()
	resolved := linkedNode("root", "r", "body", draft)
	consensus := linkedNode("root", "r", "body")

	batches := Plan(resolved, consensus)
	if len(batches) != 2 || len(batches[0]) != 0 || len(batches[1]) != 1 {
		t.Fatalf("batches = %v, want one action at depth 1", batches)
	}
	action := batches[1][0]
	if action.Type != ActionCreate || action.ParentID != "root" {
		t.Fatalf("action = %+v", action)
	}
	if action.Title != "draft" || action.Body != "draft body" || !action.Closed {
		t.Fatalf("create payload = %+v", action)
	}
	if !reflect.DeepEqual(action.Path, []int{0}) {
		t.Fatalf("Path = %v, want [0]", action.Path)
	}
}

func TestPlanSkipsChildrenOfPendingNode(t *testing.T) {
	resolved := linkedNode("root", "r", "body",
		pendingNode("parent draft", "",
			pendingNode("nested draft", "")))
	consensus := linkedNode("root", "r", "body")

	batches := Plan(resolved, consensus)
	var titles []string
	for _, batch := range batches {
		for _, action := range batch {
			titles = append(titles, action.Title)
		}
	}
	if !reflect.DeepEqual(titles, []string{"parent draft"}) {
		t.Fatalf("planned creates = %v, want parent draft only", titles)
	}
}

func TestPlanUpdateForStateChange(t *testing.T) {
	resolved := linkedNode("root", "r", "body",
		linkedNode("c0", "child", "body"))
	resolved.Children[0].State = tracker.NotPlanned()
	consensus := linkedNode("root", "r", "body",
		linkedNode("c0", "child", "body"))

	batches := Plan(resolved, consensus)
	if len(batches) != 2 || len(batches[1]) != 1 {
		t.Fatalf("batches = %v, want one action at depth 1", batches)
	}
	action := batches[1][0]
	if action.Type != ActionUpdateState || action.NodeID != "c0" || !action.Closed {
		t.Fatalf("action = %+v", action)
	}
}

func TestPlanReopenEmitsUpdate(t *testing.T) {
	resolved := linkedNode("root", "r", "body")
	consensus := linkedNode("root", "r", "body")
	consensus.State = tracker.Closed()

	batches := Plan(resolved, consensus)
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("batches = %v, want one root action", batches)
	}
	if action := batches[0][0]; action.Type != ActionUpdateState || action.Closed {
		t.Fatalf("action = %+v, want open update", action)
	}
}

func TestPlanCreatesBeforeUpdatesWithinDepth(t *testing.T) {
	resolved := linkedNode("root", "r", "body",
		linkedNode("c0", "child", "body"),
		pendingNode("draft", ""))
	resolved.Children[0].State = tracker.Closed()
	consensus := linkedNode("root", "r", "body",
		linkedNode("c0", "child", "body"))

	batches := Plan(resolved, consensus)
	if len(batches) != 2 || len(batches[1]) != 2 {
		t.Fatalf("batches = %v, want two actions at depth 1", batches)
	}
	if batches[1][0].Type != ActionCreate || batches[1][1].Type != ActionUpdateState {
		t.Fatalf("order = %v, %v; want create then update", batches[1][0].Type, batches[1][1].Type)
	}
}

func TestPlanNoUpdatesWithoutConsensus(t *testing.T) {
	resolved := linkedNode("root", "r", "body")
	resolved.State = tracker.Closed()

	batches := Plan(resolved, nil)
	if len(batches) != 0 {
		t.Fatalf("batches = %v, want none on first sync", batches)
	}
}

func TestPlanPendingRootCreate(t *testing.T) {
	resolved := pendingNode("brand new", "body")
	batches := Plan(resolved, nil)
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("batches = %v, want one root create", batches)
	}
	action := batches[0][0]
	if action.Type != ActionCreate || action.ParentID != "" {
		t.Fatalf("action = %+v, want parentless create", action)
	}
}
