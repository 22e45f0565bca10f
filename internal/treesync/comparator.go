// Package treesync reconciles a local tree, its last-synced baseline and a
// freshly fetched remote copy of the same tree: it classifies divergence per
// node, resolves what it can, and plans the remote mutations needed to push
// local-only changes.
package treesync

import (
	"github.com/agentworkforce/trackfile/internal/tracker"
)

// Outcome classifies one node's divergence, content only.
type Outcome int

const (
	NoChange Outcome = iota
	LocalOnly
	RemoteOnly
	AutoLocal
	AutoRemote
	Conflict
)

func (o Outcome) String() string {
	switch o {
	case LocalOnly:
		return "local-only"
	case RemoteOnly:
		return "remote-only"
	case AutoLocal:
		return "auto-resolved-local"
	case AutoRemote:
		return "auto-resolved-remote"
	case Conflict:
		return "conflict"
	default:
		return "no-change"
	}
}

// ContentEqual reports content equality of two nodes: close state, body text,
// the ordered (identity, text) list of remaining comments, and the label set.
// Children and freeform blocks are excluded.
func ContentEqual(a, b *tracker.Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !a.State.Equal(b.State) {
		return false
	}
	if a.Body() != b.Body() {
		return false
	}
	restA, restB := a.Rest(), b.Rest()
	if len(restA) != len(restB) {
		return false
	}
	for i := range restA {
		if !restA[i].Ref.Equal(restB[i].Ref) || restA[i].Text != restB[i].Text {
			return false
		}
	}
	return labelSetsEqual(a.Labels, b.Labels)
}

// Classify compares a node's local and remote snapshots against the consensus
// copy. A nil consensus means first-ever sync; the sides are then compared
// directly, with the timestamp rule breaking ties.
func Classify(local, consensus, remote *tracker.Node) Outcome {
	if consensus == nil {
		if ContentEqual(local, remote) {
			return NoChange
		}
		return timestampWinner(local, remote)
	}
	localChanged := !ContentEqual(local, consensus)
	remoteChanged := !ContentEqual(remote, consensus)
	switch {
	case !localChanged && !remoteChanged:
		return NoChange
	case localChanged && !remoteChanged:
		return LocalOnly
	case !localChanged && remoteChanged:
		return RemoteOnly
	default:
		return timestampWinner(local, remote)
	}
}

// timestampWinner applies the both-sides-changed tiebreak: timestamps are
// comparable only when both copies carry one; equal or missing timestamps
// leave the divergence unresolvable.
func timestampWinner(local, remote *tracker.Node) Outcome {
	if local.SyncedAt == nil || remote.SyncedAt == nil {
		return Conflict
	}
	if local.SyncedAt.Equal(*remote.SyncedAt) {
		return Conflict
	}
	if local.SyncedAt.After(*remote.SyncedAt) {
		return AutoLocal
	}
	return AutoRemote
}

func labelSetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, label := range a {
		counts[label]++
	}
	for _, label := range b {
		counts[label]--
		if counts[label] < 0 {
			return false
		}
	}
	return true
}
