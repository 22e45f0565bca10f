package treesync

import (
	"github.com/agentworkforce/trackfile/internal/tracker"
)

// Prefer names a side of the merge.
type Prefer int

const (
	PreferNone Prefer = iota
	PreferLocal
	PreferRemote
)

// ResolveOptions tunes a merge. Force resolves would-be conflicts to the
// preferred side instead of recording them.
type ResolveOptions struct {
	Force Prefer
}

// Result summarizes one merge. Conflicts holds the child-index path of every
// unresolvable node; the root's path is the empty sequence. Conflicts are
// data, not errors: a conflicted merge still returns a resolved tree, the
// caller decides whether to act on it.
type Result struct {
	Conflicts         [][]int
	LocalNeedsUpdate  bool
	RemoteNeedsUpdate bool
}

// Resolve performs the three-way merge of a local tree against the shared
// consensus and the fetched remote tree. The input trees are not modified;
// the returned tree starts as a clone of local and absorbs remote wins and
// remote-only children. Matching is by remote id only, so locally created
// (pending) children never pair with remote children. Local children missing
// from the remote tree are kept untouched.
func Resolve(local, consensus, remote *tracker.Node, opts ResolveOptions) (*tracker.Node, Result) {
	resolved := local.Clone()
	var result Result
	resolveNode(resolved, consensus, remote, []int{}, opts, &result)
	return resolved, result
}

func resolveNode(resolved, consensus, remote *tracker.Node, path []int, opts ResolveOptions, result *Result) {
	outcome := Classify(resolved, consensus, remote)
	switch outcome {
	case NoChange:
	case LocalOnly, AutoLocal:
		result.RemoteNeedsUpdate = true
	case RemoteOnly, AutoRemote:
		resolved.CopyContentFrom(remote)
		result.LocalNeedsUpdate = true
	case Conflict:
		switch opts.Force {
		case PreferLocal:
			result.RemoteNeedsUpdate = true
		case PreferRemote:
			resolved.CopyContentFrom(remote)
			result.LocalNeedsUpdate = true
		default:
			result.Conflicts = append(result.Conflicts, append([]int{}, path...))
		}
	}

	// A conflicted node still descends: divergence below it is classified
	// independently.
	for _, remoteChild := range remote.Children {
		index, localChild := findChild(resolved, remoteChild.Ref)
		if localChild == nil {
			resolved.Children = append(resolved.Children, remoteChild.Clone())
			result.LocalNeedsUpdate = true
			continue
		}
		var consensusChild *tracker.Node
		if consensus != nil {
			if match, ok := consensus.ChildByRef(remoteChild.Ref); ok {
				consensusChild = match
			}
		}
		resolveNode(localChild, consensusChild, remoteChild, append(path, index), opts, result)
	}
}

func findChild(parent *tracker.Node, ref tracker.NodeRef) (int, *tracker.Node) {
	if _, ok := ref.RemoteID(); !ok {
		return -1, nil
	}
	for i, child := range parent.Children {
		if child.Ref.Equal(ref) {
			return i, child
		}
	}
	return -1, nil
}
