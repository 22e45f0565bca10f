package tracker

import (
	"encoding/json"
	"time"
)

type refKind int

const (
	refPending refKind = iota
	refLinked
)

// NodeRef identifies a node against the remote tracker. A pending ref has no
// remote id and always means "to create"; a linked ref is immutable once
// assigned.
type NodeRef struct {
	kind refKind
	id   string
}

func PendingRef() NodeRef {
	return NodeRef{kind: refPending}
}

func LinkedRef(id string) NodeRef {
	return NodeRef{kind: refLinked, id: id}
}

func (r NodeRef) IsPending() bool {
	return r.kind == refPending
}

// RemoteID returns the remote id and whether the ref is linked.
func (r NodeRef) RemoteID() (string, bool) {
	if r.kind != refLinked {
		return "", false
	}
	return r.id, true
}

func (r NodeRef) Equal(other NodeRef) bool {
	return r.kind == other.kind && r.id == other.id
}

type commentRefKind int

const (
	commentBody commentRefKind = iota
	commentLinked
	commentPending
)

// CommentRef identifies one comment. The first comment of a node is its body
// and carries the body kind; further comments are linked once known to the
// remote and pending otherwise.
type CommentRef struct {
	kind commentRefKind
	id   string
}

func BodyRef() CommentRef {
	return CommentRef{kind: commentBody}
}

func LinkedCommentRef(id string) CommentRef {
	return CommentRef{kind: commentLinked, id: id}
}

func PendingCommentRef() CommentRef {
	return CommentRef{kind: commentPending}
}

func (r CommentRef) IsBody() bool {
	return r.kind == commentBody
}

func (r CommentRef) IsPending() bool {
	return r.kind == commentPending
}

func (r CommentRef) RemoteID() (string, bool) {
	if r.kind != commentLinked {
		return "", false
	}
	return r.id, true
}

func (r CommentRef) Equal(other CommentRef) bool {
	return r.kind == other.kind && r.id == other.id
}

type closeKind int

const (
	closeOpen closeKind = iota
	closeClosed
	closeNotPlanned
	closeDuplicate
)

// CloseState is a node's open/closed state. Duplicate carries the remote id
// of the node it duplicates; duplicate-closed nodes never appear in fetched
// remote trees.
type CloseState struct {
	kind        closeKind
	duplicateOf string
}

func Open() CloseState {
	return CloseState{kind: closeOpen}
}

func Closed() CloseState {
	return CloseState{kind: closeClosed}
}

func NotPlanned() CloseState {
	return CloseState{kind: closeNotPlanned}
}

func DuplicateOf(id string) CloseState {
	return CloseState{kind: closeDuplicate, duplicateOf: id}
}

func (s CloseState) IsOpen() bool {
	return s.kind == closeOpen
}

// IsClosed reports whether the state is any closed variant.
func (s CloseState) IsClosed() bool {
	return s.kind != closeOpen
}

func (s CloseState) IsDuplicate() bool {
	return s.kind == closeDuplicate
}

func (s CloseState) DuplicateTarget() (string, bool) {
	if s.kind != closeDuplicate {
		return "", false
	}
	return s.duplicateOf, true
}

func (s CloseState) Equal(other CloseState) bool {
	return s.kind == other.kind && s.duplicateOf == other.duplicateOf
}

func (s CloseState) String() string {
	switch s.kind {
	case closeClosed:
		return "closed"
	case closeNotPlanned:
		return "not-planned"
	case closeDuplicate:
		return "duplicate"
	default:
		return "open"
	}
}

type Comment struct {
	Ref   CommentRef
	Text  string
	Owned bool
}

// RawBlock is opaque freeform document content attached to a node. The sync
// engine round-trips blocks untouched; they are never compared against the
// remote and never sent to it.
type RawBlock struct {
	Raw json.RawMessage
}

// Node is one entry in the hierarchical tree. Each node owns its children
// outright; there are no back-references. The first comment is the body.
// SyncedAt is the last contents-change timestamp as reported by the remote
// and is only present once the node has synced at least once.
type Node struct {
	Ref      NodeRef
	Title    string
	State    CloseState
	Owned    bool
	Labels   []string
	Comments []Comment
	Children []*Node
	Blocks   []RawBlock
	SyncedAt *time.Time
}

// Body returns the rendered text of the body comment, or "" when the node has
// no comments yet.
func (n *Node) Body() string {
	if n == nil || len(n.Comments) == 0 {
		return ""
	}
	return n.Comments[0].Text
}

// Rest returns the comments after the body.
func (n *Node) Rest() []Comment {
	if n == nil || len(n.Comments) < 2 {
		return nil
	}
	return n.Comments[1:]
}

// Clone returns a deep copy of the node and its subtree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	clone := &Node{
		Ref:   n.Ref,
		Title: n.Title,
		State: n.State,
		Owned: n.Owned,
	}
	if n.Labels != nil {
		clone.Labels = append([]string(nil), n.Labels...)
	}
	if n.Comments != nil {
		clone.Comments = append([]Comment(nil), n.Comments...)
	}
	if n.Blocks != nil {
		clone.Blocks = make([]RawBlock, len(n.Blocks))
		for i, block := range n.Blocks {
			clone.Blocks[i] = RawBlock{Raw: append(json.RawMessage(nil), block.Raw...)}
		}
	}
	if n.SyncedAt != nil {
		at := *n.SyncedAt
		clone.SyncedAt = &at
	}
	if n.Children != nil {
		clone.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			clone.Children[i] = child.Clone()
		}
	}
	return clone
}

// ChildByRef finds the child matching the given linked ref. Children are
// matched by remote id, never by position; pending refs never match.
func (n *Node) ChildByRef(ref NodeRef) (*Node, bool) {
	id, ok := ref.RemoteID()
	if n == nil || !ok {
		return nil, false
	}
	for _, child := range n.Children {
		childID, linked := child.Ref.RemoteID()
		if linked && childID == id {
			return child, true
		}
	}
	return nil, false
}

// CopyContentFrom overwrites the node's compared content fields (close state,
// labels, comments, synced-at) with other's, leaving identity, title, owned
// flag, blocks and children untouched.
func (n *Node) CopyContentFrom(other *Node) {
	if n == nil || other == nil {
		return
	}
	n.State = other.State
	n.Labels = nil
	if other.Labels != nil {
		n.Labels = append([]string(nil), other.Labels...)
	}
	n.Comments = nil
	if other.Comments != nil {
		n.Comments = append([]Comment(nil), other.Comments...)
	}
	n.SyncedAt = nil
	if other.SyncedAt != nil {
		at := *other.SyncedAt
		n.SyncedAt = &at
	}
}
