package tracker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var ErrNoDocument = errors.New("no working document")

const documentVersion = 1

// docNode is the wire form of a Node in the working document. The real
// hierarchical text format lives outside this engine; the document codec
// consumes and produces the already-structured tree.
type docNode struct {
	ID          string            `json:"id,omitempty"`
	Title       string            `json:"title"`
	State       string            `json:"state"`
	DuplicateOf string            `json:"duplicateOf,omitempty"`
	Owned       bool              `json:"owned,omitempty"`
	Labels      []string          `json:"labels,omitempty"`
	Comments    []docComment      `json:"comments,omitempty"`
	Children    []docNode         `json:"children,omitempty"`
	Blocks      []json.RawMessage `json:"blocks,omitempty"`
	SyncedAt    *time.Time        `json:"syncedAt,omitempty"`
}

type docComment struct {
	Kind  string `json:"kind"`
	ID    string `json:"id,omitempty"`
	Text  string `json:"text"`
	Owned bool   `json:"owned,omitempty"`
}

type document struct {
	Version int     `json:"version"`
	Root    docNode `json:"root"`
}

// ReadDocument loads and validates the working document at path and returns
// its tree. A missing file yields ErrNoDocument.
func ReadDocument(path string) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoDocument
		}
		return nil, err
	}
	return DecodeDocument(data)
}

// DecodeDocument parses a working-document payload.
func DecodeDocument(data []byte) (*Node, error) {
	if err := validateDocument(data); err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Version != documentVersion {
		return nil, fmt.Errorf("%w: unsupported document version %d", ErrInvalidDocument, doc.Version)
	}
	return doc.Root.toNode()
}

// EncodeDocument serializes the tree to its working-document form.
func EncodeDocument(root *Node) ([]byte, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: nil tree", ErrInvalidDocument)
	}
	doc := document{
		Version: documentVersion,
		Root:    fromNode(root),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// WriteDocument serializes the tree and writes it atomically.
func WriteDocument(path string, root *Node) error {
	data, err := EncodeDocument(root)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0o644)
}

var ErrInvalidDocument = errors.New("invalid working document")

func (d docNode) toNode() (*Node, error) {
	node := &Node{
		Title: d.Title,
		Owned: d.Owned,
	}
	if strings.TrimSpace(d.ID) != "" {
		node.Ref = LinkedRef(d.ID)
	} else {
		node.Ref = PendingRef()
	}
	switch d.State {
	case "open", "":
		node.State = Open()
	case "closed":
		node.State = Closed()
	case "not-planned":
		node.State = NotPlanned()
	case "duplicate":
		node.State = DuplicateOf(d.DuplicateOf)
	default:
		return nil, fmt.Errorf("%w: unknown close state %q", ErrInvalidDocument, d.State)
	}
	if d.Labels != nil {
		node.Labels = append([]string(nil), d.Labels...)
	}
	for i, comment := range d.Comments {
		converted, err := comment.toComment(i == 0)
		if err != nil {
			return nil, err
		}
		node.Comments = append(node.Comments, converted)
	}
	for _, block := range d.Blocks {
		node.Blocks = append(node.Blocks, RawBlock{Raw: append(json.RawMessage(nil), block...)})
	}
	node.SyncedAt = d.SyncedAt
	for _, child := range d.Children {
		childNode, err := child.toNode()
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, childNode)
	}
	return node, nil
}

func (c docComment) toComment(first bool) (Comment, error) {
	comment := Comment{Text: c.Text, Owned: c.Owned}
	switch c.Kind {
	case "body":
		if !first {
			return Comment{}, fmt.Errorf("%w: body comment after position 0", ErrInvalidDocument)
		}
		comment.Ref = BodyRef()
	case "linked":
		if strings.TrimSpace(c.ID) == "" {
			return Comment{}, fmt.Errorf("%w: linked comment without id", ErrInvalidDocument)
		}
		comment.Ref = LinkedCommentRef(c.ID)
	case "pending":
		comment.Ref = PendingCommentRef()
	default:
		return Comment{}, fmt.Errorf("%w: unknown comment kind %q", ErrInvalidDocument, c.Kind)
	}
	return comment, nil
}

func fromNode(n *Node) docNode {
	out := docNode{
		Title: n.Title,
		Owned: n.Owned,
		State: n.State.String(),
	}
	if id, ok := n.Ref.RemoteID(); ok {
		out.ID = id
	}
	if target, ok := n.State.DuplicateTarget(); ok {
		out.DuplicateOf = target
	}
	if n.Labels != nil {
		out.Labels = append([]string(nil), n.Labels...)
	}
	for _, comment := range n.Comments {
		out.Comments = append(out.Comments, fromComment(comment))
	}
	for _, block := range n.Blocks {
		out.Blocks = append(out.Blocks, append(json.RawMessage(nil), block.Raw...))
	}
	out.SyncedAt = n.SyncedAt
	for _, child := range n.Children {
		out.Children = append(out.Children, fromNode(child))
	}
	return out
}

func fromComment(c Comment) docComment {
	out := docComment{Text: c.Text, Owned: c.Owned}
	switch {
	case c.Ref.IsBody():
		out.Kind = "body"
	case c.Ref.IsPending():
		out.Kind = "pending"
	default:
		out.Kind = "linked"
		if id, ok := c.Ref.RemoteID(); ok {
			out.ID = id
		}
	}
	return out
}

func validateDocument(data []byte) error {
	schema, err := compiledDocumentSchema()
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
