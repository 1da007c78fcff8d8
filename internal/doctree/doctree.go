// Package doctree is a typed view of the host document's structure used for
// selection resolution. The host sends a snapshot of the relevant subtree
// with each edit trigger; traversal never touches the live document.
package doctree

import "errors"

var (
	ErrNodeNotFound   = errors.New("node not found in tree")
	ErrNoCommonParent = errors.New("nodes share no parent")
)

// NodeKind distinguishes addressable units from inline spans and the
// document root.
type NodeKind string

const (
	KindDocument  NodeKind = "document"
	KindParagraph NodeKind = "paragraph"
	KindHeading   NodeKind = "heading"
	KindListItem  NodeKind = "list_item"
	KindQuote     NodeKind = "quote"
	KindCode      NodeKind = "code"
	KindSpan      NodeKind = "span"
)

// Addressable reports whether a node of this kind can be targeted by unit
// CRUD calls.
func (k NodeKind) Addressable() bool {
	switch k {
	case KindParagraph, KindHeading, KindListItem, KindQuote, KindCode:
		return true
	default:
		return false
	}
}

type Node struct {
	ID      string
	Kind    NodeKind
	Parent  string
	Content string
}

// Tree exposes parent/child structure over node ids.
type Tree interface {
	NodeOf(id string) (Node, bool)
	ParentOf(id string) (string, bool)
	ChildrenOf(id string) []string
}

// MemTree is the snapshot implementation built from trigger parameters.
type MemTree struct {
	nodes    map[string]Node
	children map[string][]string
}

func NewMemTree() *MemTree {
	return &MemTree{
		nodes:    make(map[string]Node),
		children: make(map[string][]string),
	}
}

// Add appends a node; children are kept in insertion (document) order.
func (t *MemTree) Add(node Node) {
	t.nodes[node.ID] = node
	if node.Parent != "" {
		t.children[node.Parent] = append(t.children[node.Parent], node.ID)
	}
}

func (t *MemTree) NodeOf(id string) (Node, bool) {
	node, ok := t.nodes[id]
	return node, ok
}

func (t *MemTree) ParentOf(id string) (string, bool) {
	node, ok := t.nodes[id]
	if !ok || node.Parent == "" {
		return "", false
	}
	return node.Parent, true
}

func (t *MemTree) ChildrenOf(id string) []string {
	return t.children[id]
}
