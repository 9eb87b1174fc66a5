// Package route holds the route tree of the portal and the guard that gates
// protected views on the authentication status.
package route

import (
	"strings"
)

// Paths of the portal.
const (
	PathRoot      = "/"
	PathLogin     = "/auth/login"
	PathSignup    = "/auth/signup"
	PathDashboard = "/dashboard"
	PathPatient   = "/dashboard/patient"
	PathDoctor    = "/dashboard/doctor"
)

// CatchAll matches any remaining path.
const CatchAll = "*"

// Node is a single segment of the route tree.
type Node struct {
	// Path is one segment without slashes, "" for the index of "/" and CatchAll for the fallback.
	Path      string
	Protected bool
	// Page is the template rendered when the node is the target.
	Page string
	// Layout wraps the pages of the node and its descendants.
	Layout string
	// Roles restricts the node to the listed user roles. Empty means any.
	Roles    []string
	Children []*Node
}

// Match is a resolved route: the chain of nodes from the root to the target.
type Match struct {
	Path  string
	Chain []*Node
}

// Target returns the last node of the chain.
func (m Match) Target() *Node {
	if len(m.Chain) == 0 {
		return nil
	}
	return m.Chain[len(m.Chain)-1]
}

// Protected reports whether any node on the chain is protected.
func (m Match) Protected() bool {
	for _, n := range m.Chain {
		if n.Protected {
			return true
		}
	}
	return false
}

// Page returns the page of the target.
func (m Match) Page() string {
	if t := m.Target(); t != nil {
		return t.Page
	}
	return ""
}

// Layouts returns the layouts on the chain, innermost first.
func (m Match) Layouts() []string {
	out := make([]string, 0, 2)
	for i := len(m.Chain) - 1; i >= 0; i-- {
		if l := m.Chain[i].Layout; l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Roles returns the innermost role restriction on the chain.
func (m Match) Roles() []string {
	for i := len(m.Chain) - 1; i >= 0; i-- {
		if len(m.Chain[i].Roles) > 0 {
			return m.Chain[i].Roles
		}
	}
	return nil
}

// NotFound reports whether the path was resolved by the catch-all.
func (m Match) NotFound() bool {
	t := m.Target()
	return t != nil && t.Path == CatchAll
}

// Tree is an immutable route tree.
type Tree struct {
	root     *Node
	fallback *Node
}

// NewTree builds a Tree under an unguarded root. A top-level node with an
// empty Path is the index of "/"; a top-level CatchAll node becomes the fallback.
func NewTree(top ...*Node) *Tree {
	t := &Tree{root: &Node{}}
	for _, n := range top {
		if n.Path == CatchAll {
			t.fallback = n
			continue
		}
		t.root.Children = append(t.root.Children, n)
	}
	return t
}

// DefaultTree is the route tree of the portal.
func DefaultTree() *Tree {
	return NewTree(
		&Node{Path: "", Protected: true, Page: "index"},
		&Node{Path: "auth", Children: []*Node{
			{Path: "login", Page: "login"},
			{Path: "signup", Page: "signup"},
		}},
		&Node{Path: "dashboard", Protected: true, Layout: "dashboard", Page: "dashboard_home", Children: []*Node{
			{Path: "patient", Page: "patient", Roles: []string{"PATIENT"}},
			{Path: "doctor", Page: "doctor", Roles: []string{"DOCTOR"}},
		}},
		&Node{Path: CatchAll, Page: "notfound"},
	)
}

// Resolve walks the tree from the root and returns the matched chain.
// Paths are case sensitive; a trailing slash is ignored. Intermediate nodes
// without a page do not match as targets.
func (t *Tree) Resolve(path string) Match {
	clean := "/" + strings.Trim(path, "/")
	chain := []*Node{t.root}
	node := t.root
	if clean == "/" {
		if index := child(t.root, ""); index != nil {
			chain = append(chain, index)
			node = index
		}
	} else {
		for _, seg := range strings.Split(strings.TrimPrefix(clean, "/"), "/") {
			next := child(node, seg)
			if next == nil {
				return t.notFound(clean)
			}
			chain = append(chain, next)
			node = next
		}
	}
	if node.Page == "" {
		return t.notFound(clean)
	}
	return Match{Path: clean, Chain: chain}
}

// Paths lists every routable path of the tree.
func (t *Tree) Paths() []string {
	var out []string
	var walk func(prefix string, n *Node)
	walk = func(prefix string, n *Node) {
		p := prefix
		if n != t.root {
			p = strings.TrimSuffix(prefix, "/") + "/" + n.Path
		}
		if n.Page != "" {
			out = append(out, p)
		}
		for _, c := range n.Children {
			walk(p, c)
		}
	}
	walk("/", t.root)
	return out
}

func (t *Tree) notFound(path string) Match {
	if t.fallback == nil {
		return Match{Path: path}
	}
	return Match{Path: path, Chain: []*Node{t.fallback}}
}

func child(n *Node, seg string) *Node {
	for _, c := range n.Children {
		if c.Path == seg {
			return c
		}
	}
	return nil
}
