// Package mailboxtree turns a server's mailbox listing into a tree and back
// into fully-qualified mailbox paths.
package mailboxtree

import "strings"

// Node is one mailbox in a server's hierarchy.
type Node struct {
	Name     string
	Children []*Node
}

// Child returns the direct child called name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// BuildTree nests the flat names a LIST returns using delim. Siblings keep
// the order in which the server first mentioned them. Parents the server
// never listed on their own are created so that every path prefix has a
// node.
func BuildTree(names []string, delim string) []*Node {
	root := &Node{}
	for _, name := range names {
		parts := []string{name}
		if delim != "" {
			parts = strings.Split(name, delim)
		}
		cur := root
		for _, p := range parts {
			next := cur.Child(p)
			if next == nil {
				next = &Node{Name: p}
				cur.Children = append(cur.Children, next)
			}
			cur = next
		}
	}
	return root.Children
}

// Flatten returns one path per node, depth-first with parents before their
// children, each path being the ancestor names joined by delim. It walks an
// explicit stack so depth is bounded only by memory.
func Flatten(nodes []*Node, delim string) []string {
	type frame struct {
		node   *Node
		prefix string
	}

	var out []string
	stack := make([]frame, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: nodes[i]})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		name := f.prefix + f.node.Name
		out = append(out, name)

		prefix := name + delim
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: f.node.Children[i], prefix: prefix})
		}
	}
	return out
}

// Count returns the total number of nodes in the forest.
func Count(nodes []*Node) int {
	n := 0
	stack := append([]*Node(nil), nodes...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n++
		stack = append(stack, cur.Children...)
	}
	return n
}
