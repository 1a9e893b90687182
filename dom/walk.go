package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Walk visits root and every descendant element in document order using an
// explicit stack. Returning false from visit stops the walk early.
// Text, comment and doctype nodes are skipped.
func Walk(root *html.Node, visit func(n *html.Node) bool) {
	if root == nil {
		return
	}
	stack := []*html.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if n.Type == html.ElementNode || n.Type == html.DocumentNode {
			if n.Type == html.ElementNode && !visit(n) {
				return
			}
			// Push children in reverse so the walk stays in document order.
			for c := n.LastChild; c != nil; c = c.PrevSibling {
				stack = append(stack, c)
			}
		}
	}
}

// Attr returns the value of the named attribute, or "" if absent.
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// AncestorsUntil returns n's ancestor elements from nearest outward,
// stopping at (and excluding) stop. A nil stop walks to the tree root.
func AncestorsUntil(n, stop *html.Node) []*html.Node {
	var out []*html.Node
	for p := n.Parent; p != nil && p != stop; p = p.Parent {
		if p.Type == html.ElementNode {
			out = append(out, p)
		}
	}
	return out
}

// ClassIDContains reports whether the node's class or id attribute contains
// any of the given lowercase substrings.
func ClassIDContains(n *html.Node, patterns []string) bool {
	haystack := strings.ToLower(Attr(n, "class") + " " + Attr(n, "id"))
	for _, p := range patterns {
		if strings.Contains(haystack, p) {
			return true
		}
	}
	return false
}
