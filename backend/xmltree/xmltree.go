// Package xmltree locates elements and attributes in a parsed SOAP document
// without caring which namespace prefix the sender picked.
package xmltree

import (
	"errors"
	"strings"

	"github.com/beevik/etree"
)

var (
	ErrEmptyDocument = errors.New("xmltree: empty document")
	ErrNoBody        = errors.New("xmltree: envelope has no Body")
	ErrNoMethod      = errors.New("xmltree: Body has no payload element")
)

// Document is a parsed request. It is never modified after Parse returns.
type Document struct {
	doc  *etree.Document
	root *Node
}

// Node is a read-only handle on one element of a Document.
type Node struct {
	el *etree.Element
}

func Parse(data []byte) (*Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil {
		return nil, ErrEmptyDocument
	}
	return &Document{doc: doc, root: wrap(root)}, nil
}

func (d *Document) Root() *Node {
	if d == nil {
		return nil
	}
	return d.root
}

func wrap(el *etree.Element) *Node {
	if el == nil {
		return nil
	}
	return &Node{el: el}
}

// Tag returns the element name as written, prefix included.
func (n *Node) Tag() string {
	if n == nil {
		return ""
	}
	return n.el.FullTag()
}

// LocalName strips any "prefix:" from the tag.
func (n *Node) LocalName() string {
	tag := n.Tag()
	if idx := strings.LastIndexByte(tag, ':'); idx >= 0 {
		return tag[idx+1:]
	}
	return tag
}

// Text returns the leading character data of the element, or "" when there is none.
func (n *Node) Text() string {
	if n == nil {
		return ""
	}
	return n.el.Text()
}

func (n *Node) Children() []*Node {
	if n == nil {
		return nil
	}
	children := n.el.ChildElements()
	result := make([]*Node, 0, len(children))
	for _, child := range children {
		result = append(result, wrap(child))
	}
	return result
}

// Matches reports whether tag is name, or ends with ":"+name behind a non-empty prefix.
func Matches(tag string, name string) bool {
	if tag == name {
		return true
	}
	if len(tag) <= len(name)+1 {
		return false
	}
	return strings.HasSuffix(tag, ":"+name)
}

// FirstChild returns the first direct child of node whose tag matches name.
func FirstChild(node *Node, name string) *Node {
	if node == nil {
		return nil
	}
	for _, child := range node.el.ChildElements() {
		if Matches(child.FullTag(), name) {
			return wrap(child)
		}
	}
	return nil
}

// FindNode walks scope in document order (self, then each child's subtree)
// and returns the first element matching name.
func FindNode(name string, scope *Node) *Node {
	if scope == nil {
		return nil
	}
	stack := []*etree.Element{scope.el}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if Matches(current.FullTag(), name) {
			return wrap(current)
		}
		children := current.ChildElements()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return nil
}

// FindNodeIn is FindNode restricted to the descendants of parent.
func FindNodeIn(name string, parent *Node) *Node {
	if parent == nil {
		return nil
	}
	for _, child := range parent.el.ChildElements() {
		if found := FindNode(name, wrap(child)); found != nil {
			return found
		}
	}
	return nil
}

// FindText returns the text of the first element matching name under scope.
// ok is false when nothing matches; a match without text yields "".
func FindText(name string, scope *Node) (string, bool) {
	node := FindNode(name, scope)
	if node == nil {
		return "", false
	}
	return node.Text(), true
}

// FindTextIn is FindText restricted to the descendants of parent.
func FindTextIn(name string, parent *Node) (string, bool) {
	node := FindNodeIn(name, parent)
	if node == nil {
		return "", false
	}
	return node.Text(), true
}

// Attribute looks up an attribute by its exact name, prefix included.
func Attribute(node *Node, name string) (string, bool) {
	if node == nil {
		return "", false
	}
	for _, attr := range node.el.Attr {
		if attr.FullKey() == name {
			return attr.Value, true
		}
	}
	return "", false
}
