// Package dom maintains the scratch document a session's generated page
// is validated and evolved against. Patches target elements by id
// selector; a patch that cannot be applied yields a *PatchError the
// retry stream turns into a corrective continuation.
package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/pagegen/pagegen/pkg/models"
)

// Document is a mutable HTML fragment. Not safe for concurrent use; each
// processor owns exactly one.
type Document struct {
	// body is a synthetic container so the fragment round-trips without
	// html/head wrappers.
	body *html.Node
}

// Parse builds a document from the session's current HTML fragment.
// An empty string yields an empty document.
func Parse(fragment string) (*Document, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML fragment: %w", err)
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}
	return &Document{body: body}, nil
}

// Render serializes the document back to an HTML fragment.
func (d *Document) Render() (string, error) {
	var sb strings.Builder
	for n := d.body.FirstChild; n != nil; n = n.NextSibling {
		if err := html.Render(&sb, n); err != nil {
			return "", fmt.Errorf("failed to render document: %w", err)
		}
	}
	return sb.String(), nil
}

// Reset replaces the whole document with a new fragment, as a full-HTML
// replacement event does. The document is unchanged on error.
func (d *Document) Reset(fragment string) error {
	parsed, err := Parse(fragment)
	if err != nil {
		return err
	}
	d.body = parsed.body
	return nil
}

// Clone returns an independent copy of the document.
func (d *Document) Clone() (*Document, error) {
	rendered, err := d.Render()
	if err != nil {
		return nil, err
	}
	return Parse(rendered)
}

// Apply mutates the document with a single patch. Validation failures are
// returned as *PatchError; the document is unchanged on error.
func (d *Document) Apply(patch models.Patch) error {
	target, err := d.resolve(patch.Selector)
	if err != nil {
		return err
	}

	switch patch.Op {
	case models.OpSetText:
		removeChildren(target)
		target.AppendChild(&html.Node{Type: html.TextNode, Data: patch.Text})
	case models.OpSetAttrs:
		for key, value := range patch.Attrs {
			if value == nil {
				removeAttr(target, key)
			} else {
				setAttr(target, key, *value)
			}
		}
	case models.OpSetHTML:
		children, err := d.parseInto(target, patch.Text)
		if err != nil {
			return err
		}
		removeChildren(target)
		for _, c := range children {
			target.AppendChild(c)
		}
	case models.OpAppend:
		children, err := d.parseInto(target, patch.Text)
		if err != nil {
			return err
		}
		for _, c := range children {
			target.AppendChild(c)
		}
	case models.OpPrepend:
		children, err := d.parseInto(target, patch.Text)
		if err != nil {
			return err
		}
		first := target.FirstChild
		for _, c := range children {
			target.InsertBefore(c, first)
		}
	case models.OpRemove:
		if target.Parent == nil {
			return &PatchError{
				Selector: patch.Selector,
				Reason:   ReasonApplyFailure,
				Message:  "element has no parent",
			}
		}
		target.Parent.RemoveChild(target)
	default:
		return &PatchError{
			Selector: patch.Selector,
			Reason:   ReasonApplyFailure,
			Message:  fmt.Sprintf("unknown operation %q", patch.Op),
		}
	}
	return nil
}

// ApplyAll applies a batch atomically: either every patch lands or the
// document is unchanged. The first failure is returned.
func (d *Document) ApplyAll(patches []models.Patch) error {
	scratch, err := d.Clone()
	if err != nil {
		return err
	}
	for _, p := range patches {
		if err := scratch.Apply(p); err != nil {
			return err
		}
	}
	d.body = scratch.body
	return nil
}

// resolve maps an id selector to its element. Selectors must be of the
// form "#<id>"; anything else is rejected before the tree is consulted.
func (d *Document) resolve(selector string) (*html.Node, error) {
	if selector == "" {
		return nil, &PatchError{
			Reason:  ReasonEmptySelector,
			Message: "selector is empty",
		}
	}
	if !strings.HasPrefix(selector, "#") || len(selector) == 1 {
		return nil, &PatchError{
			Selector: selector,
			Reason:   ReasonInvalidSelector,
			Message:  "selector must be an id fragment like \"#main\"",
		}
	}
	if node := findByID(d.body, selector[1:]); node != nil {
		return node, nil
	}
	return nil, &PatchError{
		Selector: selector,
		Reason:   ReasonSelectorNotFound,
		Message:  "no element with this id",
	}
}

func (d *Document) parseInto(context *html.Node, fragment string) ([]*html.Node, error) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return nil, &PatchError{
			Reason:  ReasonApplyFailure,
			Message: fmt.Sprintf("failed to parse HTML fragment: %v", err),
		}
	}
	return nodes, nil
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Key == "id" && a.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func removeChildren(n *html.Node) {
	for n.FirstChild != nil {
		n.RemoveChild(n.FirstChild)
	}
}

func setAttr(n *html.Node, key, value string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: value})
}

func removeAttr(n *html.Node, key string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}
