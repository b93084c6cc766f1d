package models

import (
	"encoding/json"
	"fmt"
)

// PatchOp identifies the mutation a Patch performs on its selected node.
type PatchOp string

// Patch operations.
const (
	OpSetText  PatchOp = "text"
	OpSetAttrs PatchOp = "attr"
	OpSetHTML  PatchOp = "html"
	OpAppend   PatchOp = "append"
	OpPrepend  PatchOp = "prepend"
	OpRemove   PatchOp = "remove"
)

// Patch is a selector-targeted mutation instruction for the rendered
// document. Exactly one operation field is set, matching the wire format
// where the operation is tagged by which extra key accompanies "selector".
type Patch struct {
	Selector string
	Op       PatchOp

	// Text holds the payload for text/html/append/prepend operations.
	Text string

	// Attrs holds attribute updates for the attr operation; a nil value
	// removes the attribute.
	Attrs map[string]*string
}

// patchWire mirrors the generator's JSON patch object. The operation is
// implied by which optional field is present.
type patchWire struct {
	Selector string             `json:"selector"`
	Text     *string            `json:"text,omitempty"`
	Attr     map[string]*string `json:"attr,omitempty"`
	HTML     *string            `json:"html,omitempty"`
	Append   *string            `json:"append,omitempty"`
	Prepend  *string            `json:"prepend,omitempty"`
	Remove   *bool              `json:"remove,omitempty"`
}

// MarshalJSON encodes the patch in the tagged-by-presence wire format.
func (p Patch) MarshalJSON() ([]byte, error) {
	w := patchWire{Selector: p.Selector}
	switch p.Op {
	case OpSetText:
		w.Text = &p.Text
	case OpSetAttrs:
		w.Attr = p.Attrs
	case OpSetHTML:
		w.HTML = &p.Text
	case OpAppend:
		w.Append = &p.Text
	case OpPrepend:
		w.Prepend = &p.Text
	case OpRemove:
		t := true
		w.Remove = &t
	default:
		return nil, fmt.Errorf("patch has unknown op %q", p.Op)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire format, requiring exactly one operation
// field alongside the selector.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var w patchWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	ops := 0
	if w.Text != nil {
		p.Op, p.Text = OpSetText, *w.Text
		ops++
	}
	if w.Attr != nil {
		p.Op, p.Attrs = OpSetAttrs, w.Attr
		ops++
	}
	if w.HTML != nil {
		p.Op, p.Text = OpSetHTML, *w.HTML
		ops++
	}
	if w.Append != nil {
		p.Op, p.Text = OpAppend, *w.Append
		ops++
	}
	if w.Prepend != nil {
		p.Op, p.Text = OpPrepend, *w.Prepend
		ops++
	}
	if w.Remove != nil && *w.Remove {
		p.Op = OpRemove
		ops++
	}
	if ops != 1 {
		return fmt.Errorf("patch must carry exactly one operation, got %d", ops)
	}

	p.Selector = w.Selector
	return nil
}

// SetText creates a set-text patch.
func SetText(selector, text string) Patch {
	return Patch{Selector: selector, Op: OpSetText, Text: text}
}

// SetAttrs creates a set-attributes patch; nil values remove attributes.
func SetAttrs(selector string, attrs map[string]*string) Patch {
	return Patch{Selector: selector, Op: OpSetAttrs, Attrs: attrs}
}

// SetHTML creates a set-inner-html patch.
func SetHTML(selector, html string) Patch {
	return Patch{Selector: selector, Op: OpSetHTML, Text: html}
}

// AppendHTML creates an append-html patch.
func AppendHTML(selector, html string) Patch {
	return Patch{Selector: selector, Op: OpAppend, Text: html}
}

// PrependHTML creates a prepend-html patch.
func PrependHTML(selector, html string) Patch {
	return Patch{Selector: selector, Op: OpPrepend, Text: html}
}

// Remove creates a remove patch.
func Remove(selector string) Patch {
	return Patch{Selector: selector, Op: OpRemove}
}
