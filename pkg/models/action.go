// Package models defines the wire and domain records shared across the
// backend: user actions, generator stream events, DOM patches, and the
// offset-tagged forms used by the event log and the live bus.
package models

import (
	"encoding/json"
	"fmt"
)

// ActionType discriminates the Action variants.
type ActionType string

// Action variants.
const (
	ActionPrompt ActionType = "prompt"
	ActionUI     ActionType = "ui_action"
)

// Action is a single user intention submitted to a session. Actions are
// immutable once created and are consumed by exactly one processor batch.
type Action struct {
	Type ActionType `json:"type"`

	// Prompt fields
	Text    string         `json:"text,omitempty"`
	Context map[string]any `json:"context,omitempty"`

	// UI action fields
	Name string         `json:"name,omitempty"`
	Data map[string]any `json:"data,omitempty"`

	// Model override; the most recent non-empty value in a batch wins.
	Model string `json:"model,omitempty"`
}

// NewPrompt creates a free-form prompt action.
func NewPrompt(text string) Action {
	return Action{Type: ActionPrompt, Text: text}
}

// NewUIAction creates a named UI action with opaque payload data.
func NewUIAction(name string, data map[string]any) Action {
	return Action{Type: ActionUI, Name: name, Data: data}
}

// Validate checks the variant-specific required fields.
func (a Action) Validate() error {
	switch a.Type {
	case ActionPrompt:
		if a.Text == "" {
			return fmt.Errorf("prompt action requires text")
		}
	case ActionUI:
		if a.Name == "" {
			return fmt.Errorf("ui action requires name")
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// Describe renders the action as a single prompt line for the generator.
func (a Action) Describe() string {
	switch a.Type {
	case ActionUI:
		if len(a.Data) > 0 {
			data, err := json.Marshal(a.Data)
			if err == nil {
				return fmt.Sprintf("ui action %q with data %s", a.Name, data)
			}
		}
		return fmt.Sprintf("ui action %q", a.Name)
	default:
		return a.Text
	}
}

// EffectiveModel returns the model of the most recent action in batch that
// specifies one, or def when none does.
func EffectiveModel(batch []Action, def string) string {
	for i := len(batch) - 1; i >= 0; i-- {
		if batch[i].Model != "" {
			return batch[i].Model
		}
	}
	return def
}
