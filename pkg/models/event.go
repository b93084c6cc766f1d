package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates the StreamEvent variants.
type EventType string

// StreamEvent types. The generator itself emits only "patches" and "full"
// records; the remaining types are synthesized by the processor.
const (
	EventSession EventType = "session"
	EventPatches EventType = "patches"
	EventFull    EventType = "full"
	EventStats   EventType = "stats"
	EventDone    EventType = "done"
)

// Stats summarizes one generator invocation across all retry attempts.
type Stats struct {
	CacheRate       float64 `json:"cache_rate"`
	TokensPerSecond float64 `json:"tokens_per_second"`
	Mode            string  `json:"mode"`
	PatchCount      int     `json:"patch_count"`
}

// StreamEvent is one record produced for a session and broadcast to
// subscribers. Which fields are populated depends on Type.
type StreamEvent struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"` // session
	Patches   []Patch   `json:"patches,omitempty"`    // patches
	HTML      string    `json:"html,omitempty"`       // full, done
	Stats     *Stats    `json:"stats,omitempty"`      // stats
}

// SessionEvent creates the optional session bootstrap event.
func SessionEvent(sessionID string) StreamEvent {
	return StreamEvent{Type: EventSession, SessionID: sessionID}
}

// PatchesEvent creates a patches event.
func PatchesEvent(patches []Patch) StreamEvent {
	return StreamEvent{Type: EventPatches, Patches: patches}
}

// FullEvent creates a full-HTML replacement event.
func FullEvent(html string) StreamEvent {
	return StreamEvent{Type: EventFull, HTML: html}
}

// StatsEvent creates a terminal statistics event.
func StatsEvent(s Stats) StreamEvent {
	return StreamEvent{Type: EventStats, Stats: &s}
}

// DoneEvent creates the terminal event carrying the session's current HTML.
func DoneEvent(html string) StreamEvent {
	return StreamEvent{Type: EventDone, HTML: html}
}

// IsTerminalHTML reports whether the event carries a complete document
// usable to restore the session's current HTML on restart.
func (e StreamEvent) IsTerminalHTML() bool {
	return e.Type == EventFull || e.Type == EventDone
}

// DecodeGeneratorRecord parses one newline-delimited generator record. Per
// the response schema only "patches" and "full" are valid on the wire; any
// other shape is a parse failure for the retry stream to repair.
func DecodeGeneratorRecord(line []byte) (StreamEvent, error) {
	var e StreamEvent
	if err := json.Unmarshal(line, &e); err != nil {
		return StreamEvent{}, fmt.Errorf("invalid record JSON: %w", err)
	}
	switch e.Type {
	case EventPatches:
		if len(e.Patches) == 0 {
			return StreamEvent{}, fmt.Errorf("patches record has no patches")
		}
	case EventFull:
		if e.HTML == "" {
			return StreamEvent{}, fmt.Errorf("full record has no html")
		}
	default:
		return StreamEvent{}, fmt.Errorf("unknown record type %q", e.Type)
	}
	return e, nil
}

// EventWithOffset pairs an event with its per-session offset. Offsets form
// a dense sequence starting at 0, or at latest persisted offset + 1 after a
// processor restart.
type EventWithOffset struct {
	Event  StreamEvent `json:"event"`
	Offset int64       `json:"offset"`
}

// LogRow is one durable event-log row. Primary ordering is
// (session_id, offset); created_at serves retention.
type LogRow struct {
	SessionID string
	Offset    int64
	Type      EventType
	Payload   []byte
	CreatedAt time.Time
}

// DecodeEvent deserializes the row's payload.
func (r LogRow) DecodeEvent() (StreamEvent, error) {
	var e StreamEvent
	if err := json.Unmarshal(r.Payload, &e); err != nil {
		return StreamEvent{}, fmt.Errorf("decode log row (%s, %d): %w", r.SessionID, r.Offset, err)
	}
	return e, nil
}

// WithOffset converts the row into its live-stream form.
func (r LogRow) WithOffset() (EventWithOffset, error) {
	e, err := r.DecodeEvent()
	if err != nil {
		return EventWithOffset{}, err
	}
	return EventWithOffset{Event: e, Offset: r.Offset}, nil
}
