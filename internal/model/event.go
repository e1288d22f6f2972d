package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is one ASA audit event as returned in the "list" field of an auditsV2 page.
// Events are kept as generic maps so unknown fields pass through to the sink untouched.
type Event map[string]any

// localLayouts are accepted after RFC 3339 for timestamps without an offset.
// Such times are read as UTC.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp returns the parsed event time. ok is false when the field is absent or null.
func (e Event) Timestamp() (ts time.Time, ok bool, err error) {
	raw, present := e["timestamp"]
	if !present || raw == nil {
		return time.Time{}, false, nil
	}
	s, isString := raw.(string)
	if !isString {
		return time.Time{}, false, fmt.Errorf("timestamp: unexpected type %T", raw)
	}
	ts, err = time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return ts, true, nil
	}
	for _, layout := range localLayouts {
		if local, lerr := time.ParseInLocation(layout, s, time.UTC); lerr == nil {
			return local, true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("timestamp: %w", err)
}

// Details returns the event's details map, or nil when absent.
func (e Event) Details() map[string]any {
	d, _ := e["details"].(map[string]any)
	return d
}

// Clone returns a copy of e with its own details map. Other nested values are shared.
func (e Event) Clone() Event {
	out := make(Event, len(e))
	for k, v := range e {
		out[k] = v
	}
	if d := e.Details(); d != nil {
		nd := make(map[string]any, len(d))
		for k, v := range d {
			nd[k] = v
		}
		out["details"] = nd
	}
	return out
}

// String renders the event as compact JSON.
func (e Event) String() string {
	data, err := json.Marshal(map[string]any(e))
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(e))
	}
	return string(data)
}

// RelatedObject wraps a full entity referenced by identifier within one page.
type RelatedObject struct {
	Type   string `json:"type,omitempty"`
	Object any    `json:"object"`
}

// RelatedObjects maps reference identifiers to the objects they resolve to.
// The index is only valid for the page it was returned with.
type RelatedObjects map[string]RelatedObject

// Page is one auditsV2 response.
type Page struct {
	Events    []Event
	Related   RelatedObjects
	Next      string // absolute URL of the next page; empty when the feed is exhausted
	RateLimit RateLimit
}
