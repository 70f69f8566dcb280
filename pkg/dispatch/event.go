// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import "encoding/json"

// EventType identifies one external protocol event. This protocol is the
// only contract the presentation layer may depend on.
type EventType string

const (
	EventTurnStarted   EventType = "turn.started"
	EventContentDelta  EventType = "content.delta"
	EventToolStarted   EventType = "tool.started"
	EventToolCompleted EventType = "tool.completed"
	EventTurnDone      EventType = "turn.done"
	EventTurnError     EventType = "turn.error"
)

// Event is one external protocol event. Only the fields relevant to the
// event type are populated; everything else is omitted from the encoding.
type Event struct {
	Type EventType `json:"type"`

	// turn.started, content.delta, turn.done
	ItemID string `json:"item_id,omitempty"`

	// content.delta: the incremental text only, never previously sent text.
	Text string `json:"text,omitempty"`

	// tool.started, tool.completed
	CallID    string         `json:"call_id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    any            `json:"result,omitempty"`

	// turn.done: the complete accumulated text.
	FullText string `json:"full_text,omitempty"`

	// turn.error
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Retryable *bool  `json:"retryable,omitempty"`
}

// Encode renders the event as JSON.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func turnStarted(itemID string) Event {
	return Event{Type: EventTurnStarted, ItemID: itemID}
}

func contentDelta(itemID, text string) Event {
	return Event{Type: EventContentDelta, ItemID: itemID, Text: text}
}

func toolStarted(callID, name string, args map[string]any) Event {
	return Event{Type: EventToolStarted, CallID: callID, Name: name, Arguments: args}
}

func toolCompleted(callID, name string, result any) Event {
	return Event{Type: EventToolCompleted, CallID: callID, Name: name, Result: result}
}

func turnDone(itemID, fullText string) Event {
	return Event{Type: EventTurnDone, ItemID: itemID, FullText: fullText}
}

func turnError(code, message string, retryable bool) Event {
	return Event{Type: EventTurnError, Code: code, Message: message, Retryable: &retryable}
}

// State is the conversational turn state. DONE and ERRORED are terminal:
// no event is emitted after either is reached.
type State string

const (
	StateStarted     State = "STARTED"
	StateStreaming   State = "STREAMING"
	StateToolPending State = "TOOL_PENDING"
	StateDone        State = "DONE"
	StateErrored     State = "ERRORED"
)

// terminal reports whether the state admits no further transitions.
func (s State) terminal() bool {
	return s == StateDone || s == StateErrored
}
