// Package chat implements the streaming chat endpoint: one POST runs one
// model turn and streams typed message-part deltas back as NDJSON events.
package chat

import (
	"encoding/json"
	"fmt"
	"net/http"

	"inkwell/api/internal/store"
)

// Event types emitted on the wire, one JSON object per line.
const (
	EventTextDelta      = "text-delta"
	EventReasoningDelta = "reasoning-delta"
	EventToolCall       = "tool-call"
	EventToolOutput     = "tool-output"
	EventFinish         = "finish"
	EventError          = "error"
)

// Finish reasons.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool-calls"
)

// Event is one message-part delta in a streamed turn.
type Event struct {
	Type     string          `json:"type"`
	Delta    string          `json:"delta,omitempty"`
	ToolName string          `json:"toolName,omitempty"`
	CallID   string          `json:"callId,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// StreamWriter emits events unbuffered so intermediaries cannot batch the
// turn into one response.
type StreamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	enc     *json.Encoder
	started bool
}

func NewStreamWriter(w http.ResponseWriter) *StreamWriter {
	flusher, _ := w.(http.Flusher)
	return &StreamWriter{w: w, flusher: flusher, enc: json.NewEncoder(w)}
}

// Started reports whether any event (and thus the response header) has been
// written; after that, errors can only be reported in-stream.
func (s *StreamWriter) Started() bool {
	return s.started
}

// Send writes one event followed by a newline and flushes immediately.
func (s *StreamWriter) Send(ev Event) error {
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "application/octet-stream")
		h.Set("Content-Encoding", "none")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Accel-Buffering", "no")
		s.started = true
	}
	if err := s.enc.Encode(ev); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// FoldEvents builds the assistant message a finished turn produced. Deltas
// are concatenated into text/reasoning parts; tool events become tool-call
// parts, upgraded to output-available when their output arrives.
func FoldEvents(messageID string, events []Event) store.Message {
	msg := store.Message{ID: messageID, Role: store.RoleAssistant, Parts: []store.MessagePart{}}
	byCall := make(map[string]int)
	for _, ev := range events {
		switch ev.Type {
		case EventTextDelta, EventReasoningDelta:
			partType := store.PartText
			if ev.Type == EventReasoningDelta {
				partType = store.PartReasoning
			}
			if n := len(msg.Parts); n > 0 && msg.Parts[n-1].Type == partType {
				msg.Parts[n-1].Text += ev.Delta
				continue
			}
			msg.Parts = append(msg.Parts, store.MessagePart{Type: partType, Text: ev.Delta})
		case EventToolCall:
			byCall[ev.CallID] = len(msg.Parts)
			msg.Parts = append(msg.Parts, store.MessagePart{
				Type:     store.PartToolCall,
				ToolName: ev.ToolName,
				CallID:   ev.CallID,
				Input:    ev.Input,
				State:    store.ToolStatePending,
			})
		case EventToolOutput:
			if i, ok := byCall[ev.CallID]; ok {
				msg.Parts[i].State = store.ToolStateOutputAvailable
				msg.Parts[i].Output = ev.Output
			}
		}
	}
	return msg
}
