// Package session drives one streaming exchange between an active chat
// thread and the model backend. It consumes the turn's part-delta stream,
// executes tool calls against the project store, and persists the final
// message log exactly once per completed turn.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"inkwell/api/internal/chat"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

// State of a session's current turn.
type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StateError     State = "error"
)

// maxContinuations bounds how many times a turn resumes after executing
// client-side tools, mirroring the backend's own step cap.
const maxContinuations = 5

// TurnStream is the finite, ordered sequence of events for one model step.
type TurnStream interface {
	// Next returns the next event, or io.EOF when the step is complete.
	Next() (chat.Event, error)
	Close() error
}

// Streamer opens one model step for the given conversation.
type Streamer interface {
	StreamTurn(ctx context.Context, messages []store.Message, projectContent string) (TurnStream, error)
}

// toolCall is the closed set of tools a stream may ask this session to run.
// Parsing into the variant keeps dispatch exhaustive; an unknown tool name is
// a parse error, not a silent branch.
type toolCall interface {
	isToolCall()
}

type readContent struct {
	callID string
}

type updateContent struct {
	callID  string
	content string
}

func (readContent) isToolCall()   {}
func (updateContent) isToolCall() {}

func parseToolCall(part store.MessagePart) (toolCall, error) {
	switch part.ToolName {
	case chat.ToolReadProjectContent:
		return readContent{callID: part.CallID}, nil
	case chat.ToolUpdateProjectContent:
		var input struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(part.Input, &input); err != nil {
			return nil, fmt.Errorf("parse %s input: %w", part.ToolName, err)
		}
		return updateContent{callID: part.CallID, content: input.Content}, nil
	default:
		return nil, fmt.Errorf("unknown tool %q", part.ToolName)
	}
}

// Session runs turns for one project's active thread.
type Session struct {
	store    *store.Store
	streamer Streamer

	projectID string
	threadID  string

	mu        sync.Mutex
	state     State
	lastError string
	// executed tracks tool call ids already applied, so a replayed or
	// duplicated call never runs its side effect twice.
	executed map[string]json.RawMessage
}

func New(s *store.Store, streamer Streamer, projectID, threadID string) *Session {
	return &Session{
		store:     s,
		streamer:  streamer,
		projectID: projectID,
		threadID:  threadID,
		state:     StateIdle,
		executed:  make(map[string]json.RawMessage),
	}
}

// State returns the session's current state and, in the error state, the
// terminal turn error.
func (s *Session) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastError
}

// Send runs one full turn: the user text is appended to the thread, the
// model stream is consumed, tool calls are executed in arrival order, and
// the final log is persisted once. A turn that fails mid-stream keeps every
// already committed tool side effect and leaves the thread resumable.
func (s *Session) Send(ctx context.Context, userText string) error {
	s.mu.Lock()
	if s.state == StateStreaming {
		s.mu.Unlock()
		return errors.New("turn already in flight")
	}
	s.state = StateStreaming
	s.lastError = ""
	s.mu.Unlock()

	thread, ok := s.store.Thread(s.projectID, s.threadID)
	if !ok {
		s.fail("thread not found")
		return errors.New("thread not found")
	}

	messages := append(thread.Messages, store.Message{
		ID:    util.NewID("msg"),
		Role:  store.RoleUser,
		Parts: []store.MessagePart{{Type: store.PartText, Text: userText}},
	})

	for step := 0; step < maxContinuations; step++ {
		assistant, err := s.runStep(ctx, messages)
		if err != nil {
			// Committed messages from earlier steps stay; only the
			// in-flight response is discarded.
			s.store.ReplaceThreadMessages(s.projectID, s.threadID, messages)
			s.fail(err.Error())
			return err
		}
		messages = append(messages, assistant)

		executedAny, err := s.executePending(messages, len(messages)-1)
		if err != nil {
			s.store.ReplaceThreadMessages(s.projectID, s.threadID, messages)
			s.fail(err.Error())
			return err
		}
		if !executedAny {
			break
		}
	}

	s.store.ReplaceThreadMessages(s.projectID, s.threadID, messages)
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	return nil
}

// runStep opens one model stream and folds its events into an assistant
// message. A transport failure or terminal error event aborts the step.
func (s *Session) runStep(ctx context.Context, messages []store.Message) (store.Message, error) {
	content := ""
	if p, ok := s.store.Get(s.projectID); ok {
		content = p.Content
	}

	turn, err := s.streamer.StreamTurn(ctx, messages, content)
	if err != nil {
		return store.Message{}, fmt.Errorf("open turn stream: %w", err)
	}
	defer turn.Close()

	var events []chat.Event
	for {
		ev, err := turn.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return store.Message{}, fmt.Errorf("read turn stream: %w", err)
		}
		if ev.Type == chat.EventError {
			return store.Message{}, fmt.Errorf("turn failed: %s", ev.Error)
		}
		if ev.Type == chat.EventFinish {
			break
		}
		events = append(events, ev)
	}
	return chat.FoldEvents(util.NewID("msg"), events), nil
}

// executePending dispatches every still-pending tool part of the message at
// index, in order, and fills in outputs. Returns whether any tool ran (or
// was already recorded), meaning the turn should continue with the model.
func (s *Session) executePending(messages []store.Message, index int) (bool, error) {
	executedAny := false
	parts := messages[index].Parts
	for i, part := range parts {
		if part.Type != store.PartToolCall || part.State != store.ToolStatePending {
			continue
		}
		call, err := parseToolCall(part)
		if err != nil {
			return false, err
		}
		output := s.execute(call)
		parts[i].State = store.ToolStateOutputAvailable
		parts[i].Output = output
		executedAny = true
	}
	return executedAny, nil
}

// execute runs one tool call against the store. Calls already executed
// return their recorded output without re-applying the side effect.
func (s *Session) execute(call toolCall) json.RawMessage {
	switch c := call.(type) {
	case readContent:
		content := ""
		if p, ok := s.store.Get(s.projectID); ok {
			content = p.Content
		}
		output, _ := json.Marshal(map[string]string{"content": content})
		return output
	case updateContent:
		s.mu.Lock()
		if recorded, ok := s.executed[c.callID]; ok {
			s.mu.Unlock()
			return recorded
		}
		s.mu.Unlock()

		// Back up the pre-call content before the external write lands.
		s.store.Snapshot(s.projectID, store.ReasonAIBackup)
		s.store.Update(s.projectID, store.UpdateFields{Content: &c.content}, store.SourceExternal)

		output, _ := json.Marshal(map[string]any{
			"success": true,
			"message": "Project content updated successfully",
		})
		s.mu.Lock()
		s.executed[c.callID] = output
		s.mu.Unlock()
		return output
	default:
		// parseToolCall owns the closed set; reaching this is a bug.
		panic(fmt.Sprintf("unhandled tool call %T", call))
	}
}

func (s *Session) fail(message string) {
	s.mu.Lock()
	s.state = StateError
	s.lastError = message
	s.mu.Unlock()
}
