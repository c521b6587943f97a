package session

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"inkwell/api/internal/chat"
	"inkwell/api/internal/store"
)

type turnCapture struct {
	messages       []store.Message
	projectContent string
}

// scriptedStreamer plays one event script per opened turn and records what
// each turn was given.
type scriptedStreamer struct {
	mu      sync.Mutex
	scripts [][]chat.Event
	turns   []turnCapture
}

func (f *scriptedStreamer) StreamTurn(ctx context.Context, messages []store.Message, projectContent string) (TurnStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turnCapture{messages: messages, projectContent: projectContent})
	call := len(f.turns) - 1
	var script []chat.Event
	if call < len(f.scripts) {
		script = f.scripts[call]
	}
	return &sliceStream{events: script}, nil
}

type sliceStream struct {
	events []chat.Event
	pos    int
}

func (s *sliceStream) Next() (chat.Event, error) {
	if s.pos >= len(s.events) {
		return chat.Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *sliceStream) Close() error { return nil }

func strptr(s string) *string { return &s }

func setupSession(t *testing.T, streamer Streamer) (*store.Store, *Session, string, string) {
	t.Helper()
	s := store.New()
	id := s.Create("p")
	s.Update(id, store.UpdateFields{Content: strptr("old")}, store.SourceEditor)
	tid, _ := s.AddThread(id, "Chat 1")
	return s, New(s, streamer, id, tid), id, tid
}

func TestTextTurnPersistsOnce(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]chat.Event{
		{
			{Type: chat.EventTextDelta, Delta: "Hi "},
			{Type: chat.EventTextDelta, Delta: "there"},
			{Type: chat.EventFinish, Reason: chat.FinishStop},
		},
	}}
	s, sess, id, tid := setupSession(t, streamer)

	persists := 0
	s.SetHooks(store.Hooks{Persist: func(store.State) { persists++ }})

	if err := sess.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if persists != 1 {
		t.Errorf("expected one persisted mutation per turn, got %d", persists)
	}

	thread, _ := s.Thread(id, tid)
	if len(thread.Messages) != 2 {
		t.Fatalf("expected user + assistant, got %d messages", len(thread.Messages))
	}
	if thread.Messages[0].Role != store.RoleUser || thread.Messages[0].Parts[0].Text != "hello" {
		t.Errorf("user message wrong: %+v", thread.Messages[0])
	}
	if thread.Messages[1].Parts[0].Text != "Hi there" {
		t.Errorf("assistant text wrong: %+v", thread.Messages[1])
	}
	if state, _ := sess.State(); state != StateIdle {
		t.Errorf("state = %q after clean finish", state)
	}
}

func TestUpdateToolBacksUpThenContinues(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]chat.Event{
		{
			{Type: chat.EventToolCall, ToolName: chat.ToolUpdateProjectContent, CallID: "call_1", Input: json.RawMessage(`{"content":"new"}`)},
			{Type: chat.EventFinish, Reason: chat.FinishToolCalls},
		},
		{
			{Type: chat.EventTextDelta, Delta: "Rewrote it."},
			{Type: chat.EventFinish, Reason: chat.FinishStop},
		},
	}}
	s, sess, id, tid := setupSession(t, streamer)

	if err := sess.Send(context.Background(), "rewrite"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	p, _ := s.Get(id)
	if p.Content != "new" {
		t.Errorf("content = %q", p.Content)
	}
	if p.LastUpdatedSource != store.SourceExternal {
		t.Errorf("source = %q", p.LastUpdatedSource)
	}
	if len(p.History) != 1 || p.History[0].Reason != store.ReasonAIBackup || p.History[0].Content != "old" {
		t.Fatalf("expected ai_backup of pre-call content, got %+v", p.History)
	}

	// The continuation turn must see the post-update content.
	if len(streamer.turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(streamer.turns))
	}
	if streamer.turns[1].projectContent != "new" {
		t.Errorf("continuation saw stale content %q", streamer.turns[1].projectContent)
	}

	thread, _ := s.Thread(id, tid)
	if len(thread.Messages) != 3 {
		t.Fatalf("expected user + 2 assistant messages, got %d", len(thread.Messages))
	}
	tool := thread.Messages[1].Parts[0]
	if tool.State != store.ToolStateOutputAvailable {
		t.Errorf("tool part not upgraded: %+v", tool)
	}
	var output struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(tool.Output, &output); err != nil || !output.Success {
		t.Errorf("tool output wrong: %s", tool.Output)
	}
}

func TestDuplicateCallIDIsIdempotent(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]chat.Event{
		{
			{Type: chat.EventToolCall, ToolName: chat.ToolUpdateProjectContent, CallID: "call_1", Input: json.RawMessage(`{"content":"new"}`)},
			{Type: chat.EventFinish, Reason: chat.FinishToolCalls},
		},
		{
			// The backend replays the same call id; the side effect must
			// not run again.
			{Type: chat.EventToolCall, ToolName: chat.ToolUpdateProjectContent, CallID: "call_1", Input: json.RawMessage(`{"content":"other"}`)},
			{Type: chat.EventFinish, Reason: chat.FinishToolCalls},
		},
		{
			{Type: chat.EventFinish, Reason: chat.FinishStop},
		},
	}}
	s, sess, id, _ := setupSession(t, streamer)

	if err := sess.Send(context.Background(), "rewrite"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	p, _ := s.Get(id)
	if p.Content != "new" {
		t.Errorf("replayed call mutated content to %q", p.Content)
	}
	backups := 0
	for _, v := range p.History {
		if v.Reason == store.ReasonAIBackup {
			backups++
		}
	}
	if backups != 1 {
		t.Errorf("expected one ai_backup, got %d", backups)
	}
}

func TestStreamErrorKeepsCommittedEffects(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]chat.Event{
		{
			{Type: chat.EventToolCall, ToolName: chat.ToolUpdateProjectContent, CallID: "call_1", Input: json.RawMessage(`{"content":"new"}`)},
			{Type: chat.EventFinish, Reason: chat.FinishToolCalls},
		},
		{
			{Type: chat.EventTextDelta, Delta: "partial answer that will be disc"},
			{Type: chat.EventError, Error: "upstream died"},
		},
	}}
	s, sess, id, tid := setupSession(t, streamer)

	err := sess.Send(context.Background(), "rewrite")
	if err == nil {
		t.Fatal("expected turn error")
	}
	state, lastError := sess.State()
	if state != StateError || !strings.Contains(lastError, "upstream died") {
		t.Errorf("state=%q lastError=%q", state, lastError)
	}

	// The committed tool write survives the failure.
	p, _ := s.Get(id)
	if p.Content != "new" {
		t.Errorf("committed side effect rolled back, content=%q", p.Content)
	}
	if len(p.History) != 1 {
		t.Errorf("ai_backup lost: %+v", p.History)
	}

	// The executed step is persisted; the in-flight response is not.
	thread, _ := s.Thread(id, tid)
	if len(thread.Messages) != 2 {
		t.Fatalf("expected user + executed assistant step, got %d", len(thread.Messages))
	}
	for _, part := range thread.Messages[1].Parts {
		if part.Type == store.PartText && strings.Contains(part.Text, "partial answer") {
			t.Errorf("discarded in-flight text was persisted")
		}
	}
}

func TestPendingReadContentDispatch(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]chat.Event{
		{
			{Type: chat.EventToolCall, ToolName: chat.ToolReadProjectContent, CallID: "call_1", Input: json.RawMessage(`{}`)},
			{Type: chat.EventFinish, Reason: chat.FinishToolCalls},
		},
		{
			{Type: chat.EventTextDelta, Delta: "Looks good."},
			{Type: chat.EventFinish, Reason: chat.FinishStop},
		},
	}}
	s, sess, id, tid := setupSession(t, streamer)

	if err := sess.Send(context.Background(), "review"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	thread, _ := s.Thread(id, tid)
	tool := thread.Messages[1].Parts[0]
	var output map[string]string
	if err := json.Unmarshal(tool.Output, &output); err != nil {
		t.Fatalf("bad read output: %s", tool.Output)
	}
	if output["content"] != "old" {
		t.Errorf("read returned %q, want store content", output["content"])
	}
}

func TestUnknownToolFailsTurn(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]chat.Event{
		{
			{Type: chat.EventToolCall, ToolName: "dropTables", CallID: "call_1", Input: json.RawMessage(`{}`)},
			{Type: chat.EventFinish, Reason: chat.FinishToolCalls},
		},
	}}
	_, sess, _, _ := setupSession(t, streamer)

	if err := sess.Send(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if state, _ := sess.State(); state != StateError {
		t.Errorf("state = %q", state)
	}
}

func TestSendOnMissingThread(t *testing.T) {
	s := store.New()
	id := s.Create("p")
	sess := New(s, &scriptedStreamer{}, id, "thr_missing")
	if err := sess.Send(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for missing thread")
	}
}
