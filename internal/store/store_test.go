package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func strptr(s string) *string { return &s }

// fixedClock lets tests advance the store's notion of now deterministically.
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func (c *fixedClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore() (*Store, *fixedClock) {
	clock := &fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := New()
	s.now = clock.Now
	return s, clock
}

func TestCreateStartsEmpty(t *testing.T) {
	s, _ := newTestStore()
	id := s.Create("Novel draft")

	p, ok := s.Get(id)
	if !ok {
		t.Fatalf("project not found after create")
	}
	if p.Title != "Novel draft" {
		t.Errorf("expected title %q, got %q", "Novel draft", p.Title)
	}
	if p.Content != "" || p.Notes != "" {
		t.Errorf("expected empty content/notes, got %q / %q", p.Content, p.Notes)
	}
	if len(p.History) != 0 {
		t.Errorf("expected empty history, got %d entries", len(p.History))
	}
	if len(p.Threads) != 0 {
		t.Errorf("expected no threads, got %d", len(p.Threads))
	}
	if p.LastUpdatedSource != "" {
		t.Errorf("expected unset source before first write, got %q", p.LastUpdatedSource)
	}
	if !p.LastSnapshotAt.Equal(p.CreatedAt) {
		t.Errorf("auto-save clock should start at creation time")
	}
}

func TestUpdateMissingProjectIsSilent(t *testing.T) {
	s, _ := newTestStore()
	// Must not panic or create anything.
	s.Update("proj_missing", UpdateFields{Content: strptr("x")}, SourceEditor)
	if got := len(s.List()); got != 0 {
		t.Errorf("expected no projects, got %d", got)
	}
}

func TestUpdateSetsSourceAndTimestamps(t *testing.T) {
	s, clock := newTestStore()
	id := s.Create("p")

	clock.Advance(time.Minute)
	s.Update(id, UpdateFields{Content: strptr("Hello")}, SourceEditor)
	p, _ := s.Get(id)
	if p.LastUpdatedSource != SourceEditor {
		t.Errorf("expected editor source, got %q", p.LastUpdatedSource)
	}
	if !p.UpdatedAt.Equal(clock.Now()) {
		t.Errorf("updatedAt not bumped")
	}

	s.Update(id, UpdateFields{Content: strptr("Hi")}, SourceExternal)
	p, _ = s.Get(id)
	if p.LastUpdatedSource != SourceExternal {
		t.Errorf("expected external source, got %q", p.LastUpdatedSource)
	}
}

func TestSnapshotDedupGuard(t *testing.T) {
	s, _ := newTestStore()
	id := s.Create("p")
	s.Update(id, UpdateFields{Content: strptr("draft one")}, SourceEditor)

	reasons := []SnapshotReason{ReasonManual, ReasonAIBackup, ReasonAutoSave, ReasonSessionEnd}
	for _, r := range reasons {
		t.Run(string(r), func(t *testing.T) {
			s.Snapshot(id, r)
			s.Snapshot(id, r)
			p, _ := s.Get(id)
			if len(p.History) != 1 {
				t.Errorf("expected exactly one version after duplicate snapshots, got %d", len(p.History))
			}
		})
	}
}

func TestSnapshotMissingProjectIsSilent(t *testing.T) {
	s, _ := newTestStore()
	s.Snapshot("proj_missing", ReasonManual)
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	s, _ := newTestStore()
	id := s.Create("p")

	var evicted []ProjectVersion
	s.SetHooks(Hooks{VersionEvicted: func(_ string, v ProjectVersion) {
		evicted = append(evicted, v)
	}})

	for i := 0; i < HistoryCap+10; i++ {
		s.Update(id, UpdateFields{Content: strptr(fmt.Sprintf("revision %d", i))}, SourceEditor)
		s.Snapshot(id, ReasonManual)
	}

	p, _ := s.Get(id)
	if len(p.History) != HistoryCap {
		t.Fatalf("expected history capped at %d, got %d", HistoryCap, len(p.History))
	}
	if p.History[0].Content != fmt.Sprintf("revision %d", HistoryCap+9) {
		t.Errorf("newest entry wrong: %q", p.History[0].Content)
	}
	if len(evicted) != 10 {
		t.Fatalf("expected 10 evictions, got %d", len(evicted))
	}
	if evicted[0].Content != "revision 0" {
		t.Errorf("oldest entry should be evicted first, got %q", evicted[0].Content)
	}
}

func TestAutoSaveThreshold(t *testing.T) {
	s, clock := newTestStore()
	id := s.Create("p")
	s.Update(id, UpdateFields{Content: strptr("A")}, SourceEditor)
	s.Snapshot(id, ReasonManual)
	t0 := clock.Now()

	// 9 minutes after the snapshot: below threshold, no auto-save.
	clock.Advance(9 * time.Minute)
	s.Update(id, UpdateFields{Content: strptr("B")}, SourceEditor)
	p, _ := s.Get(id)
	if len(p.History) != 1 {
		t.Fatalf("expected no auto-save at t0+9m, history has %d entries", len(p.History))
	}

	// Reset to "A" snapshotted at t0 again for the second half.
	s, clock = newTestStore()
	id = s.Create("p")
	s.Update(id, UpdateFields{Content: strptr("A")}, SourceEditor)
	s.Snapshot(id, ReasonManual)
	t0 = clock.Now()

	clock.Advance(11 * time.Minute)
	s.Update(id, UpdateFields{Content: strptr("B")}, SourceEditor)
	p, _ = s.Get(id)
	if len(p.History) != 2 {
		t.Fatalf("expected exactly one auto-save at t0+11m, history has %d entries", len(p.History))
	}
	v := p.History[0]
	if v.Reason != ReasonAutoSave {
		t.Errorf("expected auto_save reason, got %q", v.Reason)
	}
	if v.Content != "A" {
		t.Errorf("auto-save must capture the pre-edit content, got %q", v.Content)
	}
	if p.Content != "B" {
		t.Errorf("live content should be %q, got %q", "B", p.Content)
	}
	if !v.CreatedAt.After(t0) {
		t.Errorf("auto-save version should be newer than the previous snapshot")
	}
}

func TestFirstWriteScenario(t *testing.T) {
	// create → update("Hello") at t0 → update("Hello world") at t0+11m.
	s, clock := newTestStore()
	id := s.Create("p")

	s.Update(id, UpdateFields{Content: strptr("Hello")}, SourceEditor)
	p, _ := s.Get(id)
	if p.Content != "Hello" || len(p.History) != 0 {
		t.Fatalf("first write within threshold should not snapshot, history=%d", len(p.History))
	}

	clock.Advance(11 * time.Minute)
	s.Update(id, UpdateFields{Content: strptr("Hello world")}, SourceEditor)
	p, _ = s.Get(id)
	if len(p.History) != 1 {
		t.Fatalf("expected exactly one auto_save version, got %d", len(p.History))
	}
	if p.History[0].Reason != ReasonAutoSave || p.History[0].Content != "Hello" {
		t.Errorf("expected auto_save of %q, got %q (%s)", "Hello", p.History[0].Content, p.History[0].Reason)
	}
	if p.Content != "Hello world" {
		t.Errorf("live content wrong: %q", p.Content)
	}
}

func TestUnchangedContentSkipsAutoSaveCheck(t *testing.T) {
	s, clock := newTestStore()
	id := s.Create("p")
	s.Update(id, UpdateFields{Content: strptr("same")}, SourceEditor)

	clock.Advance(time.Hour)
	s.Update(id, UpdateFields{Content: strptr("same")}, SourceEditor)
	p, _ := s.Get(id)
	if len(p.History) != 0 {
		t.Errorf("identical content must not trigger auto-save, got %d versions", len(p.History))
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	s, _ := newTestStore()
	id := s.Create("p")
	s.Update(id, UpdateFields{Content: strptr("body")}, SourceEditor)
	s.Snapshot(id, ReasonManual)
	s.AddThread(id, "Chat 1")

	var deleted []string
	s.SetHooks(Hooks{ProjectDeleted: func(id string) { deleted = append(deleted, id) }})

	s.Delete(id)
	if _, ok := s.Get(id); ok {
		t.Fatalf("project still present after delete")
	}
	if len(deleted) != 1 || deleted[0] != id {
		t.Errorf("delete hook not fired, got %v", deleted)
	}

	// Deleting again is silent.
	s.Delete(id)
}

func TestSubscriberSeesFieldLevelChanges(t *testing.T) {
	s, _ := newTestStore()
	id := s.Create("p")

	var events []ChangeEvent
	unsubscribe := s.Subscribe(func(e ChangeEvent) { events = append(events, e) })
	defer unsubscribe()

	s.Update(id, UpdateFields{Content: strptr("new body")}, SourceExternal)
	s.Update(id, UpdateFields{Title: strptr("renamed")}, SourceEditor)

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !events[0].ContentChanged || events[0].Source != SourceExternal {
		t.Errorf("first event should be an external content change: %+v", events[0])
	}
	if events[1].ContentChanged || !events[1].TitleChanged {
		t.Errorf("second event should be a title-only change: %+v", events[1])
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s, _ := newTestStore()
	id := s.Create("p")

	count := 0
	unsubscribe := s.Subscribe(func(ChangeEvent) { count++ })
	s.Update(id, UpdateFields{Notes: strptr("a")}, SourceEditor)
	unsubscribe()
	s.Update(id, UpdateFields{Notes: strptr("b")}, SourceEditor)

	if count != 1 {
		t.Errorf("expected exactly one delivery, got %d", count)
	}
}

func TestStateRoundTrip(t *testing.T) {
	s, _ := newTestStore()
	id := s.Create("p")
	s.Update(id, UpdateFields{Content: strptr("body"), Notes: strptr("note")}, SourceEditor)
	s.Snapshot(id, ReasonManual)
	tid, _ := s.AddThread(id, "Chat 1")
	s.ReplaceThreadMessages(id, tid, []Message{
		{ID: "m1", Role: RoleUser, Parts: []MessagePart{{Type: PartText, Text: "hi"}}},
	})
	// A second project with empty history and threads.
	s.Create("empty")

	original := s.StateCopy()
	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	var restored State
	if err := json.Unmarshal(raw, &restored); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	restored.Normalize()

	if !reflect.DeepEqual(original, restored) {
		t.Errorf("state did not round-trip:\n  original: %+v\n  restored: %+v", original, restored)
	}
}

func TestLoadRestoresState(t *testing.T) {
	s, _ := newTestStore()
	id := s.Create("p")
	s.Update(id, UpdateFields{Content: strptr("body")}, SourceEditor)
	state := s.StateCopy()

	fresh, _ := newTestStore()
	fresh.Load(state)
	p, ok := fresh.Get(id)
	if !ok {
		t.Fatalf("project missing after load")
	}
	if p.Content != "body" {
		t.Errorf("content lost on load: %q", p.Content)
	}
}

func TestPersistHookFiresPerMutation(t *testing.T) {
	s, _ := newTestStore()
	var saves []State
	s.SetHooks(Hooks{Persist: func(state State) { saves = append(saves, state) }})

	id := s.Create("p")
	s.Update(id, UpdateFields{Content: strptr("x")}, SourceEditor)
	s.Snapshot(id, ReasonManual)
	s.SetAPIMode("local_expo")

	if len(saves) != 4 {
		t.Fatalf("expected 4 persisted states, got %d", len(saves))
	}
	last := saves[len(saves)-1]
	if last.Settings.APIMode != "local_expo" {
		t.Errorf("settings not in persisted state: %+v", last.Settings)
	}
	if len(last.Projects[id].History) != 1 {
		t.Errorf("history not in persisted state")
	}
}
