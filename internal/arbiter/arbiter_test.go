package arbiter

import (
	"testing"

	"inkwell/api/internal/store"
)

type fakeSurface struct {
	content string
	sets    int
	arbiter *Arbiter
	echo    bool
}

func (f *fakeSurface) SetContent(content string) {
	f.content = content
	f.sets++
	// A real editor fires its own change handler when content is set
	// programmatically. The equality gate must absorb that echo.
	if f.echo && f.arbiter != nil {
		f.arbiter.SurfaceEdited(content)
	}
}

func strptr(s string) *string { return &s }

func setup(t *testing.T) (*store.Store, string, *fakeSurface, *Arbiter) {
	t.Helper()
	s := store.New()
	id := s.Create("p")
	s.Update(id, store.UpdateFields{Content: strptr("draft")}, store.SourceEditor)
	surface := &fakeSurface{}
	a := Attach(s, id, surface)
	surface.arbiter = a
	return s, id, surface, a
}

func TestAttachSeedsSurface(t *testing.T) {
	_, _, surface, a := setup(t)
	defer a.Close()
	if surface.content != "draft" {
		t.Errorf("surface not seeded, got %q", surface.content)
	}
}

func TestExternalWritePushedToSurface(t *testing.T) {
	s, id, surface, a := setup(t)
	defer a.Close()

	s.Update(id, store.UpdateFields{Content: strptr("rewritten")}, store.SourceExternal)
	if surface.content != "rewritten" {
		t.Errorf("external write not pushed, surface shows %q", surface.content)
	}
}

func TestEditorWriteNotEchoedBack(t *testing.T) {
	s, id, surface, a := setup(t)
	defer a.Close()
	before := surface.sets

	a.SurfaceEdited("typed by user")
	if surface.sets != before {
		t.Errorf("editor-sourced write re-entered the surface")
	}
	p, _ := s.Get(id)
	if p.Content != "typed by user" {
		t.Errorf("store missed the edit, has %q", p.Content)
	}
	if p.LastUpdatedSource != store.SourceEditor {
		t.Errorf("wrong source tag %q", p.LastUpdatedSource)
	}
}

func TestUnchangedEditDoesNotHitStore(t *testing.T) {
	s, id, _, a := setup(t)
	defer a.Close()
	p, _ := s.Get(id)
	updatedAt := p.UpdatedAt

	a.SurfaceEdited("draft")
	p, _ = s.Get(id)
	if !p.UpdatedAt.Equal(updatedAt) {
		t.Errorf("identical edit reached the store")
	}
}

func TestNoFeedbackLoopWithEchoingSurface(t *testing.T) {
	s, id, surface, a := setup(t)
	defer a.Close()
	surface.echo = true

	// External write -> surface set -> surface echoes the same content back.
	// The equality gate must stop the cycle after one push.
	s.Update(id, store.UpdateFields{Content: strptr("from tool")}, store.SourceExternal)

	if surface.sets != 2 { // one from Attach seed, one from the push
		t.Errorf("expected exactly one push after seed, got %d sets", surface.sets)
	}
	p, _ := s.Get(id)
	if p.LastUpdatedSource != store.SourceExternal {
		t.Errorf("echo overwrote the source tag: %q", p.LastUpdatedSource)
	}
}

func TestCloseTakesSessionEndSnapshot(t *testing.T) {
	s, id, _, a := setup(t)
	a.Close()

	p, _ := s.Get(id)
	if len(p.History) != 1 || p.History[0].Reason != store.ReasonSessionEnd {
		t.Fatalf("expected one session_end version, got %+v", p.History)
	}
	if p.History[0].Content != "draft" {
		t.Errorf("snapshot holds %q", p.History[0].Content)
	}
}

func TestCloseOnEmptyContentSkipsSnapshot(t *testing.T) {
	s := store.New()
	id := s.Create("p")
	a := Attach(s, id, &fakeSurface{})
	a.Close()

	p, _ := s.Get(id)
	if len(p.History) != 0 {
		t.Errorf("empty project should not be snapshotted on close")
	}
}

func TestClosedArbiterIgnoresTraffic(t *testing.T) {
	s, id, surface, a := setup(t)
	a.Close()
	shown := surface.content

	s.Update(id, store.UpdateFields{Content: strptr("late")}, store.SourceExternal)
	if surface.content != shown {
		t.Errorf("closed arbiter still pushed to surface")
	}

	p, _ := s.Get(id)
	content := p.Content
	a.SurfaceEdited("too late")
	p, _ = s.Get(id)
	if p.Content != content {
		t.Errorf("closed arbiter still wrote to store")
	}
}
