// Package arbiter bridges the project store to a bidirectional editor
// surface without feedback loops. Sync is split into two independent
// one-directional watchers: store-to-surface pushes only externally tagged
// content the surface does not already show, and surface-to-store submits
// only edits that differ from the stored value. The source tag plus the
// equality gate together stop either direction from re-triggering the other.
package arbiter

import (
	"sync"

	"inkwell/api/internal/store"
)

// EditorSurface is the external editing view attached to one project.
type EditorSurface interface {
	// SetContent replaces what the surface shows. Called only for external
	// writes the surface does not already reflect.
	SetContent(content string)
}

// Arbiter mediates content flow between the store and one editor surface.
type Arbiter struct {
	store     *store.Store
	projectID string
	surface   EditorSurface

	mu sync.Mutex
	// shown is the last content value believed to be in the surface.
	shown       string
	unsubscribe func()
	closed      bool
}

// Attach wires a surface to the project and starts the store-to-surface
// watcher. The surface is seeded with the project's current content.
func Attach(s *store.Store, projectID string, surface EditorSurface) *Arbiter {
	a := &Arbiter{store: s, projectID: projectID, surface: surface}
	if p, ok := s.Get(projectID); ok {
		a.shown = p.Content
		surface.SetContent(p.Content)
	}
	a.unsubscribe = s.Subscribe(a.onStoreChange)
	return a
}

// onStoreChange is the store-to-surface direction. Only externally sourced
// content that differs from what the surface shows is pushed back in.
func (a *Arbiter) onStoreChange(ev store.ChangeEvent) {
	if ev.Project.ID != a.projectID || !ev.ContentChanged {
		return
	}
	if ev.Source != store.SourceExternal {
		return
	}
	a.mu.Lock()
	if a.closed || ev.Project.Content == a.shown {
		a.mu.Unlock()
		return
	}
	a.shown = ev.Project.Content
	a.mu.Unlock()
	a.surface.SetContent(ev.Project.Content)
}

// SurfaceEdited is the surface-to-store direction. The store is updated only
// when the edit differs from its current value.
func (a *Arbiter) SurfaceEdited(content string) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.shown = content
	a.mu.Unlock()

	p, ok := a.store.Get(a.projectID)
	if !ok || p.Content == content {
		return
	}
	a.store.Update(a.projectID, store.UpdateFields{Content: &content}, store.SourceEditor)
}

// Close tears the surface down: the watcher stops, and a session_end
// checkpoint is taken when the project holds content.
func (a *Arbiter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.unsubscribe()
	if p, ok := a.store.Get(a.projectID); ok && p.Content != "" {
		a.store.Snapshot(a.projectID, store.ReasonSessionEnd)
	}
}
