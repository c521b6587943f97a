// Package app wires the engine's components together and exposes them over
// HTTP. The service owns the store hooks: every committed mutation fans out
// to persistence, search, the git mirror and the eviction archive from here.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"

	"inkwell/api/internal/archive"
	"inkwell/api/internal/export"
	"inkwell/api/internal/gitmirror"
	"inkwell/api/internal/persist"
	"inkwell/api/internal/search"
	"inkwell/api/internal/session"
	"inkwell/api/internal/store"
)

// Deps are the service's collaborators. Saver, Backend, Search, Mirror,
// Archive and Export are optional; a nil dependency disables that concern.
type Deps struct {
	Store    *store.Store
	Saver    *persist.Saver
	Backend  persist.Backend
	Search   *search.Service
	Mirror   *gitmirror.Service
	Archive  *archive.Service
	Export   *export.Service
	Streamer session.Streamer
}

type Service struct {
	deps Deps

	sessionMu sync.Mutex
	sessions  map[string]*session.Session
}

func NewService(deps Deps) *Service {
	s := &Service{deps: deps, sessions: make(map[string]*session.Session)}
	deps.Store.SetHooks(store.Hooks{
		Persist: func(state store.State) {
			if deps.Saver != nil {
				deps.Saver.Enqueue(state)
			}
		},
		SnapshotTaken: func(projectID string, v store.ProjectVersion) {
			if deps.Mirror == nil {
				return
			}
			go func() {
				if err := deps.Mirror.MirrorVersion(projectID, v); err != nil {
					log.Printf("gitmirror: project %s version %s: %v", projectID, v.ID, err)
				}
			}()
		},
		VersionEvicted: func(projectID string, v store.ProjectVersion) {
			deps.Archive.ArchiveEvicted(projectID, v)
		},
		ProjectChanged: func(p store.Project) {
			if deps.Search != nil {
				deps.Search.IndexProject(search.ProjectRecord{
					ID:      p.ID,
					Title:   p.Title,
					Content: p.Content,
					Notes:   p.Notes,
				})
			}
		},
		ProjectDeleted: func(id string) {
			if deps.Search != nil {
				deps.Search.DeleteProject(id)
			}
			if deps.Mirror != nil {
				go func() {
					if err := deps.Mirror.RemoveProject(id); err != nil {
						log.Printf("gitmirror: remove project %s: %v", id, err)
					}
				}()
			}
		},
	})
	return s
}

// Ping checks the durable backend. Reports healthy when persistence is not
// configured (memory-only mode).
func (s *Service) Ping(ctx context.Context) error {
	if s.deps.Backend == nil {
		return nil
	}
	return s.deps.Backend.Ping(ctx)
}

// --- projects ---

func (s *Service) CreateProject(title string) store.Project {
	id := s.deps.Store.Create(title)
	p, _ := s.deps.Store.Get(id)
	return p
}

func (s *Service) ListProjects() []store.Project {
	return s.deps.Store.List()
}

func (s *Service) GetProject(id string) (store.Project, error) {
	p, ok := s.deps.Store.Get(id)
	if !ok {
		return store.Project{}, notFound("Project not found")
	}
	return p, nil
}

// UpdateProject applies a partial update and returns the resulting project.
// The store itself no-ops on a missing id; the HTTP surface still reports
// the miss.
func (s *Service) UpdateProject(id string, fields store.UpdateFields, source store.Source) (store.Project, error) {
	s.deps.Store.Update(id, fields, source)
	p, ok := s.deps.Store.Get(id)
	if !ok {
		return store.Project{}, notFound("Project not found")
	}
	return p, nil
}

func (s *Service) DeleteProject(id string) {
	s.deps.Store.Delete(id)
}

func (s *Service) History(id string) ([]store.ProjectVersion, error) {
	p, ok := s.deps.Store.Get(id)
	if !ok {
		return nil, notFound("Project not found")
	}
	return p.History, nil
}

func (s *Service) SnapshotProject(id string, reason store.SnapshotReason) {
	s.deps.Store.Snapshot(id, reason)
}

// RestoreVersion brings back a retained version: the current content is
// checkpointed as a manual version first, then the restored content lands
// as an external write.
func (s *Service) RestoreVersion(projectID, versionID string) (store.Project, error) {
	p, ok := s.deps.Store.Get(projectID)
	if !ok {
		return store.Project{}, notFound("Project not found")
	}
	var restored *store.ProjectVersion
	for i := range p.History {
		if p.History[i].ID == versionID {
			restored = &p.History[i]
			break
		}
	}
	if restored == nil {
		return store.Project{}, notFound("Version not found")
	}

	s.deps.Store.Snapshot(projectID, store.ReasonManual)
	content := restored.Content
	s.deps.Store.Update(projectID, store.UpdateFields{Content: &content}, store.SourceExternal)

	p, _ = s.deps.Store.Get(projectID)
	return p, nil
}

// SessionEnded closes an editing session: the final content is checkpointed
// unless the project is empty.
func (s *Service) SessionEnded(projectID string) {
	p, ok := s.deps.Store.Get(projectID)
	if !ok || p.Content == "" {
		return
	}
	s.deps.Store.Snapshot(projectID, store.ReasonSessionEnd)
}

// --- threads ---

// CreateThread adds a thread with the given title, defaulting to "Chat N".
func (s *Service) CreateThread(projectID, title string) (store.ChatThread, error) {
	if title == "" {
		p, ok := s.deps.Store.Get(projectID)
		if !ok {
			return store.ChatThread{}, notFound("Project not found")
		}
		title = fmt.Sprintf("Chat %d", len(p.Threads)+1)
	}
	threadID, ok := s.deps.Store.AddThread(projectID, title)
	if !ok {
		return store.ChatThread{}, notFound("Project not found")
	}
	t, _ := s.deps.Store.Thread(projectID, threadID)
	return t, nil
}

// ListThreads returns the project's threads, most recently updated first.
func (s *Service) ListThreads(projectID string) ([]store.ChatThread, error) {
	p, ok := s.deps.Store.Get(projectID)
	if !ok {
		return nil, notFound("Project not found")
	}
	threads := make([]store.ChatThread, 0, len(p.Threads))
	for _, t := range p.Threads {
		threads = append(threads, t)
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})
	return threads, nil
}

func (s *Service) DeleteThread(projectID, threadID string) {
	s.deps.Store.DeleteThread(projectID, threadID)
	s.sessionMu.Lock()
	delete(s.sessions, sessionKey(projectID, threadID))
	s.sessionMu.Unlock()
}

func (s *Service) SetActiveThread(projectID, threadID string) {
	s.deps.Store.SetActiveThread(projectID, threadID)
}

func (s *Service) ReplaceThreadMessages(projectID, threadID string, messages []store.Message) {
	s.deps.Store.ReplaceThreadMessages(projectID, threadID, messages)
}

// SendMessage runs one model turn for the thread and returns the resulting
// thread plus the session state.
func (s *Service) SendMessage(ctx context.Context, projectID, threadID, text string) (store.ChatThread, session.State, string, error) {
	if s.deps.Streamer == nil {
		return store.ChatThread{}, session.StateError, "", domainError(http.StatusServiceUnavailable, "CHAT_UNAVAILABLE", "Chat backend not configured", nil)
	}
	if _, ok := s.deps.Store.Thread(projectID, threadID); !ok {
		return store.ChatThread{}, session.StateError, "", notFound("Thread not found")
	}

	sess := s.sessionFor(projectID, threadID)
	// A failed turn is not an HTTP error: messages committed before the
	// failure are already persisted, and the failure itself is reported
	// as session state.
	_ = sess.Send(ctx, text)
	state, lastError := sess.State()
	thread, _ := s.deps.Store.Thread(projectID, threadID)
	return thread, state, lastError, nil
}

func (s *Service) sessionFor(projectID, threadID string) *session.Session {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	key := sessionKey(projectID, threadID)
	sess, ok := s.sessions[key]
	if !ok {
		sess = session.New(s.deps.Store, s.deps.Streamer, projectID, threadID)
		s.sessions[key] = sess
	}
	return sess
}

func sessionKey(projectID, threadID string) string {
	return projectID + "/" + threadID
}

// --- settings ---

func (s *Service) APIMode() string {
	return s.deps.Store.APIMode()
}

func (s *Service) SetAPIMode(mode string) error {
	switch mode {
	case store.APIModeProduction, store.APIModeLocalExpo, store.APIModeLocalVercel:
		s.deps.Store.SetAPIMode(mode)
		return nil
	default:
		return domainError(http.StatusBadRequest, "INVALID_MODE", "Unknown api mode", map[string]string{"apiMode": mode})
	}
}

// --- search / export ---

func (s *Service) Search(q search.Query) search.Response {
	if s.deps.Search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.deps.Search.Search(q)
}

func (s *Service) Export(req export.Request) (*export.Result, error) {
	if s.deps.Export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export not configured", nil)
	}
	return s.deps.Export.Export(req)
}
