// Package store owns the authoritative in-memory state for all projects:
// live documents, bounded version history, chat threads, and settings.
// Every mutation goes through one of the operations below; each executes as a
// critical section over the whole state, so callers never observe a partially
// applied change.
package store

import (
	"sort"
	"sync"
	"time"

	"inkwell/api/internal/util"
)

// UpdateFields is a partial update for a project. Nil fields are left alone.
type UpdateFields struct {
	Title   *string
	Content *string
	Notes   *string
}

// ChangeEvent describes one committed project mutation. Subscribers receive
// a deep copy of the post-mutation project plus field-level change flags so
// an editor surface can distinguish its own echo from an external write.
type ChangeEvent struct {
	Project        Project
	TitleChanged   bool
	ContentChanged bool
	NotesChanged   bool
	Source         Source
}

// Subscriber observes committed mutations in commit order.
type Subscriber func(ChangeEvent)

// Hooks receive side-channel notifications after a mutation commits. All
// fields are optional. Hooks run outside the state lock; Persist always
// receives the full post-mutation state.
type Hooks struct {
	Persist        func(State)
	SnapshotTaken  func(projectID string, v ProjectVersion)
	VersionEvicted func(projectID string, v ProjectVersion)
	ProjectChanged func(p Project)
	ProjectDeleted func(id string)
}

// Store holds every project record behind a single mutex.
type Store struct {
	mu       sync.Mutex
	projects map[string]*Project
	settings Settings

	hooks Hooks
	now   func() time.Time

	notifyMu sync.Mutex
	subs     map[int]Subscriber
	nextSub  int
}

func New() *Store {
	return &Store{
		projects: make(map[string]*Project),
		settings: Settings{APIMode: APIModeProduction},
		now:      time.Now,
		subs:     make(map[int]Subscriber),
	}
}

// SetHooks installs side-effect hooks. Call before the store is shared.
func (s *Store) SetHooks(h Hooks) {
	s.hooks = h
}

// Subscribe registers a listener for committed mutations and returns its
// unsubscribe function.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		delete(s.subs, id)
	}
}

// Load replaces the in-memory state wholesale. Used once at startup to
// restore the persisted copy; not notified to subscribers.
func (s *Store) Load(state State) {
	state.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = make(map[string]*Project, len(state.Projects))
	for id, p := range state.Projects {
		clone := cloneProject(p)
		s.projects[id] = &clone
	}
	s.settings = state.Settings
}

// Snapshot of the full persisted shape.
func (s *Store) StateCopy() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateCopyLocked()
}

func (s *Store) stateCopyLocked() State {
	out := State{
		Projects: make(map[string]Project, len(s.projects)),
		Settings: s.settings,
	}
	for id, p := range s.projects {
		out.Projects[id] = cloneProject(*p)
	}
	return out
}

// Create adds a new empty project and returns its id.
func (s *Store) Create(title string) string {
	s.mu.Lock()
	id := util.NewID("proj")
	now := s.now()
	s.projects[id] = &Project{
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		// No snapshot exists yet; the auto-save clock starts at creation.
		LastSnapshotAt: now,
		History:        []ProjectVersion{},
		Threads:        make(map[string]ChatThread),
	}
	project := cloneProject(*s.projects[id])
	state := s.stateCopyLocked()
	s.mu.Unlock()

	s.fireProjectChanged(project)
	s.firePersist(state)
	return id
}

// Get returns a deep copy of the project, or false if it does not exist.
func (s *Store) Get(id string) (Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return Project{}, false
	}
	return cloneProject(*p), true
}

// List returns all projects, most recently updated first.
func (s *Store) List() []Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, cloneProject(*p))
	}
	sortProjectsByUpdatedAt(out)
	return out
}

// Update applies a partial mutation. It is the single entry point for
// title/content/notes writes. Missing ids no-op silently. When the incoming
// content differs from the stored value and the auto-save interval has
// elapsed, the pre-edit content is checkpointed before the change commits.
func (s *Store) Update(id string, fields UpdateFields, source Source) {
	s.mu.Lock()
	p, ok := s.projects[id]
	if !ok {
		s.mu.Unlock()
		return
	}

	now := s.now()
	event := ChangeEvent{Source: source}
	var taken []ProjectVersion
	var evicted []ProjectVersion

	if fields.Content != nil && *fields.Content != p.Content {
		if now.Sub(p.LastSnapshotAt) > AutoSaveInterval {
			if v, dropped, ok := s.snapshotLocked(p, ReasonAutoSave); ok {
				taken = append(taken, v)
				evicted = append(evicted, dropped...)
			}
		}
		event.ContentChanged = true
	}

	if fields.Title != nil {
		event.TitleChanged = *fields.Title != p.Title
		p.Title = *fields.Title
	}
	if fields.Content != nil {
		p.Content = *fields.Content
		p.LastUpdatedSource = source
	}
	if fields.Notes != nil {
		event.NotesChanged = *fields.Notes != p.Notes
		p.Notes = *fields.Notes
	}
	p.UpdatedAt = now

	event.Project = cloneProject(*p)
	state := s.stateCopyLocked()
	s.mu.Unlock()

	s.notify(event)
	for _, v := range taken {
		s.fireSnapshotTaken(id, v)
	}
	for _, v := range evicted {
		s.fireVersionEvicted(id, v)
	}
	s.fireProjectChanged(event.Project)
	s.firePersist(state)
}

// Snapshot captures the project's current content into its history under the
// given reason. No-ops if the project is missing or the newest retained
// version already holds identical content (the dedup guard applies to every
// reason uniformly).
func (s *Store) Snapshot(id string, reason SnapshotReason) {
	s.mu.Lock()
	p, ok := s.projects[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	v, evicted, took := s.snapshotLocked(p, reason)
	if !took {
		s.mu.Unlock()
		return
	}
	state := s.stateCopyLocked()
	s.mu.Unlock()

	s.fireSnapshotTaken(id, v)
	for _, dropped := range evicted {
		s.fireVersionEvicted(id, dropped)
	}
	s.firePersist(state)
}

// snapshotLocked prepends a new version and truncates history to HistoryCap.
// Caller holds s.mu. Returns the new version, any evicted versions (oldest
// last), and whether a version was actually taken.
func (s *Store) snapshotLocked(p *Project, reason SnapshotReason) (ProjectVersion, []ProjectVersion, bool) {
	if len(p.History) > 0 && p.History[0].Content == p.Content {
		return ProjectVersion{}, nil, false
	}
	v := ProjectVersion{
		ID:        util.NewID("ver"),
		CreatedAt: s.now(),
		Content:   p.Content,
		Reason:    reason,
	}
	p.History = append([]ProjectVersion{v}, p.History...)
	var evicted []ProjectVersion
	if len(p.History) > HistoryCap {
		evicted = append(evicted, p.History[HistoryCap:]...)
		p.History = p.History[:HistoryCap]
	}
	p.LastSnapshotAt = v.CreatedAt
	return v, evicted, true
}

// Delete removes the project and all nested state as a unit.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	if _, ok := s.projects[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.projects, id)
	state := s.stateCopyLocked()
	s.mu.Unlock()

	s.fireProjectDeleted(id)
	s.firePersist(state)
}

// APIMode returns the persisted api mode setting (may be empty).
func (s *Store) APIMode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.APIMode
}

func (s *Store) SetAPIMode(mode string) {
	s.mu.Lock()
	s.settings.APIMode = mode
	state := s.stateCopyLocked()
	s.mu.Unlock()
	s.firePersist(state)
}

// notify delivers one event to every subscriber, serialized so events are
// observed in commit order.
func (s *Store) notify(event ChangeEvent) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for _, fn := range s.subs {
		fn(event)
	}
}

func (s *Store) firePersist(state State) {
	if s.hooks.Persist != nil {
		s.hooks.Persist(state)
	}
}

func (s *Store) fireSnapshotTaken(id string, v ProjectVersion) {
	if s.hooks.SnapshotTaken != nil {
		s.hooks.SnapshotTaken(id, v)
	}
}

func (s *Store) fireVersionEvicted(id string, v ProjectVersion) {
	if s.hooks.VersionEvicted != nil {
		s.hooks.VersionEvicted(id, v)
	}
}

func (s *Store) fireProjectChanged(p Project) {
	if s.hooks.ProjectChanged != nil {
		s.hooks.ProjectChanged(p)
	}
}

func (s *Store) fireProjectDeleted(id string) {
	if s.hooks.ProjectDeleted != nil {
		s.hooks.ProjectDeleted(id)
	}
}

func sortProjectsByUpdatedAt(projects []Project) {
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].UpdatedAt.After(projects[j].UpdatedAt)
	})
}
