package store

import "inkwell/api/internal/util"

// AddThread creates a chat thread for the project and makes it the active
// thread. Returns the new thread id, or false if the project is missing.
func (s *Store) AddThread(projectID, title string) (string, bool) {
	s.mu.Lock()
	p, ok := s.projects[projectID]
	if !ok {
		s.mu.Unlock()
		return "", false
	}
	id := util.NewID("thr")
	now := s.now()
	p.Threads[id] = ChatThread{
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}
	p.ActiveThreadID = id
	state := s.stateCopyLocked()
	s.mu.Unlock()

	s.firePersist(state)
	return id, true
}

// DeleteThread removes a thread. Deleting the active thread clears the
// active pointer; deleting any other thread leaves it untouched.
func (s *Store) DeleteThread(projectID, threadID string) {
	s.mu.Lock()
	p, ok := s.projects[projectID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, ok := p.Threads[threadID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(p.Threads, threadID)
	if p.ActiveThreadID == threadID {
		p.ActiveThreadID = ""
	}
	state := s.stateCopyLocked()
	s.mu.Unlock()

	s.firePersist(state)
}

// SetActiveThread points the project at the given thread, or clears the
// pointer when threadID is empty. Pointing at a nonexistent thread no-ops.
func (s *Store) SetActiveThread(projectID, threadID string) {
	s.mu.Lock()
	p, ok := s.projects[projectID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if threadID != "" {
		if _, ok := p.Threads[threadID]; !ok {
			s.mu.Unlock()
			return
		}
	}
	p.ActiveThreadID = threadID
	state := s.stateCopyLocked()
	s.mu.Unlock()

	s.firePersist(state)
}

// ReplaceThreadMessages overwrites the thread's message log and bumps its
// updatedAt. The log is persisted once per completed turn, not per delta.
func (s *Store) ReplaceThreadMessages(projectID, threadID string, messages []Message) {
	s.mu.Lock()
	p, ok := s.projects[projectID]
	if !ok {
		s.mu.Unlock()
		return
	}
	t, ok := p.Threads[threadID]
	if !ok {
		s.mu.Unlock()
		return
	}
	t.Messages = make([]Message, len(messages))
	for i, m := range messages {
		t.Messages[i] = cloneMessage(m)
	}
	t.UpdatedAt = s.now()
	p.Threads[threadID] = t
	state := s.stateCopyLocked()
	s.mu.Unlock()

	s.firePersist(state)
}

// Thread returns a deep copy of one thread.
func (s *Store) Thread(projectID, threadID string) (ChatThread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return ChatThread{}, false
	}
	t, ok := p.Threads[threadID]
	if !ok {
		return ChatThread{}, false
	}
	return cloneThread(t), true
}
