package store

import (
	"encoding/json"
	"time"
)

// Source tags the origin of a content write. Downstream consumers use it to
// decide whether to re-apply a write back to the editor surface.
type Source string

const (
	SourceEditor   Source = "editor"
	SourceExternal Source = "external"
)

// SnapshotReason records why a version was captured.
type SnapshotReason string

const (
	ReasonManual     SnapshotReason = "manual"
	ReasonAIBackup   SnapshotReason = "ai_backup"
	ReasonAutoSave   SnapshotReason = "auto_save"
	ReasonSessionEnd SnapshotReason = "session_end"
)

const (
	// HistoryCap is the hard cap on retained versions per project.
	// Oldest entries are evicted on overflow.
	HistoryCap = 50

	// AutoSaveInterval is the minimum elapsed time since the last snapshot
	// before an incoming content change triggers an auto-save checkpoint.
	AutoSaveInterval = 10 * time.Minute
)

// ProjectVersion is an immutable full snapshot of a project's content.
type ProjectVersion struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	Content   string         `json:"content"`
	Reason    SnapshotReason `json:"reason"`
}

// Message part types.
const (
	PartText      = "text"
	PartReasoning = "reasoning"
	PartToolCall  = "tool-call"
)

// Tool-call part states.
const (
	ToolStatePending         = "pending"
	ToolStateOutputAvailable = "output-available"
)

// MessagePart is one typed segment of a chat message.
type MessagePart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ToolName string          `json:"toolName,omitempty"`
	CallID   string          `json:"callId,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	State    string          `json:"state,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID    string        `json:"id"`
	Role  string        `json:"role"`
	Parts []MessagePart `json:"parts"`
}

type ChatThread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

// Project is the live, mutable record for one document.
type Project struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// LastUpdatedSource is empty until the first content write.
	LastUpdatedSource Source `json:"lastUpdatedSource,omitempty"`

	// History is sorted newest-first and never exceeds HistoryCap entries.
	History        []ProjectVersion `json:"history"`
	LastSnapshotAt time.Time        `json:"lastSnapshotAt"`

	Threads        map[string]ChatThread `json:"threads"`
	ActiveThreadID string                `json:"activeThreadId,omitempty"`
}

// API modes selectable in settings. The mode picks which chat backend the
// endpoint resolver targets.
const (
	APIModeProduction  = "production"
	APIModeLocalExpo   = "local_expo"
	APIModeLocalVercel = "local_vercel"
)

// Settings holds user-level preferences persisted alongside projects.
type Settings struct {
	APIMode string `json:"apiMode"`
}

// State is the full persisted shape: one namespace key, full serialization.
type State struct {
	Projects map[string]Project `json:"projects"`
	Settings Settings           `json:"settings"`
}

// Normalize replaces nil collections left behind by deserialization so a
// round-tripped State compares equal to the original.
func (s *State) Normalize() {
	if s.Projects == nil {
		s.Projects = make(map[string]Project)
	}
	if s.Settings.APIMode == "" {
		s.Settings.APIMode = APIModeProduction
	}
	for id, p := range s.Projects {
		if p.History == nil {
			p.History = []ProjectVersion{}
		}
		if p.Threads == nil {
			p.Threads = make(map[string]ChatThread)
		}
		for tid, t := range p.Threads {
			if t.Messages == nil {
				t.Messages = []Message{}
				p.Threads[tid] = t
			}
		}
		s.Projects[id] = p
	}
}

func cloneProject(p Project) Project {
	out := p
	out.History = make([]ProjectVersion, len(p.History))
	copy(out.History, p.History)
	out.Threads = make(map[string]ChatThread, len(p.Threads))
	for id, t := range p.Threads {
		out.Threads[id] = cloneThread(t)
	}
	return out
}

func cloneThread(t ChatThread) ChatThread {
	out := t
	out.Messages = make([]Message, len(t.Messages))
	for i, m := range t.Messages {
		out.Messages[i] = cloneMessage(m)
	}
	return out
}

func cloneMessage(m Message) Message {
	out := m
	out.Parts = make([]MessagePart, len(m.Parts))
	copy(out.Parts, m.Parts)
	return out
}
