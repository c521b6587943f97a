// Package persist provides write-through durable storage for the engine's
// state. The in-memory store stays authoritative; the durable copy converges
// shortly after each mutation. The whole state is always written as one
// complete document under a single namespace key, never incrementally, so a
// crash can lose at most the newest mutation but never corrupts ordering.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"inkwell/api/internal/store"
)

// StateKey is the single namespace key the whole app state lives under.
const StateKey = "app-store"

// Backend stores and retrieves the serialized state blob.
type Backend interface {
	SaveState(ctx context.Context, payload []byte) error
	LoadState(ctx context.Context) ([]byte, error)
	Ping(ctx context.Context) error
	Close() error
}

// Saver serializes saves onto one background goroutine. Writes are ordered
// and coalescing: if mutations outrun the backend, intermediate states are
// skipped and only the latest is written.
type Saver struct {
	backend Backend
	timeout time.Duration

	mu      sync.Mutex
	pending *store.State

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func NewSaver(backend Backend) *Saver {
	s := &Saver{
		backend: backend,
		timeout: 10 * time.Second,
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Enqueue records the latest state for persistence and returns immediately.
func (s *Saver) Enqueue(state store.State) {
	s.mu.Lock()
	s.pending = &state
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Saver) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			s.flush()
			return
		case <-s.kick:
			s.flush()
		}
	}
}

func (s *Saver) flush() {
	s.mu.Lock()
	state := s.pending
	s.pending = nil
	s.mu.Unlock()
	if state == nil {
		return
	}

	payload, err := json.Marshal(state)
	if err != nil {
		log.Printf("persist: marshal state: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.backend.SaveState(ctx, payload); err != nil {
		log.Printf("persist: save state: %v", err)
	}
}

// Flush writes any pending state synchronously. Intended for tests and
// shutdown paths.
func (s *Saver) Flush() {
	s.flush()
}

// Close flushes pending state and stops the background writer.
func (s *Saver) Close() {
	close(s.done)
	s.wg.Wait()
}

// Load reads and decodes the persisted state. A missing key yields an empty,
// normalized state rather than an error.
func Load(ctx context.Context, backend Backend) (store.State, error) {
	var state store.State
	payload, err := backend.LoadState(ctx)
	if err != nil {
		return state, fmt.Errorf("load state: %w", err)
	}
	if payload != nil {
		if err := json.Unmarshal(payload, &state); err != nil {
			return state, fmt.Errorf("decode state: %w", err)
		}
	}
	state.Normalize()
	return state, nil
}
