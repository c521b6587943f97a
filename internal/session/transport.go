package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"inkwell/api/internal/chat"
	"inkwell/api/internal/endpoint"
	"inkwell/api/internal/store"
)

// HTTPStreamer opens turns against the chat endpoint selected by the
// persisted api mode.
type HTTPStreamer struct {
	Resolver endpoint.Resolver
	// Mode returns the current api mode; read per turn so a settings change
	// takes effect without restarting the session.
	Mode   func() string
	Client *http.Client
}

type turnRequest struct {
	Messages       []store.Message `json:"messages"`
	ProjectContent string          `json:"projectContent"`
}

func (h *HTTPStreamer) StreamTurn(ctx context.Context, messages []store.Message, projectContent string) (TurnStream, error) {
	url, err := h.Resolver.Resolve(h.Mode(), "/api/chat")
	if err != nil {
		return nil, fmt.Errorf("resolve chat endpoint: %w", err)
	}

	payload, err := json.Marshal(turnRequest{Messages: messages, ProjectContent: projectContent})
	if err != nil {
		return nil, fmt.Errorf("encode turn request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build turn request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post turn: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var failure struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&failure); err != nil || failure.Error == "" {
			return nil, fmt.Errorf("chat endpoint returned status %d", resp.StatusCode)
		}
		if failure.Details != "" {
			return nil, fmt.Errorf("chat endpoint: %s: %s", failure.Error, failure.Details)
		}
		return nil, fmt.Errorf("chat endpoint: %s", failure.Error)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &httpTurnStream{body: resp.Body, scanner: scanner}, nil
}

type httpTurnStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (t *httpTurnStream) Next() (chat.Event, error) {
	for t.scanner.Scan() {
		line := bytes.TrimSpace(t.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev chat.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return chat.Event{}, fmt.Errorf("decode event: %w", err)
		}
		return ev, nil
	}
	if err := t.scanner.Err(); err != nil {
		return chat.Event{}, fmt.Errorf("read stream: %w", err)
	}
	return chat.Event{}, io.EOF
}

func (t *httpTurnStream) Close() error {
	return t.body.Close()
}
