// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"sync"
)

// ScriptedStreamProvider is a StreamingProvider that replays pre-defined
// chunk sequences. Each ChatStream call consumes the next script, which
// makes multi-turn tool loops fully deterministic in tests.
type ScriptedStreamProvider struct {
	mu      sync.Mutex
	scripts [][]Chunk

	// Err, when set, fails ChatStream before any chunk is produced.
	Err error

	// CallCount tracks how many times ChatStream has been called.
	CallCount int

	// Requests records every request, in order, for assertions.
	Requests []ChatRequest
}

// NewScriptedStreamProvider creates a provider that plays scripts in order.
func NewScriptedStreamProvider(scripts ...[]Chunk) *ScriptedStreamProvider {
	return &ScriptedStreamProvider{scripts: scripts}
}

// AddScript appends a chunk sequence for a future ChatStream call.
func (s *ScriptedStreamProvider) AddScript(chunks ...Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, chunks)
}

// ChatStream pops the next script and plays it over a channel.
func (s *ScriptedStreamProvider) ChatStream(_ context.Context, req ChatRequest) (<-chan Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	s.Requests = append(s.Requests, req)

	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.scripts) == 0 {
		return nil, errors.New("scripted stream: no more scripts available")
	}

	script := s.scripts[0]
	s.scripts = s.scripts[1:]

	out := make(chan Chunk, len(script))
	for _, chunk := range script {
		out <- chunk
	}
	close(out)
	return out, nil
}

// StalledStreamProvider returns a channel that never produces a chunk.
// Used to exercise inactivity timeouts.
type StalledStreamProvider struct{}

// ChatStream implements StreamingProvider.
func (StalledStreamProvider) ChatStream(ctx context.Context, _ ChatRequest) (<-chan Chunk, error) {
	out := make(chan Chunk)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

var (
	_ StreamingProvider = (*ScriptedStreamProvider)(nil)
	_ StreamingProvider = StalledStreamProvider{}
)
