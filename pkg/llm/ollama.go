// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaProvider implements StreamingProvider against an Ollama server.
type OllamaProvider struct {
	baseURL string
	client  *http.Client
}

// NewOllama creates a new OllamaProvider.
func NewOllama(baseURL string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Tools    []Tool         `json:"tools,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// ollamaStreamEvent represents one NDJSON line of an Ollama chat stream.
type ollamaStreamEvent struct {
	Model           string  `json:"model"`
	CreatedAt       string  `json:"created_at"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
}

// ChatStream implements StreamingProvider. The NDJSON stream is mapped
// onto Chunks: content lines become deltas, tool calls accumulate until
// the done line, malformed lines surface as Telemetry chunks so the
// consumer can apply its discard policy.
func (p *OllamaProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	oReq := ollamaRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
		Tools:    req.Tools,
	}
	if req.Temperature != 0 {
		oReq.Options = map[string]any{"temperature": req.Temperature}
	}

	body, err := json.Marshal(oReq)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama api call failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama api returned status %d: %s", resp.StatusCode, string(respBody))
	}

	chunks := make(chan Chunk, 100)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		var toolCalls []ToolCall

		for {
			select {
			case <-ctx.Done():
				chunks <- Chunk{Err: ctx.Err()}
				return
			default:
			}

			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err != io.EOF {
					chunks <- Chunk{Err: err}
				}
				return
			}

			var event ollamaStreamEvent
			if err := json.Unmarshal(line, &event); err != nil {
				chunks <- Chunk{Telemetry: json.RawMessage(append([]byte(nil), line...))}
				continue
			}

			if len(event.Message.ToolCalls) > 0 {
				toolCalls = event.Message.ToolCalls
			}

			if event.Done {
				chunks <- Chunk{
					Done:      true,
					ToolCalls: toolCalls,
					Usage: &Usage{
						PromptTokens:     event.PromptEvalCount,
						CompletionTokens: event.EvalCount,
						TotalTokens:      event.PromptEvalCount + event.EvalCount,
					},
				}
				return
			}

			if event.Message.Content != "" {
				chunks <- Chunk{Delta: event.Message.Content}
			}
		}
	}()

	return chunks, nil
}

var _ StreamingProvider = (*OllamaProvider)(nil)
