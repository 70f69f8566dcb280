// Package llm abstracts the external reasoning engine. The engine is
// opaque: it consumes a prompt plus a tool catalog and produces an ordered
// stream of chunks. Nothing in this package decides what a tool does or
// whether a caller may use it.
// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolType represents the type of tool.
type ToolType string

const (
	ToolTypeFunction ToolType = "function"
)

// FunctionDef defines a function tool.
type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters"` // JSON Schema
}

// Tool represents a tool advertised to the engine.
type Tool struct {
	Type     ToolType    `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionCall represents a call to a function tool.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string containing arguments
}

// ToolCall represents a request from the engine to call a tool.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     ToolType     `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is a single unit of communication.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ChatRequest encapsulates the input for the engine.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Chunk is one element of the engine's ordered event stream. Exactly one
// of the payload fields is meaningful per chunk:
//   - Delta: an incremental piece of assistant text,
//   - ToolCalls: completed tool-call requests (set together with Done on
//     engines that report them at end of stream),
//   - Done: terminal marker carrying usage,
//   - Telemetry: a raw low-level engine event with no external meaning;
//     consumers discard it,
//   - Err: a stream fault.
type Chunk struct {
	Delta     string
	ToolCalls []ToolCall
	Done      bool
	Usage     *Usage
	Telemetry json.RawMessage
	Err       error
}

// StreamingProvider is the interface to engines that stream their output.
type StreamingProvider interface {
	// ChatStream starts one engine turn. The returned channel is closed
	// when the stream ends; a Chunk with Err set reports a stream fault.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan Chunk, error)
}
