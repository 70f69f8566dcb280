// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch runs conversational turns: it advertises the caller's
// visible tools to the reasoning engine, transforms the engine's chunk
// stream into the external event protocol, and routes every tool call
// through the authorization guard. External events are emitted in the exact
// order their triggering chunks were observed; no wall-clock value is
// embedded in the transformation, so replaying the same chunk stream yields
// the same events.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wardenhq/warden/pkg/catalog"
	"github.com/wardenhq/warden/pkg/errors"
	"github.com/wardenhq/warden/pkg/identity"
	"github.com/wardenhq/warden/pkg/llm"
	"github.com/wardenhq/warden/pkg/telemetry"
)

const (
	defaultMaxToolRounds     = 8
	defaultInactivityTimeout = 60 * time.Second

	// codeCancelled is the protocol-level error code for a turn whose
	// caller went away. It is not an errors.ErrorCode: cancellation is a
	// transport condition, not a fault in any component.
	codeCancelled = "TURN_CANCELLED"
)

// Sink receives external events. A Sink error stops the turn; the caller
// is gone and nothing further can be delivered.
type Sink func(Event) error

// Dispatcher owns the turn pipeline for one provider/guard pair. It is
// safe for concurrent use; each Run call is an independent turn.
type Dispatcher struct {
	guard    *catalog.Guard
	provider llm.StreamingProvider
	model    string

	maxToolRounds     int
	inactivityTimeout time.Duration

	tracer trace.Tracer
	log    *slog.Logger

	turnsTotal      metric.Int64Counter
	toolInvocations metric.Int64Counter
	denialsTotal    metric.Int64Counter
	chunksDiscarded metric.Int64Counter
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxToolRounds bounds how many engine round-trips one turn may make.
func WithMaxToolRounds(n int) Option {
	return func(d *Dispatcher) { d.maxToolRounds = n }
}

// WithInactivityTimeout bounds how long the dispatcher waits between
// engine chunks before failing the turn as retryable.
func WithInactivityTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.inactivityTimeout = timeout }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// New creates a Dispatcher.
func New(guard *catalog.Guard, provider llm.StreamingProvider, model string, opts ...Option) *Dispatcher {
	meter := otel.Meter("warden/dispatch")
	turns, _ := meter.Int64Counter("warden.turns",
		metric.WithDescription("Conversational turns started"))
	invocations, _ := meter.Int64Counter("warden.tool.invocations",
		metric.WithDescription("Tool invocations attempted through the guard"))
	denials, _ := meter.Int64Counter("warden.authorization.denials",
		metric.WithDescription("Tool invocations denied by the guard"))
	discarded, _ := meter.Int64Counter("warden.chunks.discarded",
		metric.WithDescription("Engine telemetry chunks discarded without external output"))

	d := &Dispatcher{
		guard:             guard,
		provider:          provider,
		model:             model,
		maxToolRounds:     defaultMaxToolRounds,
		inactivityTimeout: defaultInactivityTimeout,
		tracer:            otel.Tracer("warden/dispatch"),
		log:               slog.Default(),
		turnsTotal:        turns,
		toolInvocations:   invocations,
		denialsTotal:      denials,
		chunksDiscarded:   discarded,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// turn carries the state of one conversational turn. State transitions
// are enforced at the emit boundary: once a terminal state is reached, no
// further event leaves the turn.
type turn struct {
	itemID  string
	state   State
	text    string
	callSeq int
	sink    Sink
}

func (t *turn) emit(e Event) error {
	if t.state.terminal() {
		return nil
	}
	return t.sink(e)
}

func (t *turn) finish(e Event, next State) error {
	err := t.emit(e)
	t.state = next
	return err
}

// Run executes one conversational turn for caller. turnID is supplied by
// the caller and becomes the item_id of every turn-level event. Run
// always drives the turn to a terminal event unless the sink itself
// fails.
func (d *Dispatcher) Run(ctx context.Context, caller identity.Context, turnID, userMessage string, sink Sink) error {
	ctx, span := d.tracer.Start(ctx, "Dispatcher.Run", trace.WithAttributes(
		telemetry.TurnAttributes(turnID, caller.UserID(), string(caller.Role()))...,
	))
	defer span.End()

	d.turnsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(telemetry.AttrUserRole, string(caller.Role()))))

	t := &turn{itemID: turnID, state: StateStarted, sink: sink}
	if err := t.emit(turnStarted(turnID)); err != nil {
		return err
	}
	t.state = StateStreaming

	c := d.guard.Catalog()
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: Instructions(caller.Role(), c.NamesForRole(caller.Role()))},
		{Role: llm.RoleUser, Content: userMessage},
	}
	toolDefs := c.DefinitionsForRole(caller.Role())

	for round := 0; round < d.maxToolRounds; round++ {
		chunks, err := d.provider.ChatStream(ctx, llm.ChatRequest{
			Model:    d.model,
			Messages: messages,
			Tools:    toolDefs,
		})
		if err != nil {
			return t.finish(turnError(string(errors.CodeEngineError),
				"reasoning engine unavailable", true), StateErrored)
		}

		toolCalls, sinkErr, done := d.consumeStream(ctx, t, chunks)
		if sinkErr != nil {
			return sinkErr
		}
		if done {
			return nil
		}
		if len(toolCalls) == 0 {
			return t.finish(turnDone(turnID, t.text), StateDone)
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   "",
			ToolCalls: toolCalls,
		})
		for _, call := range toolCalls {
			toolMsg, sinkErr, done := d.executeToolCall(ctx, caller, t, call)
			if sinkErr != nil {
				return sinkErr
			}
			if done {
				return nil
			}
			messages = append(messages, toolMsg)
		}
		t.state = StateStreaming
	}

	d.log.Error("turn.tool_loop_exceeded",
		slog.String("turn_id", turnID),
		slog.Int("rounds", d.maxToolRounds),
	)
	return t.finish(turnError(string(errors.CodeEngineError),
		fmt.Sprintf("tool loop exceeded %d rounds without a final answer", d.maxToolRounds),
		false), StateErrored)
}

// consumeStream drains one engine stream. It returns the tool calls the
// engine requested (nil when the stream finished with plain text), a sink
// failure, and whether the turn reached a terminal state.
func (d *Dispatcher) consumeStream(ctx context.Context, t *turn, chunks <-chan llm.Chunk) (toolCalls []llm.ToolCall, sinkErr error, done bool) {
	timer := time.NewTimer(d.inactivityTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, t.finish(turnError(codeCancelled, "turn cancelled by caller", true), StateErrored), true

		case <-timer.C:
			return nil, t.finish(turnError(string(errors.CodeTimeout),
				fmt.Sprintf("no engine output within %s", d.inactivityTimeout), true), StateErrored), true

		case chunk, ok := <-chunks:
			if !ok {
				// Stream ended without a done marker. Treat as end of
				// text output.
				return nil, t.finish(turnDone(t.itemID, t.text), StateDone), true
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(d.inactivityTimeout)

			switch {
			case chunk.Err != nil:
				return nil, t.finish(turnError(string(errors.CodeEngineError),
					chunk.Err.Error(), true), StateErrored), true

			case chunk.Done:
				if chunk.Usage != nil {
					trace.SpanFromContext(ctx).SetAttributes(telemetry.EngineUsageAttributes(
						d.model, chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens,
						len(chunk.ToolCalls))...)
				}
				if len(chunk.ToolCalls) > 0 {
					return chunk.ToolCalls, nil, false
				}
				return nil, nil, false

			case chunk.Delta != "":
				t.text += chunk.Delta
				if err := t.emit(contentDelta(t.itemID, chunk.Delta)); err != nil {
					return nil, err, true
				}

			default:
				// Telemetry or otherwise unrecognized chunk: discarded
				// with zero external output.
				d.chunksDiscarded.Add(ctx, 1)
			}
		}
	}
}

// executeToolCall runs one engine tool call through the guard and turns
// the outcome into protocol events plus the tool message fed back to the
// engine.
func (d *Dispatcher) executeToolCall(ctx context.Context, caller identity.Context, t *turn, call llm.ToolCall) (llm.Message, error, bool) {
	t.state = StateToolPending
	name := call.Function.Name
	callID := call.ID
	if callID == "" {
		t.callSeq++
		callID = fmt.Sprintf("call_%d", t.callSeq)
	}

	var args map[string]any
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			// Malformed engine output is structural, not transient.
			return llm.Message{}, t.finish(turnError(string(errors.CodeEngineError),
				fmt.Sprintf("malformed tool arguments for %s: %v", name, err), false), StateErrored), true
		}
	}

	if err := t.emit(toolStarted(callID, name, args)); err != nil {
		return llm.Message{}, err, true
	}

	d.toolInvocations.Add(ctx, 1, metric.WithAttributes(
		telemetry.ToolAttributes(name, callID, string(caller.Role()), false)...))

	result, invokeErr := d.guard.Invoke(ctx, caller, name, args)

	// An authorization check in flight is allowed to finish, but its
	// result is discarded if the turn was cancelled first.
	if ctx.Err() != nil {
		return llm.Message{}, t.finish(turnError(codeCancelled, "turn cancelled by caller", true), StateErrored), true
	}

	if invokeErr != nil {
		structured, recoverable := d.structuredToolError(ctx, caller, name, invokeErr)
		if !recoverable {
			return llm.Message{}, t.finish(turnError(string(errors.AsWardenError(invokeErr).Code),
				invokeErr.Error(), errors.Is(invokeErr, errors.CodeTimeout)), StateErrored), true
		}
		result = structured
	}

	if err := t.emit(toolCompleted(callID, name, result)); err != nil {
		return llm.Message{}, err, true
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return llm.Message{}, t.finish(turnError(string(errors.CodeInternal),
			fmt.Sprintf("tool %s produced an unencodable result", name), false), StateErrored), true
	}
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    string(payload),
		ToolCallID: callID,
	}, nil, false
}

// structuredToolError maps a recoverable invocation failure to the
// structured result the conversational layer uses to explain the
// limitation. Non-recoverable faults report recoverable=false and abort
// the turn instead.
func (d *Dispatcher) structuredToolError(ctx context.Context, caller identity.Context, name string, err error) (map[string]any, bool) {
	we := errors.AsWardenError(err)
	if !we.Recoverable {
		return nil, false
	}

	switch we.Code {
	case errors.CodeUnauthorized, errors.CodeUnknownTool:
		d.denialsTotal.Add(ctx, 1, metric.WithAttributes(
			telemetry.ToolAttributes(name, "", string(caller.Role()), true)...))
		return map[string]any{
			"error": "permission_denied",
			"role":  string(caller.Role()),
			"tool":  name,
		}, true
	case errors.CodeInvalidInput:
		return map[string]any{
			"error":   "invalid_arguments",
			"tool":    name,
			"message": we.Message,
		}, true
	case errors.CodeNotFound:
		return map[string]any{
			"error":   "not_found",
			"tool":    name,
			"message": we.Message,
		}, true
	default:
		return map[string]any{
			"error":   "tool_failed",
			"tool":    name,
			"message": we.Message,
		}, true
	}
}
