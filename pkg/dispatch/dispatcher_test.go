// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wardenhq/warden/pkg/catalog"
	"github.com/wardenhq/warden/pkg/errors"
	"github.com/wardenhq/warden/pkg/identity"
	"github.com/wardenhq/warden/pkg/incident"
	"github.com/wardenhq/warden/pkg/llm"
	"github.com/wardenhq/warden/pkg/telemetry"
	"github.com/wardenhq/warden/pkg/tools"
)

var testClock = func() time.Time {
	return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
}

func newTestGuard(t *testing.T) (*catalog.Guard, incident.Ledger) {
	t.Helper()

	ledger := incident.NewMemoryLedger()
	if err := incident.Seed(context.Background(), ledger, incident.DefaultSeed()); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	ts := tools.New(ledger, tools.WithClock(testClock))
	c, err := ts.Catalog()
	if err != nil {
		t.Fatalf("catalog construction failed: %v", err)
	}
	return catalog.NewGuard(c), ledger
}

func collect(events *[]Event) Sink {
	return func(e Event) error {
		*events = append(*events, e)
		return nil
	}
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func assertTypes(t *testing.T, events []Event, want ...EventType) {
	t.Helper()
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s (full sequence %v)", i, got[i], want[i], got)
		}
	}
}

func TestPlainTextTurn(t *testing.T) {
	guard, _ := newTestGuard(t)
	provider := llm.NewScriptedStreamProvider([]llm.Chunk{
		{Delta: "The incident "},
		{Delta: "is being "},
		{Delta: "investigated."},
		{Done: true},
	})
	d := New(guard, provider, "test-model")

	var events []Event
	err := d.Run(context.Background(), identity.New("u-it", identity.RoleIT),
		"turn-1", "What is the status of INC-001?", collect(&events))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	assertTypes(t, events,
		EventTurnStarted, EventContentDelta, EventContentDelta, EventContentDelta, EventTurnDone)

	if events[0].ItemID != "turn-1" {
		t.Errorf("turn.started item_id = %s, want turn-1", events[0].ItemID)
	}
	if events[1].Text != "The incident " {
		t.Errorf("first delta = %q, deltas must carry only the increment", events[1].Text)
	}
	done := events[len(events)-1]
	if done.FullText != "The incident is being investigated." {
		t.Errorf("turn.done full_text = %q, want full accumulated text", done.FullText)
	}
}

func TestSystemPromptListsOnlyVisibleTools(t *testing.T) {
	guard, _ := newTestGuard(t)
	provider := llm.NewScriptedStreamProvider([]llm.Chunk{{Done: true}})
	d := New(guard, provider, "test-model")

	var events []Event
	if err := d.Run(context.Background(), identity.New("u-csm", identity.RoleCSM),
		"turn-1", "hello", collect(&events)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	req := provider.Requests[0]
	system := req.Messages[0].Content
	if !strings.Contains(system, "notify_customers") {
		t.Error("CSM system prompt missing notify_customers")
	}
	if strings.Contains(system, "restart_service") {
		t.Error("CSM system prompt leaked restart_service")
	}

	for _, def := range req.Tools {
		if def.Function.Name == "restart_service" {
			t.Error("CSM tool definitions leaked restart_service")
		}
	}
	if len(req.Tools) != 3 {
		t.Errorf("CSM advertised %d tools, want 3", len(req.Tools))
	}
}

func TestToolLoopUpdatesPriority(t *testing.T) {
	guard, ledger := newTestGuard(t)
	provider := llm.NewScriptedStreamProvider(
		[]llm.Chunk{{Done: true, ToolCalls: []llm.ToolCall{{
			ID:   "call-abc",
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      "set_incident_priority",
				Arguments: `{"incident_id":"INC-001","priority":"P1"}`,
			},
		}}}},
		[]llm.Chunk{{Delta: "Priority raised to P1."}, {Done: true}},
	)
	d := New(guard, provider, "test-model")

	var events []Event
	err := d.Run(context.Background(), identity.New("u-ops", identity.RoleOps),
		"turn-1", "Escalate INC-001 to P1", collect(&events))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	assertTypes(t, events,
		EventTurnStarted, EventToolStarted, EventToolCompleted, EventContentDelta, EventTurnDone)

	started := events[1]
	if started.CallID != "call-abc" || started.Name != "set_incident_priority" {
		t.Errorf("tool.started = %s/%s, engine call id must be preserved", started.CallID, started.Name)
	}
	if started.Arguments["priority"] != "P1" {
		t.Errorf("tool.started arguments = %v", started.Arguments)
	}

	// The mutation must be visible to every role afterwards.
	projection, err := ledger.ProjectForRole(context.Background(), "INC-001", identity.RoleFinance)
	if err != nil {
		t.Fatalf("ProjectForRole failed: %v", err)
	}
	if projection.Priority != incident.PriorityP1 {
		t.Errorf("FINANCE projection priority = %s, want P1", projection.Priority)
	}

	// Second engine round must carry the tool result back.
	if provider.CallCount != 2 {
		t.Fatalf("engine called %d times, want 2", provider.CallCount)
	}
	secondReq := provider.Requests[1]
	last := secondReq.Messages[len(secondReq.Messages)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "call-abc" {
		t.Errorf("tool result message = %+v, want role=tool with matching call id", last)
	}
}

func TestDeniedToolCallContinuesTurn(t *testing.T) {
	guard, ledger := newTestGuard(t)
	provider := llm.NewScriptedStreamProvider(
		[]llm.Chunk{{Done: true, ToolCalls: []llm.ToolCall{{
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      "restart_service",
				Arguments: `{"service_name":"redis"}`,
			},
		}}}},
		[]llm.Chunk{{Delta: "You are not authorized to restart services."}, {Done: true}},
	)
	d := New(guard, provider, "test-model")

	before, _ := ledger.Get(context.Background(), "INC-001")

	var events []Event
	err := d.Run(context.Background(), identity.New("u-fin", identity.RoleFinance),
		"turn-1", "Restart redis now", collect(&events))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	assertTypes(t, events,
		EventTurnStarted, EventToolStarted, EventToolCompleted, EventContentDelta, EventTurnDone)

	completed := events[2]
	denial, ok := completed.Result.(map[string]any)
	if !ok {
		t.Fatalf("tool.completed result type = %T, want structured denial", completed.Result)
	}
	if denial["error"] != "permission_denied" {
		t.Errorf("denial error = %v, want permission_denied", denial["error"])
	}
	if denial["role"] != "FINANCE" || denial["tool"] != "restart_service" {
		t.Errorf("denial = %v, want role FINANCE and tool restart_service", denial)
	}

	// No side effect, and the synthesized call id is deterministic.
	after, _ := ledger.Get(context.Background(), "INC-001")
	if after.UpdatedAt != before.UpdatedAt {
		t.Error("denied invocation mutated the ledger")
	}
	if events[1].CallID != "call_1" {
		t.Errorf("synthesized call id = %s, want call_1", events[1].CallID)
	}
}

func TestTelemetryChunksProduceNoOutput(t *testing.T) {
	guard, _ := newTestGuard(t)
	provider := llm.NewScriptedStreamProvider([]llm.Chunk{
		{Telemetry: json.RawMessage(`{"gpu_ms":12}`)},
		{Delta: "Answer."},
		{Telemetry: json.RawMessage(`{"kv_cache":"hit"}`)},
		{Done: true},
	})
	d := New(guard, provider, "test-model")

	var events []Event
	if err := d.Run(context.Background(), identity.New("u-it", identity.RoleIT),
		"turn-1", "hello", collect(&events)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	assertTypes(t, events, EventTurnStarted, EventContentDelta, EventTurnDone)
}

// Replaying the same chunk stream through fresh dispatchers yields
// byte-identical external events.
func TestDeterministicReplay(t *testing.T) {
	script := [][]llm.Chunk{
		{{Done: true, ToolCalls: []llm.ToolCall{{
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      "view_incident_details",
				Arguments: `{"incident_id":"INC-001"}`,
			},
		}}}},
		{{Delta: "INC-001 is a P2 "}, {Delta: "under investigation."}, {Done: true}},
	}

	run := func() []byte {
		guard, _ := newTestGuard(t)
		provider := llm.NewScriptedStreamProvider(script...)
		d := New(guard, provider, "test-model")

		var events []Event
		if err := d.Run(context.Background(), identity.New("u-ops", identity.RoleOps),
			"turn-fixed", "Show me INC-001", collect(&events)); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		var encoded [][]byte
		for _, e := range events {
			b, err := e.Encode()
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			encoded = append(encoded, b)
		}
		return []byte(strings.Join(func() []string {
			out := make([]string, len(encoded))
			for i, b := range encoded {
				out[i] = string(b)
			}
			return out
		}(), "\n"))
	}

	first := run()
	second := run()
	if string(first) != string(second) {
		t.Errorf("replay diverged:\n%s\n---\n%s", first, second)
	}
}

func TestStreamErrorIsRetryable(t *testing.T) {
	guard, _ := newTestGuard(t)
	provider := llm.NewScriptedStreamProvider([]llm.Chunk{
		{Delta: "partial"},
		{Err: context.DeadlineExceeded},
	})
	d := New(guard, provider, "test-model")

	var events []Event
	if err := d.Run(context.Background(), identity.New("u-it", identity.RoleIT),
		"turn-1", "hello", collect(&events)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	assertTypes(t, events, EventTurnStarted, EventContentDelta, EventTurnError)
	last := events[len(events)-1]
	if last.Code != string(errors.CodeEngineError) {
		t.Errorf("turn.error code = %s, want ENGINE_ERROR", last.Code)
	}
	if last.Retryable == nil || !*last.Retryable {
		t.Error("transport fault must be retryable")
	}
}

func TestMalformedToolArgumentsNotRetryable(t *testing.T) {
	guard, _ := newTestGuard(t)
	provider := llm.NewScriptedStreamProvider([]llm.Chunk{
		{Done: true, ToolCalls: []llm.ToolCall{{
			Type:     llm.ToolTypeFunction,
			Function: llm.FunctionCall{Name: "view_incident_details", Arguments: `{not json`},
		}}},
	})
	d := New(guard, provider, "test-model")

	var events []Event
	if err := d.Run(context.Background(), identity.New("u-it", identity.RoleIT),
		"turn-1", "hello", collect(&events)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	last := events[len(events)-1]
	if last.Type != EventTurnError {
		t.Fatalf("last event = %s, want turn.error", last.Type)
	}
	if last.Retryable == nil || *last.Retryable {
		t.Error("malformed engine output is structural, retryable must be false")
	}
}

func TestInactivityTimeout(t *testing.T) {
	guard, _ := newTestGuard(t)
	d := New(guard, llm.StalledStreamProvider{}, "test-model",
		WithInactivityTimeout(20*time.Millisecond))

	var events []Event
	if err := d.Run(context.Background(), identity.New("u-it", identity.RoleIT),
		"turn-1", "hello", collect(&events)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	assertTypes(t, events, EventTurnStarted, EventTurnError)
	last := events[1]
	if last.Code != string(errors.CodeTimeout) {
		t.Errorf("turn.error code = %s, want TIMEOUT", last.Code)
	}
	if last.Retryable == nil || !*last.Retryable {
		t.Error("a stalled stream must fail as retryable")
	}
}

// A tool whose execution outlives the turn must not have its result
// applied: the turn ends with no tool.completed event.
func TestCancellationDiscardsCompletedToolResult(t *testing.T) {
	ledger := incident.NewMemoryLedger()
	if err := incident.Seed(context.Background(), ledger, incident.DefaultSeed()); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	cancelling := catalog.Descriptor{
		Name:               "view_incident_details",
		Description:        "View incident information",
		RequiredPermission: "view_incident_details",
		VisibleRoles:       []identity.Role{identity.RoleIT},
		Handler: func(_ context.Context, _ identity.Context, _ map[string]any) (any, error) {
			cancel() // caller disconnects while the tool is running
			return map[string]any{"should": "be discarded"}, nil
		},
	}
	c, err := catalog.New(cancelling)
	if err != nil {
		t.Fatalf("catalog construction failed: %v", err)
	}

	provider := llm.NewScriptedStreamProvider([]llm.Chunk{
		{Done: true, ToolCalls: []llm.ToolCall{{
			Type:     llm.ToolTypeFunction,
			Function: llm.FunctionCall{Name: "view_incident_details", Arguments: `{"incident_id":"INC-001"}`},
		}}},
	})
	d := New(catalog.NewGuard(c), provider, "test-model")

	var events []Event
	if err := d.Run(ctx, identity.New("u-it", identity.RoleIT),
		"turn-1", "Show me INC-001", collect(&events)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, e := range events {
		if e.Type == EventToolCompleted {
			t.Fatal("tool.completed emitted after cancellation; result must be discarded")
		}
	}
	last := events[len(events)-1]
	if last.Type != EventTurnError || last.Code != "TURN_CANCELLED" {
		t.Errorf("terminal event = %s/%s, want turn.error TURN_CANCELLED", last.Type, last.Code)
	}
}

func TestToolLoopBound(t *testing.T) {
	guard, _ := newTestGuard(t)

	loopCall := []llm.Chunk{{Done: true, ToolCalls: []llm.ToolCall{{
		Type:     llm.ToolTypeFunction,
		Function: llm.FunctionCall{Name: "view_incident_details", Arguments: `{"incident_id":"INC-001"}`},
	}}}}
	provider := llm.NewScriptedStreamProvider(loopCall, loopCall, loopCall)
	d := New(guard, provider, "test-model", WithMaxToolRounds(2))

	var events []Event
	if err := d.Run(context.Background(), identity.New("u-it", identity.RoleIT),
		"turn-1", "loop forever", collect(&events)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	last := events[len(events)-1]
	if last.Type != EventTurnError {
		t.Fatalf("last event = %s, want turn.error after round limit", last.Type)
	}
	if last.Retryable == nil || *last.Retryable {
		t.Error("round-limit fault is structural, retryable must be false")
	}
	if provider.CallCount != 2 {
		t.Errorf("engine called %d times, want exactly the round limit", provider.CallCount)
	}
}

func TestNoEventsAfterTerminal(t *testing.T) {
	tr := &turn{itemID: "turn-1", state: StateStreaming, sink: func(e Event) error {
		return nil
	}}
	var after []Event
	if err := tr.finish(turnDone("turn-1", "text"), StateDone); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	tr.sink = collect(&after)
	_ = tr.emit(contentDelta("turn-1", "late"))
	if len(after) != 0 {
		t.Errorf("events emitted after terminal state: %v", after)
	}
}

// The Run span must carry the shared turn attributes plus the engine usage
// the stream reported on its done chunk.
func TestRunSpanAttributes(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	guard, _ := newTestGuard(t)
	provider := llm.NewScriptedStreamProvider([]llm.Chunk{
		{Delta: "All clear."},
		{Done: true, Usage: &llm.Usage{PromptTokens: 12, CompletionTokens: 7, TotalTokens: 19}},
	})
	d := New(guard, provider, "test-model")

	var events []Event
	if err := d.Run(context.Background(), identity.New("u-ops", identity.RoleOps),
		"turn-9", "status?", collect(&events)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	spans := exporter.GetSpans()
	var run *tracetest.SpanStub
	for i := range spans {
		if spans[i].Name == "Dispatcher.Run" {
			run = &spans[i]
		}
	}
	if run == nil {
		t.Fatal("no Dispatcher.Run span exported")
	}

	attrs := map[string]attribute.Value{}
	for _, kv := range run.Attributes {
		attrs[string(kv.Key)] = kv.Value
	}

	checks := []struct {
		key  string
		want string
	}{
		{telemetry.AttrTurnID, "turn-9"},
		{telemetry.AttrUserID, "u-ops"},
		{telemetry.AttrUserRole, "OPS"},
		{telemetry.AttrEngineModel, "test-model"},
	}
	for _, c := range checks {
		if got, ok := attrs[c.key]; !ok || got.AsString() != c.want {
			t.Errorf("%s = %v, want %s", c.key, got.Emit(), c.want)
		}
	}

	usage := []struct {
		key  string
		want int64
	}{
		{telemetry.AttrEngineTokensInput, 12},
		{telemetry.AttrEngineTokensOutput, 7},
		{telemetry.AttrEngineTokensTotal, 19},
	}
	for _, c := range usage {
		if got, ok := attrs[c.key]; !ok || got.AsInt64() != c.want {
			t.Errorf("%s = %v, want %d", c.key, got.Emit(), c.want)
		}
	}
}

func TestInstructionsNameVisibleTools(t *testing.T) {
	text := Instructions(identity.RoleFinance, []string{"view_cost_impact", "view_incident_details"})
	if !strings.Contains(text, "Finance Controller") {
		t.Error("instructions missing role display name")
	}
	if !strings.Contains(text, "view_cost_impact, view_incident_details") {
		t.Error("instructions missing visible tool list")
	}
}
