package events

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Mowd/claude-dashboard/internal/core"
)

func TestBus_Subscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()

	event := NewWorkflowCreatedEvent("wf-1", "test title")
	bus.Publish(event)

	select {
	case received := <-ch:
		if received.EventType() != TypeWorkflowCreated {
			t.Errorf("expected %s, got %s", TypeWorkflowCreated, received.EventType())
		}
		if received.WorkflowID() != "wf-1" {
			t.Errorf("expected wf-1, got %s", received.WorkflowID())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestBus_SubscribeByType(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	stepCh := bus.Subscribe(TypeStepStarted, TypeStepCompleted)
	allCh := bus.Subscribe()

	bus.Publish(NewWorkflowCreatedEvent("wf-1", "title"))
	bus.Publish(NewStepStartedEvent("wf-1", "step-1", core.RolePM))

	// allCh should receive both
	select {
	case <-allCh:
	case <-time.After(100 * time.Millisecond):
		t.Error("allCh should receive workflow event")
	}
	select {
	case <-allCh:
	case <-time.After(100 * time.Millisecond):
		t.Error("allCh should receive step event")
	}

	// stepCh should only receive the step event
	select {
	case received := <-stepCh:
		if received.EventType() != TypeStepStarted {
			t.Errorf("expected step:started, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("stepCh should receive step event")
	}
	select {
	case e := <-stepCh:
		t.Errorf("stepCh should not receive %s", e.EventType())
	default:
	}
}

func TestBus_SubscribeWorkflow(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	chA := bus.SubscribeWorkflow("wf-a")
	chAll := bus.Subscribe()

	bus.Publish(NewStepStartedEvent("wf-a", "step-1", core.RolePM))
	bus.Publish(NewStepStartedEvent("wf-b", "step-2", core.RolePM))

	time.Sleep(10 * time.Millisecond)

	select {
	case e := <-chA:
		if e.WorkflowID() != "wf-a" {
			t.Errorf("chA received wrong workflow: %s", e.WorkflowID())
		}
	default:
		t.Error("chA should have received an event")
	}
	select {
	case e := <-chA:
		t.Errorf("chA should not receive workflow %s events", e.WorkflowID())
	default:
	}

	count := 0
	for i := 0; i < 2; i++ {
		select {
		case <-chAll:
			count++
		default:
		}
	}
	if count != 2 {
		t.Errorf("chAll should receive 2 events, got %d", count)
	}
}

func TestBus_PriorityNeverDrops(t *testing.T) {
	bus := New(5) // Small buffer
	defer bus.Close()

	priorityCh := bus.SubscribePriority()

	// Saturate with many events
	for i := 0; i < 100; i++ {
		bus.Publish(NewStepStreamEvent("wf-1", "step-1", core.RolePM, "chunk"))
	}

	failedEvent := NewWorkflowFailedEvent("wf-1", errors.New("agent failed"))
	bus.PublishPriority(failedEvent)

	select {
	case received := <-priorityCh:
		if received.EventType() != TypeWorkflowFailed {
			t.Errorf("expected workflow:failed, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("priority event was dropped")
	}
}

func TestBus_RingBufferDropsOldest(t *testing.T) {
	bus := New(5)
	defer bus.Close()

	ch := bus.Subscribe()

	for i := 0; i < 10; i++ {
		bus.Publish(NewStepStreamEvent("wf-1", "step-1", core.RolePM, "chunk"))
	}

	if bus.DroppedCount() == 0 {
		t.Error("expected some events to be dropped")
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			goto done
		}
	}
done:

	if received == 0 {
		t.Error("should have received at least some events")
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := New(100)
	defer bus.Close()

	ch := bus.Subscribe()

	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				bus.Publish(NewStepStreamEvent("wf-1", "step-1", core.RolePM, "concurrent"))
			}
		}()
	}

	wg.Wait()

	received := 0
drainLoop:
	for {
		select {
		case <-ch:
			received++
		default:
			break drainLoop
		}
	}

	if received == 0 {
		t.Error("should have received some events")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	_, ok := <-ch
	if ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestBus_SubscribeOnClosedBus(t *testing.T) {
	bus := New(10)
	bus.Close()

	ch := bus.Subscribe()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("channel should be closed")
		}
	default:
		t.Error("channel from closed bus should be closed, not empty")
	}
}

func TestEventPayloadShapes(t *testing.T) {
	tokens := 42
	tests := []struct {
		name    string
		event   Event
		want    map[string]bool // keys that must be present
		exclude []string        // keys that must be absent
	}{
		{
			name:  "workflow created",
			event: NewWorkflowCreatedEvent("wf-1", "a title"),
			want:  map[string]bool{"workflowId": true, "title": true},
		},
		{
			name:  "step stream",
			event: NewStepStreamEvent("wf-1", "step-1", core.RoleRD, "hello"),
			want:  map[string]bool{"workflowId": true, "stepId": true, "role": true, "chunk": true},
		},
		{
			name:    "step completed without tokens",
			event:   NewStepCompletedEvent("wf-1", "step-1", core.RolePM, "out", 1200, nil, nil),
			want:    map[string]bool{"workflowId": true, "stepId": true, "role": true, "output": true, "durationMs": true},
			exclude: []string{"tokensIn", "tokensOut"},
		},
		{
			name:  "step completed with tokens",
			event: NewStepCompletedEvent("wf-1", "step-1", core.RolePM, "out", 1200, &tokens, &tokens),
			want:  map[string]bool{"tokensIn": true, "tokensOut": true},
		},
		{
			name:  "step retry",
			event: NewStepRetryEvent("wf-1", "step-1", core.RoleSec, 1, 2, "timed out"),
			want:  map[string]bool{"attempt": true, "maxRetries": true, "reason": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var m map[string]any
			if err := json.Unmarshal(raw, &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			for k := range tt.want {
				if _, ok := m[k]; !ok {
					t.Errorf("payload missing key %q: %s", k, raw)
				}
			}
			for _, k := range tt.exclude {
				if _, ok := m[k]; ok {
					t.Errorf("payload should not contain %q: %s", k, raw)
				}
			}
			if _, ok := m["type"]; ok {
				t.Errorf("event kind must not leak into payload: %s", raw)
			}
		})
	}
}
