package transport

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueuePublishConsume(t *testing.T) {
	queue := NewMemoryQueue(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = queue.Consume(ctx, 2, func(_ context.Context, event Event) error {
			mu.Lock()
			seen = append(seen, event.UserID)
			mu.Unlock()
			return nil
		})
	}()

	for _, user := range []string{"u1", "u2", "u3"} {
		if err := queue.Publish(ctx, NewTextEvent(user, "hi")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		count := len(seen)
		mu.Unlock()
		if count == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %d", count)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestMemoryQueueRejectsPublishAfterClose(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := queue.Publish(context.Background(), NewTextEvent("u1", "hi")); err == nil {
		t.Fatalf("expected publish after close to fail")
	}
}

func TestNewCommandEventNormalizesName(t *testing.T) {
	event := NewCommandEvent("u1", " /Buy ", " usdc ")
	if event.Command != "buy" {
		t.Fatalf("expected normalized command, got %q", event.Command)
	}
	if event.Text != "usdc" {
		t.Fatalf("expected trimmed args, got %q", event.Text)
	}
	if event.ID == "" {
		t.Fatalf("event id must be assigned")
	}
	if event.Kind != EventCommand {
		t.Fatalf("unexpected kind %s", event.Kind)
	}
}

func TestConfirmButtonsLayout(t *testing.T) {
	opts := ConfirmButtons()
	if opts == nil || len(opts.Buttons) != 1 || len(opts.Buttons[0]) != 2 {
		t.Fatalf("expected one row with two buttons, got %+v", opts)
	}
	yes := opts.Buttons[0][0].Callback
	no := opts.Buttons[0][1].Callback
	if yes.Kind != CallbackConfirm || !yes.Approve {
		t.Fatalf("unexpected yes callback %+v", yes)
	}
	if no.Kind != CallbackConfirm || no.Approve {
		t.Fatalf("unexpected no callback %+v", no)
	}
}
