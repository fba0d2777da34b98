package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPublishConsumeRequest(t *testing.T) {
	b := New()
	want := ChatRequest{SessionKey: "s1", RequestID: "r1", Message: "hello"}

	if err := b.PublishRequest(context.Background(), want); err != nil {
		t.Fatal(err)
	}
	got, ok := b.ConsumeRequest(context.Background())
	if !ok {
		t.Fatal("consume returned no request")
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestConsumeRequestCancellation(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := b.ConsumeRequest(ctx); ok {
		t.Error("consume succeeded on cancelled context")
	}
}

func TestBroadcastSequencing(t *testing.T) {
	b := New()

	var mu sync.Mutex
	var seqs []int64
	b.Subscribe("test", func(e Event) {
		mu.Lock()
		seqs = append(seqs, e.Seq)
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		b.Broadcast(Event{Kind: EventAnswerChunk, SessionKey: "s1"})
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seqs) != 5 {
		t.Fatalf("received %d events, want 5", len(seqs))
	}
	for i, s := range seqs {
		if s != int64(i+1) {
			t.Errorf("event %d has seq %d, want %d", i, s, i+1)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	delivered := 0
	b.Subscribe("c1", func(Event) { delivered++ })

	b.Broadcast(Event{Kind: EventStep})
	b.Unsubscribe("c1")
	b.Broadcast(Event{Kind: EventStep})

	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
}

func TestDedupeCache(t *testing.T) {
	d := NewDedupeCache(50*time.Millisecond, 100)

	if d.IsDuplicate("r1") {
		t.Error("first sighting flagged as duplicate")
	}
	if !d.IsDuplicate("r1") {
		t.Error("second sighting not flagged")
	}
	if d.IsDuplicate("r2") {
		t.Error("unrelated key flagged")
	}

	time.Sleep(60 * time.Millisecond)
	if d.IsDuplicate("r1") {
		t.Error("expired entry still flagged")
	}
}

func TestDedupeCacheEviction(t *testing.T) {
	d := NewDedupeCache(time.Hour, 3)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		d.IsDuplicate(k)
	}
	d.mu.Lock()
	n := len(d.entries)
	d.mu.Unlock()
	if n > 3 {
		t.Errorf("cache holds %d entries, max 3", n)
	}
}

func TestDebouncerMergesBurst(t *testing.T) {
	var mu sync.Mutex
	var flushed []ChatRequest
	d := NewRequestDebouncer(30*time.Millisecond, func(req ChatRequest) {
		mu.Lock()
		flushed = append(flushed, req)
		mu.Unlock()
	})

	d.Push(ChatRequest{SessionKey: "s1", RequestID: "r1", Message: "first"})
	d.Push(ChatRequest{SessionKey: "s1", RequestID: "r2", Message: "second"})
	d.Push(ChatRequest{SessionKey: "s1", RequestID: "r3", Message: "third"})

	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 1 {
		t.Fatalf("flushed %d requests, want 1 merged", len(flushed))
	}
	if flushed[0].Message != "first\nsecond\nthird" {
		t.Errorf("merged message = %q", flushed[0].Message)
	}
	if flushed[0].RequestID != "r3" {
		t.Errorf("merged request ID = %q, want newest r3", flushed[0].RequestID)
	}
}

func TestDebouncerSeparateSessions(t *testing.T) {
	var mu sync.Mutex
	var flushed []ChatRequest
	d := NewRequestDebouncer(20*time.Millisecond, func(req ChatRequest) {
		mu.Lock()
		flushed = append(flushed, req)
		mu.Unlock()
	})

	d.Push(ChatRequest{SessionKey: "s1", Message: "a"})
	d.Push(ChatRequest{SessionKey: "s2", Message: "b"})
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 2 {
		t.Fatalf("flushed %d requests, want 2", len(flushed))
	}
}

func TestDebouncerDisabled(t *testing.T) {
	count := 0
	d := NewRequestDebouncer(0, func(ChatRequest) { count++ })
	d.Push(ChatRequest{SessionKey: "s1", Message: "a"})
	d.Push(ChatRequest{SessionKey: "s1", Message: "b"})
	if count != 2 {
		t.Errorf("passthrough delivered %d, want 2", count)
	}
}

func TestDebouncerStopFlushes(t *testing.T) {
	var mu sync.Mutex
	var flushed []ChatRequest
	d := NewRequestDebouncer(time.Hour, func(req ChatRequest) {
		mu.Lock()
		flushed = append(flushed, req)
		mu.Unlock()
	})

	d.Push(ChatRequest{SessionKey: "s1", Message: "pending"})
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 1 {
		t.Fatalf("Stop flushed %d requests, want 1", len(flushed))
	}
}
