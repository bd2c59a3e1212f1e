package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/sessiond/pkg/models"
)

func TestStream_NextDeliversInOrder(t *testing.T) {
	cancelled := false
	stream := newStream(func() { cancelled = true })

	go func() {
		ctx := context.Background()
		stream.push(ctx, &models.Message{Content: "a"})
		stream.push(ctx, &models.Message{Content: "b"})
		stream.finish()
	}()

	ctx := context.Background()
	var got []string
	for {
		msg, err := stream.Next(ctx)
		if errors.Is(err, ErrStreamDone) {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		got = append(got, msg.Content)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("messages = %v, want [a b]", got)
	}
	if cancelled {
		t.Error("a fully drained stream should not cancel the producer")
	}
}

func TestStream_FailSurfacesError(t *testing.T) {
	stream := newStream(func() {})
	wantErr := errors.New("backend gave up")

	go stream.fail(context.Background(), wantErr)

	if _, err := stream.Next(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("Next() error = %v, want %v", err, wantErr)
	}
	if _, err := stream.Next(context.Background()); !errors.Is(err, ErrStreamDone) {
		t.Errorf("Next() after failure = %v, want ErrStreamDone", err)
	}
}

func TestStream_CloseCancelsProducer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := newStream(cancel)

	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	select {
	case <-ctx.Done():
	default:
		t.Error("Close() should cancel the producer context")
	}
	if _, err := stream.Next(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Next() = %v, want ErrStreamClosed", err)
	}
	if ok := stream.push(ctx, &models.Message{Content: "late"}); ok {
		t.Error("push() after Close should report abandonment")
	}
}

func TestStream_NextHonorsContext(t *testing.T) {
	stream := newStream(func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := stream.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next() error = %v, want deadline exceeded", err)
	}
}

func TestStream_PushHonorsProducerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := newStream(cancel)

	// Fill the single-element buffer, then cancel while the second push blocks.
	if !stream.push(ctx, &models.Message{Content: "buffered"}) {
		t.Fatal("first push should succeed")
	}
	done := make(chan bool)
	go func() {
		done <- stream.push(ctx, &models.Message{Content: "blocked"})
	}()
	cancel()
	if ok := <-done; ok {
		t.Error("push() should fail once the producer context is cancelled")
	}
}
