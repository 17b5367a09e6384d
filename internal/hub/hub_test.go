package hub

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/coreadhq/coread-backend/internal/room"
)

func TestHub_Create_Get_SamePointer(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, zaptest.NewLogger(t))
	reply := make(chan *room.Room, 1)

	h.Inbox() <- CreateRoom{ID: "doc-abc", Reply: reply}
	rm1 := <-reply

	h.Inbox() <- GetRoom{ID: "doc-abc", Reply: reply}
	rm2 := <-reply

	if rm1 == nil || rm2 == nil || rm1 != rm2 {
		t.Fatalf("expected same room pointer")
	}
}

func TestHub_GetUnknownIsNil(t *testing.T) {
	h := NewHub(context.Background(), zaptest.NewLogger(t))

	if rm := h.Room("nope"); rm != nil {
		t.Fatalf("expected nil room for unknown id, got %v", rm)
	}
}

func TestHub_EnsureCreatesOnce(t *testing.T) {
	h := NewHub(context.Background(), zaptest.NewLogger(t))
	reply := make(chan *room.Room, 1)

	h.Inbox() <- EnsureRoom{ID: "doc-xyz", Reply: reply}
	rm1 := <-reply
	h.Inbox() <- EnsureRoom{ID: "doc-xyz", Reply: reply}
	rm2 := <-reply

	if rm1 != rm2 {
		t.Fatalf("ensure should reuse the existing room")
	}
}
