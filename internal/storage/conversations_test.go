package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/traduki/traduki/internal/conversation"
)

func testConversation(id string) conversation.Conversation {
	now := time.Now().UTC().Truncate(time.Second)
	return conversation.Conversation{
		ID:             id,
		OriginalText:   "hello world",
		SourceLanguage: "en",
		TargetLanguage: "es",
		UserID:         "u1",
		Status:         conversation.StatusAwaitingFeedback,
		Turns: []conversation.Turn{
			{Role: conversation.RoleAssistant, Content: "hola mundo", CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestConversationRoundTrip(t *testing.T) {
	convs := newTestStore(t).Conversations()

	conv := testConversation("c1")
	if err := convs.Put(conv); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := convs.Get("c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
	if got.OriginalText != conv.OriginalText || got.Status != conv.Status {
		t.Errorf("got %+v", got)
	}
	if len(got.Turns) != 1 || got.Turns[0].Content != "hola mundo" {
		t.Errorf("Turns = %+v", got.Turns)
	}
}

func TestConversationGetUnknown(t *testing.T) {
	convs := newTestStore(t).Conversations()

	if _, err := convs.Get("missing"); !errors.Is(err, conversation.ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestConversationDuplicateInsert(t *testing.T) {
	convs := newTestStore(t).Conversations()

	conv := testConversation("c1")
	if err := convs.Put(conv); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	// Version 0 on an existing id means a second creator lost the race.
	if err := convs.Put(conv); !errors.Is(err, conversation.ErrVersionConflict) {
		t.Errorf("duplicate Put = %v, want ErrVersionConflict", err)
	}
}

func TestConversationVersionedUpdate(t *testing.T) {
	convs := newTestStore(t).Conversations()

	if err := convs.Put(testConversation("c1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	conv, err := convs.Get("c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	conv.AppendTurn(conversation.RoleHuman, "more formal please")
	conv.Iterations++
	if err := convs.Put(conv); err != nil {
		t.Fatalf("versioned Put: %v", err)
	}

	got, err := convs.Get("c1")
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
	if len(got.Turns) != 2 || got.Iterations != 1 {
		t.Errorf("got %d turns, %d iterations", len(got.Turns), got.Iterations)
	}

	// Writing the stale copy again must fail: its version was consumed.
	conv.AppendTurn(conversation.RoleAssistant, "por favor")
	if err := convs.Put(conv); !errors.Is(err, conversation.ErrVersionConflict) {
		t.Errorf("stale Put = %v, want ErrVersionConflict", err)
	}
}

func TestConversationUpdateMissing(t *testing.T) {
	convs := newTestStore(t).Conversations()

	conv := testConversation("c1")
	conv.Version = 3
	if err := convs.Put(conv); !errors.Is(err, conversation.ErrNotFound) {
		t.Errorf("Put on missing id = %v, want ErrNotFound", err)
	}
}

func TestConversationDelete(t *testing.T) {
	convs := newTestStore(t).Conversations()

	if err := convs.Put(testConversation("c1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := convs.Delete("c1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := convs.Delete("c1"); !errors.Is(err, conversation.ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}
