package queue

import (
	"context"
	"errors"
	"testing"
)

func TestMuxRoutesByKind(t *testing.T) {
	t.Parallel()

	mux := NewMux()
	var handledKind string
	mux.RegisterFunc("import.start", func(ctx context.Context, task DispatchedTask) error {
		handledKind = task.Meta.Kind
		return nil
	})
	mux.RegisterFunc("import.load", func(ctx context.Context, task DispatchedTask) error {
		t.Fatal("wrong handler called")
		return nil
	})

	err := mux.Handle(context.Background(), DispatchedTask{Meta: Meta{Kind: "import.start"}})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if handledKind != "import.start" {
		t.Fatalf("expected import.start, got %q", handledKind)
	}
}

func TestMuxUnknownKind(t *testing.T) {
	t.Parallel()

	mux := NewMux()
	err := mux.Handle(context.Background(), DispatchedTask{Meta: Meta{Kind: "nope"}})
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestMuxDuplicateRegistrationPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	mux := NewMux()
	mux.RegisterFunc("dup", func(ctx context.Context, task DispatchedTask) error { return nil })
	mux.RegisterFunc("dup", func(ctx context.Context, task DispatchedTask) error { return nil })
}
