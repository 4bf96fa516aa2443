package collab

import (
	"testing"
	"time"
)

func TestInsertApply(t *testing.T) {
	op := NewInsert("alice", 1, "X", 0, time.Now())
	got, err := op.Apply("AB")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "AXB" {
		t.Errorf("got %q, want %q", got, "AXB")
	}
	if len(got) != len("AB")+len("X") {
		t.Errorf("length invariant violated: len(got)=%d", len(got))
	}
}

func TestDeleteApply(t *testing.T) {
	op := NewDelete("alice", 1, 3, 0, time.Now())
	got, err := op.Apply("ABCDE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "AE" {
		t.Errorf("got %q, want %q", got, "AE")
	}
	if len(got) != len("ABCDE")-3 {
		t.Errorf("length invariant violated")
	}
}

func TestReplaceApply(t *testing.T) {
	op := NewReplace("alice", 0, 5, "Howdy", 0, time.Now())
	got, err := op.Apply("Hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Howdy world" {
		t.Errorf("got %q, want %q", got, "Howdy world")
	}
	if len(got) != len("Hello world")-(5-0)+len("Howdy") {
		t.Errorf("length invariant violated")
	}
}

func TestApplyOutOfBoundsFails(t *testing.T) {
	insertPastEnd := NewInsert("alice", 10, "X", 0, time.Now())
	if _, err := insertPastEnd.Apply("AB"); err != ErrBadOperation {
		t.Errorf("expected ErrBadOperation, got %v", err)
	}

	deleteOutOfRange := NewDelete("alice", 1, 10, 0, time.Now())
	if _, err := deleteOutOfRange.Apply("AB"); err != ErrBadOperation {
		t.Errorf("expected ErrBadOperation, got %v", err)
	}
}

func TestWellFormed(t *testing.T) {
	cases := []struct {
		name string
		op   Operation
		want bool
	}{
		{"valid insert", NewInsert("a", 0, "x", 0, time.Now()), true},
		{"empty insert content", Operation{Kind: KindInsert, Position: 0, Content: ""}, false},
		{"negative position", Operation{Kind: KindInsert, Position: -1, Content: "x"}, false},
		{"valid delete", NewDelete("a", 0, 1, 0, time.Now()), true},
		{"zero length delete", Operation{Kind: KindDelete, Position: 0, Length: 0}, false},
		{"valid replace", NewReplace("a", 0, 2, "x", 0, time.Now()), true},
		{"replace end before start", Operation{Kind: KindReplace, SelectionStart: 5, SelectionEnd: 2}, false},
		{"replace empty both", Operation{Kind: KindReplace, SelectionStart: 2, SelectionEnd: 2, Content: ""}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.op.WellFormed(); got != tc.want {
				t.Errorf("WellFormed() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestReduceReplace(t *testing.T) {
	insertLike := Operation{Kind: KindReplace, SelectionStart: 3, SelectionEnd: 3, Content: "hi"}
	reduced := insertLike.Reduce()
	if reduced.Kind != KindInsert || reduced.Position != 3 || reduced.Content != "hi" {
		t.Errorf("expected reduction to Insert(3, hi), got %+v", reduced)
	}

	deleteLike := Operation{Kind: KindReplace, SelectionStart: 2, SelectionEnd: 5, Content: ""}
	reduced = deleteLike.Reduce()
	if reduced.Kind != KindDelete || reduced.Position != 2 || reduced.Length != 3 {
		t.Errorf("expected reduction to Delete(2, 3), got %+v", reduced)
	}
}
