package collab

import (
	"time"

	"github.com/otwiki/collab/pkg/idgen"
)

// Kind discriminates the three operation variants. No subclass hierarchy is
// needed — Operation is a flat struct and callers switch on Kind.
type Kind uint8

const (
	KindInsert Kind = iota
	KindDelete
	KindReplace
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindDelete:
		return "delete"
	case KindReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Operation is an immutable positional edit to a session's content. Only the
// fields relevant to Kind are populated; the rest are zero.
//
// Insert uses Position/Content.
// Delete uses Position/Length and optionally captures DeletedContent.
// Replace uses SelectionStart/SelectionEnd/Content and optionally captures
// OriginalContent.
type Operation struct {
	OperationID string
	Kind        Kind

	Position       int // Insert, Delete
	Length         int // Delete
	SelectionStart int // Replace
	SelectionEnd   int // Replace
	Content        string // Insert.content, Replace.newContent

	DeletedContent  string // Delete, optional capture
	OriginalContent string // Replace, optional capture

	UserID                 string
	ClientTimestamp        time.Time
	ExpectedSequenceNumber int64
	ServerSequenceNumber   int64 // 0 until assigned
	ServerTimestamp        time.Time
	RetryCount             int
}

// NewInsert constructs a well-formed-by-construction Insert operation.
func NewInsert(userID string, position int, content string, expectedSeq int64, clientTS time.Time) Operation {
	return Operation{
		OperationID:            idgen.New().Hex(),
		Kind:                   KindInsert,
		Position:               position,
		Content:                content,
		UserID:                 userID,
		ExpectedSequenceNumber: expectedSeq,
		ClientTimestamp:        clientTS,
	}
}

// NewDelete constructs a Delete operation.
func NewDelete(userID string, position, length int, expectedSeq int64, clientTS time.Time) Operation {
	return Operation{
		OperationID:            idgen.New().Hex(),
		Kind:                   KindDelete,
		Position:               position,
		Length:                 length,
		UserID:                 userID,
		ExpectedSequenceNumber: expectedSeq,
		ClientTimestamp:        clientTS,
	}
}

// NewReplace constructs a Replace operation over [selectionStart, selectionEnd).
func NewReplace(userID string, selectionStart, selectionEnd int, newContent string, expectedSeq int64, clientTS time.Time) Operation {
	return Operation{
		OperationID:            idgen.New().Hex(),
		Kind:                   KindReplace,
		SelectionStart:         selectionStart,
		SelectionEnd:           selectionEnd,
		Content:                newContent,
		UserID:                 userID,
		ExpectedSequenceNumber: expectedSeq,
		ClientTimestamp:        clientTS,
	}
}

// WellFormed reports whether op's bounds are internally consistent,
// independent of any particular content. It does not check applicability.
func (op Operation) WellFormed() bool {
	switch op.Kind {
	case KindInsert:
		return op.Position >= 0 && op.Content != ""
	case KindDelete:
		return op.Position >= 0 && op.Length > 0
	case KindReplace:
		if op.SelectionStart < 0 || op.SelectionEnd < op.SelectionStart {
			return false
		}
		return op.SelectionEnd > op.SelectionStart || op.Content != ""
	default:
		return false
	}
}

// CanApplyTo reports whether op's referenced positions lie within content.
func (op Operation) CanApplyTo(content string) bool {
	n := len([]rune(content))
	switch op.Kind {
	case KindInsert:
		return op.Position >= 0 && op.Position <= n
	case KindDelete:
		end := op.Position + op.Length
		return op.Position >= 0 && end >= op.Position && end <= n
	case KindReplace:
		return op.SelectionStart >= 0 && op.SelectionEnd >= op.SelectionStart && op.SelectionEnd <= n
	default:
		return false
	}
}

// Apply returns the result of applying op to content. Apply is total over
// applicable, well-formed operations; it never partially applies.
func (op Operation) Apply(content string) (string, error) {
	if !op.WellFormed() || !op.CanApplyTo(content) {
		return "", ErrBadOperation
	}

	runes := []rune(content)

	switch op.Kind {
	case KindInsert:
		out := make([]rune, 0, len(runes)+len([]rune(op.Content)))
		out = append(out, runes[:op.Position]...)
		out = append(out, []rune(op.Content)...)
		out = append(out, runes[op.Position:]...)
		return string(out), nil

	case KindDelete:
		out := make([]rune, 0, len(runes)-op.Length)
		out = append(out, runes[:op.Position]...)
		out = append(out, runes[op.Position+op.Length:]...)
		return string(out), nil

	case KindReplace:
		out := make([]rune, 0, len(runes)-(op.SelectionEnd-op.SelectionStart)+len([]rune(op.Content)))
		out = append(out, runes[:op.SelectionStart]...)
		out = append(out, []rune(op.Content)...)
		out = append(out, runes[op.SelectionEnd:]...)
		return string(out), nil
	}

	return "", ErrBadOperation
}

// Reduce collapses degenerate Replace operations per §4.1: an empty
// selection with non-empty newContent is really an Insert; a non-empty
// selection with empty newContent is really a Delete.
func (op Operation) Reduce() Operation {
	if op.Kind != KindReplace {
		return op
	}
	if op.SelectionStart == op.SelectionEnd && op.Content != "" {
		reduced := op
		reduced.Kind = KindInsert
		reduced.Position = op.SelectionStart
		return reduced
	}
	if op.SelectionStart != op.SelectionEnd && op.Content == "" {
		reduced := op
		reduced.Kind = KindDelete
		reduced.Position = op.SelectionStart
		reduced.Length = op.SelectionEnd - op.SelectionStart
		return reduced
	}
	return op
}

// rangeOf returns the half-open [start, end) a Delete or Replace spans, and
// the single point an Insert targets as [pos, pos).
func (op Operation) rangeOf() (start, end int) {
	switch op.Kind {
	case KindInsert:
		return op.Position, op.Position
	case KindDelete:
		return op.Position, op.Position + op.Length
	case KindReplace:
		return op.SelectionStart, op.SelectionEnd
	}
	return 0, 0
}
