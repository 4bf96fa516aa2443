package collab

// Transform rewrites op1 into the form it must take to be applied after op2
// has already been applied, so that applying op2 then Transform(op1, op2)
// converges with applying op1 then the equivalent transform of op2. Transform
// is a pure function: no I/O, no hidden state, safe to call from anywhere.
//
// ok is false when op1 cannot survive the transform (e.g. a Delete whose
// entire range was already deleted by op2); callers must drop such ops.
func Transform(op1, op2 Operation) (out Operation, ok bool) {
	op1 = op1.Reduce()
	op2 = op2.Reduce()

	switch {
	case op1.Kind == KindInsert && op2.Kind == KindInsert:
		out = transformInsertInsert(op1, op2)
	case op1.Kind == KindInsert && op2.Kind == KindDelete:
		out = transformInsertDelete(op1, op2)
	case op1.Kind == KindDelete && op2.Kind == KindInsert:
		out = transformDeleteInsert(op1, op2)
	case op1.Kind == KindDelete && op2.Kind == KindDelete:
		var valid bool
		out, valid = transformDeleteDelete(op1, op2)
		if !valid {
			return Operation{}, false
		}
	case op1.Kind == KindReplace || op2.Kind == KindReplace:
		var valid bool
		out, valid = transformReplace(op1, op2)
		if !valid {
			return Operation{}, false
		}
	default:
		out = op1
	}

	return out, postTransformValid(out)
}

// transformInsertInsert: ties are broken by op2's server sequence winning,
// so op1 (the later-applied one in this call) shifts right on a tie.
func transformInsertInsert(op1, op2 Operation) Operation {
	out := op1
	if op2.Position <= op1.Position {
		out.Position += len([]rune(op2.Content))
	}
	return out
}

func transformInsertDelete(op1, op2 Operation) Operation {
	out := op1
	delStart, delEnd := op2.rangeOf()

	switch {
	case delEnd <= op1.Position:
		out.Position -= op2.Length
	case delStart <= op1.Position && op1.Position < delEnd:
		out.Position = delStart
	}
	return out
}

func transformDeleteInsert(op1, op2 Operation) Operation {
	out := op1
	insLen := len([]rune(op2.Content))

	if op2.Position <= op1.Position {
		out.Position += insLen
		return out
	}
	if op2.Position > op1.Position && op2.Position < op1.Position+op1.Length {
		out.Length += insLen
	}
	return out
}

// transformDeleteDelete shrinks op1's range to exclude whatever op2 already
// removed. If nothing remains, ok is false and the caller drops op1.
func transformDeleteDelete(op1, op2 Operation) (Operation, bool) {
	out := op1
	aStart, aEnd := op1.rangeOf()
	bStart, bEnd := op2.rangeOf()

	overlapStart := max(aStart, bStart)
	overlapEnd := min(aEnd, bEnd)
	overlap := 0
	if overlapEnd > overlapStart {
		overlap = overlapEnd - overlapStart
	}

	newStart := aStart
	if bStart <= aStart {
		newStart = aStart - min(op2.Length, aStart-bStart)
	}

	newLength := op1.Length - overlap
	if newLength <= 0 {
		return Operation{}, false
	}

	out.Position = newStart
	out.Length = newLength
	return out, true
}

// transformReplace handles any pair where at least one side is a Replace, by
// decomposing into the Delete/Insert equivalent, except for the
// Replace-vs-Replace overlap case which uses server-sequence priority
// per §4.2: the op with the lower ServerSequenceNumber wins and the other
// degrades to an Insert placed after the winner's new content.
func transformReplace(op1, op2 Operation) (Operation, bool) {
	if op1.Kind == KindReplace && op2.Kind == KindReplace {
		aStart, aEnd := op1.rangeOf()
		bStart, bEnd := op2.rangeOf()
		if rangesOverlap(aStart, aEnd, bStart, bEnd) {
			// op2 already applied; if op2 is the winner (lower seq, or the
			// one being replayed here as history), op1 degrades to an
			// Insert placed right after op2's new content landed.
			if op2.ServerSequenceNumber != 0 && op1.ServerSequenceNumber != 0 &&
				op1.ServerSequenceNumber < op2.ServerSequenceNumber {
				// op1 has the lower sequence, so it is not degraded: its
				// selection collapses to op2's start, and its content is
				// inserted there, ahead of op2's new content.
				out := op1
				out.SelectionStart = bStart
				out.SelectionEnd = bStart
				return out, true
			}
			insertPos := bStart + len([]rune(op2.Content))
			degraded := Operation{
				OperationID:            op1.OperationID,
				Kind:                   KindInsert,
				Position:               insertPos,
				Content:                op1.Content,
				UserID:                 op1.UserID,
				ClientTimestamp:        op1.ClientTimestamp,
				ExpectedSequenceNumber: op1.ExpectedSequenceNumber,
				RetryCount:             op1.RetryCount,
			}
			return degraded, degraded.WellFormed()
		}
		// Non-overlapping replaces behave like independent delete+insert pairs.
		out := op1
		shift := len([]rune(op2.Content)) - (bEnd - bStart)
		if bEnd <= aStart {
			out.SelectionStart += shift
			out.SelectionEnd += shift
		}
		return maybeReduceReplace(out), true
	}

	// One side is a Replace; treat it as its Delete+Insert decomposition and
	// transform the non-Replace op against both parts in sequence.
	if op1.Kind == KindReplace {
		asDelete := Operation{Kind: KindDelete, Position: op1.SelectionStart, Length: op1.SelectionEnd - op1.SelectionStart}
		asInsert := Operation{Kind: KindInsert, Position: op1.SelectionStart, Content: op1.Content}

		switch op2.Kind {
		case KindInsert:
			shifted := transformDeleteInsert(asDelete, op2)
			out := op1
			out.SelectionStart = shifted.Position
			out.SelectionEnd = shifted.Position + shifted.Length
			return maybeReduceReplace(out), true
		case KindDelete:
			shifted, valid := transformDeleteDelete(asDelete, op2)
			if !valid {
				out := op1
				out.SelectionStart = asInsert.Position
				out.SelectionEnd = asInsert.Position
				return maybeReduceReplace(out), true
			}
			out := op1
			out.SelectionStart = shifted.Position
			out.SelectionEnd = shifted.Position + shifted.Length
			return maybeReduceReplace(out), true
		}
		return op1, true
	}

	// op2 is the Replace; op1 is Insert or Delete transforming across op2's
	// combined delete-then-insert effect.
	asDelete := Operation{Kind: KindDelete, Position: op2.SelectionStart, Length: op2.SelectionEnd - op2.SelectionStart}
	asInsert := Operation{Kind: KindInsert, Position: op2.SelectionStart, Content: op2.Content}

	switch op1.Kind {
	case KindInsert:
		afterDelete := transformInsertDelete(op1, asDelete)
		afterInsert := transformInsertInsert(afterDelete, asInsert)
		return afterInsert, true
	case KindDelete:
		afterDelete, valid := transformDeleteDelete(op1, asDelete)
		if !valid {
			return Operation{}, false
		}
		afterInsert := transformDeleteInsert(afterDelete, asInsert)
		return afterInsert, true
	}
	return op1, true
}

func maybeReduceReplace(op Operation) Operation {
	if op.Kind != KindReplace {
		return op
	}
	return op.Reduce()
}

func rangesOverlap(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// postTransformValid implements the §4.2 post-transform validity check.
func postTransformValid(op Operation) bool {
	switch op.Kind {
	case KindInsert:
		return op.Position >= 0 && op.Content != ""
	case KindDelete:
		return op.Position >= 0 && op.Length > 0
	case KindReplace:
		return op.SelectionStart >= 0 && op.SelectionEnd >= op.SelectionStart
	}
	return false
}

// TransformAgainstHistory sequentially transforms op against every entry in
// history in ascending server-sequence order. It is the coordinator's
// drain-step 2: history must already be filtered to entries with
// ServerSequenceNumber > op.ExpectedSequenceNumber.
func TransformAgainstHistory(op Operation, history []Operation) (Operation, bool) {
	current := op
	for _, h := range history {
		next, ok := Transform(current, h)
		if !ok {
			return Operation{}, false
		}
		current = next
	}
	return current, true
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
