package sabr

// SequenceValidator enforces strictly sequential segment numbers per format.
// The first segment seen for a format establishes its baseline.
type SequenceValidator struct {
	last map[FormatID]int64
}

// NewSequenceValidator returns a validator with an empty table.
func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{last: make(map[FormatID]int64)}
}

// Validate accepts seq for format if it is exactly one past the last
// accepted number. On mismatch the table is left untouched.
func (v *SequenceValidator) Validate(format FormatID, seq int64) error {
	last, ok := v.last[format]
	if ok && seq != last+1 {
		return &MediaSegmentMismatchError{Format: format, Expected: last + 1, Received: seq}
	}
	v.last[format] = seq
	return nil
}

// Last returns the last accepted sequence number for format.
func (v *SequenceValidator) Last(format FormatID) (int64, bool) {
	seq, ok := v.last[format]
	return seq, ok
}

// Expected returns the next sequence number Validate will accept for format.
// ok is false when the format has no baseline yet.
func (v *SequenceValidator) Expected(format FormatID) (int64, bool) {
	seq, ok := v.last[format]
	return seq + 1, ok
}

// Clear drops the entries for formats, or every entry when none are given.
// Sequence resets after a seek or reload must go through Clear.
func (v *SequenceValidator) Clear(formats ...FormatID) {
	if len(formats) == 0 {
		clear(v.last)
		return
	}
	for _, f := range formats {
		delete(v.last, f)
	}
}

// Len returns the number of formats with a baseline.
func (v *SequenceValidator) Len() int { return len(v.last) }
