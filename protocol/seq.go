package protocol

// Sequence numbers are 16-bit and wrap. Ordering uses serial arithmetic:
// a is newer than b when the signed half-range distance from b to a is
// positive, so 2 is newer than 65534 across the wrap boundary.

// SeqNewer reports whether sequence a is newer than sequence b.
func SeqNewer(a, b uint16) bool {
	return a != b && int16(a-b) > 0
}

// SeqDiff returns the signed distance from b to a. Positive means a is
// newer; the magnitude is the number of sequence steps between them.
func SeqDiff(a, b uint16) int {
	return int(int16(a - b))
}

// SeqNext returns the sequence after s, skipping zero. Zero is reserved as
// the "nothing yet" sentinel in acknowledgments and is never assigned to a
// frame, so sender and receiver must advance with the same rule.
func SeqNext(s uint16) uint16 {
	s++
	if s == 0 {
		s = 1
	}
	return s
}
