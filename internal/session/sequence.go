package session

import "voxelwire.io/internal/protocol"

// SequenceTracker checks inbound client sequence numbers, remembers how far
// processing got, and stamps outbound messages with a monotonic tick.
type SequenceTracker struct {
	last     uint64
	seen     bool
	handled  uint64
	reported uint64

	outTick uint64
}

// Accept admits seq if it is strictly greater than every sequence seen so far.
func (t *SequenceTracker) Accept(seq uint64) error {
	if t.seen && seq <= t.last {
		return protocolErr(protocol.ErrProtoViolation, "sequence %d not after %d", seq, t.last)
	}
	t.last = seq
	t.seen = true
	return nil
}

// Handled marks every message up to seq as fully processed.
func (t *SequenceTracker) Handled(seq uint64) {
	if seq > t.handled {
		t.handled = seq
	}
}

// TakeReport returns the handled sequence if it advanced since the last report.
func (t *SequenceTracker) TakeReport() (uint64, bool) {
	if t.handled == t.reported || !t.seen {
		return 0, false
	}
	t.reported = t.handled
	return t.handled, true
}

// NextTick returns the tick for the next outbound message.
func (t *SequenceTracker) NextTick() uint64 {
	t.outTick++
	return t.outTick
}

func (t *SequenceTracker) LastSequence() uint64 { return t.last }
