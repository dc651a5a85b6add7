package core

// TraceEvent captures one dispatch-path event for post-mortem review.
type TraceEvent struct {
	Kind  uint8
	Clock uint32
	Value uint32
}

// Event kind codes
const (
	EvtDeferForced = 1 // starvation guard forced a pause
	EvtPastFault   = 2 // deadline past the fault tolerance
	EvtIdleSleep   = 3 // idle task slept the processor
	EvtWindowReset = 4 // shutdown reset the priority window
)

// traceRingSize keeps the last events without allocating in interrupt
// context.
const traceRingSize = 32

var (
	traceRing [traceRingSize]TraceEvent
	traceHead uint8
)

// noteTrace records an event. Callers hold interrupts masked, so the
// ring needs no further locking.
func noteTrace(kind uint8, clock, value uint32) {
	idx := traceHead
	traceRing[idx] = TraceEvent{Kind: kind, Clock: clock, Value: value}
	traceHead = (idx + 1) % traceRingSize
}

// TraceSnapshot copies the recorded events oldest first. Task context.
func TraceSnapshot() []TraceEvent {
	state := irqSave()
	head := traceHead
	ring := traceRing
	irqRestore(state)

	out := make([]TraceEvent, 0, traceRingSize)
	for i := uint8(0); i < traceRingSize; i++ {
		evt := ring[(head+i)%traceRingSize]
		if evt.Kind == 0 {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// TraceReset clears the ring. Task context.
func TraceReset() {
	state := irqSave()
	traceRing = [traceRingSize]TraceEvent{}
	traceHead = 0
	irqRestore(state)
}
