package core

import "errors"

// PulseBackend emits one hardware pulse per Fire call. Fire runs in
// interrupt context and must not block.
type PulseBackend interface {
	Fire()
}

// SyncPulse paces a diagnostic output pulse off the timer list. With a
// logic analyzer on a spare pin the host can measure dispatch latency
// and jitter end to end.
type SyncPulse struct {
	timers  *TimerList
	backend PulseBackend
	done    func(count uint32)

	// Fields below are shared with the timer handler and accessed
	// with interrupts masked.
	timer     Timer
	interval  uint32
	remaining uint32
	forever   bool
	active    bool
	completed bool
	fired     uint32
}

// NewSyncPulse wires a pulse generator to the timer list and backend.
// Completion is reported from the background task loop, never from
// interrupt context.
func NewSyncPulse(timers *TimerList, backend PulseBackend) *SyncPulse {
	p := &SyncPulse{timers: timers, backend: backend}
	p.timer.Handler = p.event
	RegisterTask(p.task)
	return p
}

// SetDoneHandler installs the completion callback. It receives the
// number of pulses emitted.
func (p *SyncPulse) SetDoneHandler(fn func(count uint32)) {
	p.done = fn
}

// Start begins pulsing every interval ticks. A count of zero pulses
// until stopped. Restarting an active generator rearms it. Task
// context.
func (p *SyncPulse) Start(interval, count uint32) error {
	if interval == 0 {
		return errors.New("sync pulse interval must be positive")
	}
	state := irqSave()
	if p.active {
		p.timers.Remove(&p.timer)
	}
	p.interval = interval
	p.remaining = count
	p.forever = count == 0
	p.fired = 0
	p.active = true
	p.completed = false
	p.timer.WakeTime = ReadClock() + interval
	p.timers.Schedule(&p.timer)
	irqRestore(state)
	return nil
}

// Stop halts pulsing and reports the pulses emitted so far. Task
// context.
func (p *SyncPulse) Stop() {
	state := irqSave()
	if p.active {
		p.timers.Remove(&p.timer)
		p.active = false
		p.completed = true
		WakeTasks()
	}
	irqRestore(state)
}

// Fired returns the pulses emitted by the current or last run.
func (p *SyncPulse) Fired() uint32 {
	state := irqSave()
	n := p.fired
	irqRestore(state)
	return n
}

// event emits one pulse. Interrupt context.
func (p *SyncPulse) event(t *Timer) uint8 {
	p.backend.Fire()
	p.fired++
	if !p.forever {
		p.remaining--
		if p.remaining == 0 {
			p.active = false
			p.completed = true
			WakeTasks()
			return SF_DONE
		}
	}
	t.WakeTime += p.interval
	return SF_RESCHEDULE
}

// task reports completion from task context
func (p *SyncPulse) task() {
	state := irqSave()
	completed := p.completed
	p.completed = false
	count := p.fired
	irqRestore(state)
	if completed && p.done != nil {
		p.done(count)
	}
}
