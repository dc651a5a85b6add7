package core

// Board is the hardware surface the dispatcher runs against: a free
// running clock, interrupt masking and a low power wait.
type Board interface {
	// ReadTime returns the current hardware clock. Safe to call with
	// interrupts masked or unmasked.
	ReadTime() uint32
	// MaskIRQ disables interrupt delivery.
	MaskIRQ()
	// UnmaskIRQ reenables interrupt delivery.
	UnmaskIRQ()
	// WaitForIRQ sleeps the processor until an interrupt is taken.
	// Called with interrupts masked; returns with interrupts masked.
	WaitForIRQ()
}

// TimerQueue is the software timer list the dispatcher drains. Both
// methods are called with interrupts masked.
type TimerQueue interface {
	// DispatchDue runs the earliest timer and returns the new earliest
	// deadline.
	DispatchDue() uint32
	// NextDeadline returns the earliest pending deadline without
	// dispatching.
	NextDeadline() uint32
}

// Config holds the dispatch tuning windows in clock ticks. The values
// trade dispatch latency against starving mainline tasks and can be
// overridden per target.
type Config struct {
	// MinTryTicks is the smallest lead time worth a hardware
	// reprogram. Deadlines closer than this are spin waited.
	MinTryTicks uint32
	// RepeatTicks is the priority window granted after a forced defer.
	RepeatTicks uint32
	// DeferRepeatTicks is how far ahead a forced defer reschedules.
	DeferRepeatTicks uint32
	// IdleRepeatTicks is the priority window granted by the idle task
	// and the shutdown hook.
	IdleRepeatTicks uint32
	// PastTicks is how late a deadline may be before it is treated as
	// a scheduling fault.
	PastTicks uint32
}

// DefaultConfig returns the stock tuning windows.
func DefaultConfig() Config {
	return Config{
		MinTryTicks:      TimerFromUS(1),
		RepeatTicks:      TimerFromUS(100),
		DeferRepeatTicks: TimerFromUS(5),
		IdleRepeatTicks:  TimerFromUS(500),
		PastTicks:        TimerFromUS(1000),
	}
}

// FaultTimerPast is reported when a deadline is found more than
// Config.PastTicks behind the clock.
const FaultTimerPast = "Rescheduled timer in the past"

// Dispatcher drives software timers from the hardware timer interrupt.
// It owns the shared priority window and decides, per interrupt,
// whether to hand the next deadline back to hardware, spin for an
// imminent deadline, or defer so mainline tasks can run.
type Dispatcher struct {
	board Board
	queue TimerQueue
	cfg   Config

	fatal     func(reason string)
	noteSleep func(ticks uint32)

	// repeatUntil ends the current priority window. Shared between
	// interrupt and task context; accessed with interrupts masked.
	repeatUntil uint32
	// lastTimer is the deadline seen by the previous idle pass. Owned
	// by the idle task.
	lastTimer uint32
}

// NewDispatcher wires a dispatcher to its board and timer queue. The
// fault handler defaults to panic and the sleep recorder to a no-op.
func NewDispatcher(board Board, queue TimerQueue, cfg Config) *Dispatcher {
	return &Dispatcher{
		board:     board,
		queue:     queue,
		cfg:       cfg,
		fatal:     func(reason string) { panic(reason) },
		noteSleep: func(ticks uint32) {},
	}
}

// SetFaultHandler installs the unrecoverable error sink. The handler
// must halt the system and not return.
func (d *Dispatcher) SetFaultHandler(fn func(reason string)) {
	d.fatal = fn
}

// SetSleepRecorder installs the sink fed with idle sleep durations.
func (d *Dispatcher) SetSleepRecorder(fn func(ticks uint32)) {
	d.noteSleep = fn
}

// dispatchAction is the outcome of one dispatch loop iteration.
type dispatchAction uint8

const (
	actionReturn dispatchAction = iota // reprogram hardware for the deadline
	actionDefer                        // priority window expired, force a pause
	actionSpin                         // deadline imminent, busy wait for it
)

// classify picks the outcome for a deadline next at time now, given
// the end of the priority window and the minimum reprogram lead time.
func classify(next, now, repeatUntil, minTry uint32) dispatchAction {
	if int32(next-now) > int32(minTry) {
		return actionReturn
	}
	if TimerIsBefore(repeatUntil, now) {
		return actionDefer
	}
	return actionSpin
}

// DispatchMany runs due timers and returns the clock value the
// hardware timer should next fire at. Called from the timer interrupt
// with interrupts masked.
func (d *Dispatcher) DispatchMany() uint32 {
	tru := d.repeatUntil
	for {
		// Run the next software timer
		next := d.queue.DispatchDue()

		now := d.board.ReadTime()
		switch classify(next, now, tru, d.cfg.MinTryTicks) {
		case actionReturn:
			// Schedule next timer normally
			return next
		case actionDefer:
			// Too many repeat timers from a single interrupt
			return d.forceDefer(next)
		}

		// Deadline in the past or near future - wait for it
		d.board.UnmaskIRQ()
		for int32(next-d.board.ReadTime()) > 0 {
		}
		d.board.MaskIRQ()
	}
}

// forceDefer reschedules timers after a brief pause so back to back
// deadlines cannot starve mainline tasks.
func (d *Dispatcher) forceDefer(next uint32) uint32 {
	now := d.board.ReadTime()
	if TimerIsBefore(next+d.cfg.PastTicks, now) {
		noteTrace(EvtPastFault, now, next)
		d.fatal(FaultTimerPast)
		// Fault handlers do not return
		panic(FaultTimerPast)
	}
	noteTrace(EvtDeferForced, now, next)
	d.repeatUntil = now + d.cfg.RepeatTicks
	return now + d.cfg.DeferRepeatTicks
}

// TimerTask is the periodic background task that boosts timer dispatch
// priority. While the next deadline keeps changing it extends the
// priority window; once it stagnates the task sleeps the processor
// until the next interrupt.
func (d *Dispatcher) TimerTask() {
	lst := d.lastTimer
	slept, ok := d.idlePass(lst)
	if ok {
		d.noteSleep(slept)
	}
}

// idlePass runs one interrupt-masked idle check. It reports the ticks
// spent in the low power wait and whether the wait happened.
func (d *Dispatcher) idlePass(lst uint32) (uint32, bool) {
	d.board.MaskIRQ()
	defer d.board.UnmaskIRQ()

	next := d.queue.NextDeadline()
	cur := d.board.ReadTime()
	if lst != next {
		// Deadlines are actively changing - bias toward prompt dispatch
		d.repeatUntil = cur + d.cfg.IdleRepeatTicks
		d.lastTimer = next
		return 0, false
	}

	// Sleep the processor
	d.board.WaitForIRQ()
	post := d.board.ReadTime()
	d.repeatUntil = post + d.cfg.IdleRepeatTicks
	noteTrace(EvtIdleSleep, post, post-cur)
	return post - cur, true
}

// ShutdownReset grants a fresh priority window while timer activity is
// being shut down, so an in-flight dispatch cannot trip the starvation
// guard mid-sequence. The shutdown sequencer calls it with interrupts
// masked.
func (d *Dispatcher) ShutdownReset() {
	now := d.board.ReadTime()
	d.repeatUntil = now + d.cfg.IdleRepeatTicks
	noteTrace(EvtWindowReset, now, d.repeatUntil)
}

// Periodic is invoked by the millisecond tick with interrupts masked.
func (d *Dispatcher) Periodic() {
}
