package core

// Timer is one entry on the software timer list. The handler runs in
// interrupt context; it returns SF_RESCHEDULE after moving WakeTime
// forward to stay scheduled, or SF_DONE to drop off the list.
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

// Handler results
const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

// periodicIntervalUS paces the built in timer that keeps the list
// populated and periodically wakes the background tasks.
const periodicIntervalUS = 10000

// TimerList is the pending timer list, sorted by wake time. A built in
// periodic timer is always present, so the earliest deadline is always
// defined and dispatch never sees an empty list. That timer is never
// removed.
type TimerList struct {
	head     *Timer
	periodic Timer
	kick     func()
}

// NewTimerList returns a list primed with the periodic timer, due
// immediately.
func NewTimerList() *TimerList {
	tl := &TimerList{}
	tl.periodic.Handler = tl.periodicEvent
	tl.head = &tl.periodic
	return tl
}

// periodicEvent wakes the background tasks and stays scheduled
func (tl *TimerList) periodicEvent(t *Timer) uint8 {
	WakeTasks()
	t.WakeTime += TimerFromUS(periodicIntervalUS)
	return SF_RESCHEDULE
}

// SetKick installs the hook that makes the hardware timer fire as soon
// as possible. It runs whenever the earliest deadline moves up, so the
// hardware never sleeps through a newly scheduled timer.
func (tl *TimerList) SetKick(fn func()) {
	tl.kick = fn
}

// Schedule inserts t at its WakeTime. Task context.
func (tl *TimerList) Schedule(t *Timer) {
	state := irqSave()
	if TimerIsBefore(t.WakeTime, tl.head.WakeTime) {
		// New earliest deadline - insert at front and wake the hardware
		t.Next = tl.head
		tl.head = t
		if tl.kick != nil {
			tl.kick()
		}
	} else {
		tl.insert(t)
	}
	irqRestore(state)
}

// insert places t behind the last entry not after it, keeping ties in
// insertion order. Caller holds interrupts masked.
func (tl *TimerList) insert(t *Timer) {
	pos := tl.head
	for pos.Next != nil && !TimerIsBefore(t.WakeTime, pos.Next.WakeTime) {
		pos = pos.Next
	}
	t.Next = pos.Next
	pos.Next = t
}

// Remove takes t off the list if present. Task context.
func (tl *TimerList) Remove(t *Timer) {
	state := irqSave()
	if tl.head == t {
		// Removing the earliest timer - reschedule the hardware
		tl.head = t.Next
		if tl.kick != nil {
			tl.kick()
		}
	} else {
		for pos := tl.head; pos.Next != nil; pos = pos.Next {
			if pos.Next == t {
				pos.Next = t.Next
				break
			}
		}
	}
	irqRestore(state)
}

// DispatchDue runs the earliest timer and returns the new earliest
// deadline. Called from the timer interrupt with interrupts masked.
func (tl *TimerList) DispatchDue() uint32 {
	t := tl.head
	res := t.Handler(t)

	// Reposition the timer that just ran
	next := t.Next
	if res == SF_DONE {
		tl.head = next
	} else if next == nil || TimerIsBefore(t.WakeTime, next.WakeTime) {
		// Still the earliest - nothing to move
		return t.WakeTime
	} else {
		tl.head = next
		tl.insert(t)
	}
	return tl.head.WakeTime
}

// NextDeadline returns the earliest pending deadline without
// dispatching. Called with interrupts masked.
func (tl *TimerList) NextDeadline() uint32 {
	return tl.head.WakeTime
}

var (
	taskFuncs    []func()
	tasksPending uint8

	shutdownFuncs []func()
)

// RegisterTask adds fn to the background task loop.
func RegisterTask(fn func()) {
	taskFuncs = append(taskFuncs, fn)
}

// WakeTasks requests a pass over the background tasks. Safe from
// interrupt context.
func WakeTasks() {
	tasksPending = 1
}

// RunTasks runs each background task once if a wake was requested
// since the last pass. Main loop body, task context.
func RunTasks() {
	state := irqSave()
	pending := tasksPending
	tasksPending = 0
	irqRestore(state)
	if pending == 0 {
		return
	}
	for _, fn := range taskFuncs {
		fn()
	}
}

// RegisterShutdown adds fn to the shutdown notification list.
func RegisterShutdown(fn func()) {
	shutdownFuncs = append(shutdownFuncs, fn)
}

// RunShutdowns invokes the registered shutdown hooks in registration
// order. The fault path calls it with interrupts masked.
func RunShutdowns() {
	for _, fn := range shutdownFuncs {
		fn()
	}
}
