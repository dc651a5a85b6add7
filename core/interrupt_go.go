//go:build !tinygo

package core

// IrqState is the saved interrupt mask state. Hosted builds have no
// interrupts; the type exists so core code stays portable.
type IrqState uintptr

// irqSave masks interrupts and returns the previous state
func irqSave() IrqState {
	return 0
}

// irqRestore restores a state saved by irqSave
func irqRestore(state IrqState) {
}
