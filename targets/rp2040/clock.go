//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"metron/core"
)

// RP2040 TIMER peripheral memory map. The counter runs at 1MHz;
// ALARM0 fires when the low word equals the programmed value.
const (
	timerBase     = 0x40054000
	timerALARM0   = timerBase + 0x10
	timerARMED    = timerBase + 0x20
	timerTIMERAWH = timerBase + 0x24 // Raw counter high word, no latching
	timerTIMERAWL = timerBase + 0x28 // Raw counter low word
	timerINTR     = timerBase + 0x34
	timerINTE     = timerBase + 0x38
)

// ALARM0 bit in INTR/INTE/ARMED
const alarmBit = 1 << 0

var (
	timerRawH  = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRawL  = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
	timerAlarm = (*volatile.Register32)(unsafe.Pointer(uintptr(timerALARM0)))
	timerIntr  = (*volatile.Register32)(unsafe.Pointer(uintptr(timerINTR)))
	timerInte  = (*volatile.Register32)(unsafe.Pointer(uintptr(timerINTE)))
)

// InitClock points the core clock at the hardware counter and enables
// the ALARM0 interrupt line.
func InitClock() {
	core.ReadClock = readTime
	core.ReadClock64 = readTime64
	core.RegisterConstant("MCU", "rp2040")

	timerIntr.Set(alarmBit)
	timerInte.SetBits(alarmBit)
}

// readTime returns the low 32 bits of the microsecond counter.
func readTime() uint32 {
	return timerRawL.Get()
}

// readTime64 reads the full 64 bit counter. High, low, high again to
// catch a carry between the two reads.
func readTime64() uint64 {
	for {
		high1 := timerRawH.Get()
		low := timerRawL.Get()
		high2 := timerRawH.Get()
		if high1 == high2 {
			return uint64(high1)<<32 | uint64(low)
		}
	}
}

// armAlarm programs ALARM0 to fire at target. The alarm matches on
// equality, so target must still be ahead of the counter when the
// write lands; dispatch guarantees at least a microsecond of lead.
func armAlarm(target uint32) {
	timerAlarm.Set(target)
}

// timerKick forces a dispatch pass shortly after a new earliest
// deadline is queued.
func timerKick() {
	armAlarm(readTime() + 50)
}
