// Package sysex holds the framing primitives shared by the TX802 parameter
// and remote-switch protocols.
package sysex

import (
	"fmt"
	"strings"
)

const (
	Start byte = 0xF0
	End   byte = 0xF7

	// YamahaID is the manufacturer byte following Start.
	YamahaID byte = 0x43

	// GroupPCED selects the performance edit buffer (group 6, subgroup 2).
	GroupPCED byte = 0x1A
	// GroupRemote selects the remote switch table (group 6, subgroup 3).
	GroupRemote byte = 0x1B

	// DefaultDevice is the device number the unit ships with.
	DefaultDevice = 1
)

// Sender transmits one complete SysEx message.
type Sender interface {
	SendSysEx(data []byte) error
}

// DeviceByte returns the 0x1n byte addressing device 1..16. Out of range
// numbers fall back to device 1 and ok is false.
func DeviceByte(device int) (b byte, ok bool) {
	if device < 1 || device > 16 {
		return 0x10, false
	}
	return 0x10 + byte(device-1), true
}

// ParameterChange builds F0 43 1n 1A pp vv.. F7.
func ParameterChange(device int, param byte, values ...byte) []byte {
	id, _ := DeviceByte(device)
	msg := []byte{Start, YamahaID, id, GroupPCED, param}
	msg = append(msg, values...)
	return append(msg, End)
}

// RemoteSwitch builds F0 43 1n 1B cc 00 F7.
func RemoteSwitch(device int, code byte) []byte {
	id, _ := DeviceByte(device)
	return []byte{Start, YamahaID, id, GroupRemote, code, 0x00, End}
}

// Hex formats a message the way the unit's manual prints them.
func Hex(data []byte) string {
	return fmt.Sprintf("% X", data)
}

// PartialFailure reports the items of a batch that failed while the rest
// of the batch was still sent.
type PartialFailure struct {
	Op     string
	Total  int
	Errors []error
}

func (p *PartialFailure) Error() string {
	parts := make([]string, 0, len(p.Errors))
	for _, err := range p.Errors {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("%s: %d of %d failed: %s", p.Op, len(p.Errors), p.Total, strings.Join(parts, "; "))
}

func (p *PartialFailure) Unwrap() []error {
	return p.Errors
}

// Collect returns nil when errs is empty, otherwise a *PartialFailure.
func Collect(op string, total int, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &PartialFailure{Op: op, Total: total, Errors: errs}
}
