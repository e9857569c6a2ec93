// Package remote drives the TX802 front panel through remote switch
// messages: single buttons, repeated taps, multi-tap text entry and a few
// macros built from them.
package remote

import (
	"sort"
	"strings"
)

// Button codes as listed in the remote switch table. Several names share a
// code because the same key has a different label per mode.
var buttonCodes = map[string]byte{
	"RESET": 64,

	"0": 65, "1": 66, "2": 67, "3": 68, "4": 69,
	"5": 70, "6": 71, "7": 72, "8": 73, "9": 74,

	"INT": 75, "CURSOR_LEFT": 75,
	"CRT": 76, "CURSOR_RIGHT": 76,
	"SPACE": 77, "ENTER": 77,
	"LOWERCASE": 78, "MINUS_ONE": 78, "OFF": 78, "NO": 78,
	"UPPERCASE": 79, "PLUS_ONE": 79, "ON": 79, "YES": 79,
	"DASH": 80,

	"PERFORM_SELECT": 81,
	"VOICE_SELECT":   82,
	"SYSTEM_SETUP":   83,
	"UTILITY":        84,
	"PERFORM_EDIT":   85,
	"VOICE_EDIT_I":   86,
	"VOICE_EDIT_II":  87,
	"STORE":          88,
	"COMPARE":        88,

	"TG1": 89, "TG2": 90, "TG3": 91, "TG4": 92,
	"TG5": 93, "TG6": 94, "TG7": 95, "TG8": 96,
}

// ButtonCode returns the remote switch code for a button name.
func ButtonCode(name string) (byte, bool) {
	c, ok := buttonCodes[strings.ToUpper(strings.TrimSpace(name))]
	return c, ok
}

// Buttons lists every known button name, sorted.
func Buttons() []string {
	names := make([]string, 0, len(buttonCodes))
	for n := range buttonCodes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// StartupSequence resets the unit and brings it into a known state: memory
// protect off, INIT performance, voice bank receive set to I1-I32.
var StartupSequence = []string{
	"RESET",
	"WAIT=3",
	"PRTCT_OFF",
	"UTILITY", "TG5", "YES", "YES", "WAIT",
	"SYSTEM_SETUP", "TG4", "TG4", "MINUS_ONE",
	"VOICE_SELECT",
}
