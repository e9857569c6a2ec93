package perform

import (
	"fmt"
	"strconv"
	"strings"
)

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NoteName returns the name the TX802 shows for MIDI note n, from C-2 (0)
// to G8 (127). Middle C (60) is C3.
func NoteName(n int) string {
	if n < 0 || n > 127 {
		return "Invalid"
	}
	return fmt.Sprintf("%s%d", noteNames[n%12], n/12-2)
}

// NoteNumber parses a note name such as "C3", "F#-1" or "Bb7" using the
// unit's octave numbering.
func NoteNumber(name string) (int, error) {
	t := strings.TrimSpace(name)
	if len(t) < 2 {
		return 0, fmt.Errorf("note %q too short", name)
	}

	var semitone int
	switch t[0] {
	case 'C', 'c':
		semitone = 0
	case 'D', 'd':
		semitone = 2
	case 'E', 'e':
		semitone = 4
	case 'F', 'f':
		semitone = 5
	case 'G', 'g':
		semitone = 7
	case 'A', 'a':
		semitone = 9
	case 'B', 'b':
		semitone = 11
	default:
		return 0, fmt.Errorf("invalid note letter %q", t[:1])
	}

	rest := t[1:]
	switch rest[0] {
	case '#':
		semitone++
		rest = rest[1:]
	case 'b':
		semitone--
		rest = rest[1:]
	}
	if rest == "" {
		return 0, fmt.Errorf("note %q is missing an octave", name)
	}

	octave, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("invalid octave in %q: %w", name, err)
	}

	n := 12*(octave+2) + semitone
	if n < 0 || n > 127 {
		return 0, fmt.Errorf("note %q outside C-2..G8", name)
	}
	return n, nil
}
