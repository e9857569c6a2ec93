package remote

// TextWidth is the length of a name field on the unit's display.
const TextWidth = 20

// Tap is one button pressed Count times in a row.
type Tap struct {
	Button string
	Count  int
}

type caseState int

const (
	caseUnset caseState = iota
	caseUpper
	caseLower
)

// keyTaps maps a character to the key and tap count that produce it.
var keyTaps = func() map[rune]Tap {
	m := map[rune]Tap{
		' ':  {"SPACE", 1},
		'!':  {"8", 4},
		'#':  {"9", 2},
		'&':  {"9", 3},
		'-':  {"DASH", 1},
		'/':  {"DASH", 2},
		'.':  {"DASH", 3},
		'\'': {"DASH", 4},
	}
	for d := '0'; d <= '9'; d++ {
		m[d] = Tap{string(d), 1}
	}
	// each digit key cycles digit, then three letters (y and z share 8 with '!')
	for i := 0; i < 26; i++ {
		key := string(rune('0' + i/3))
		t := Tap{key, i%3 + 2}
		m[rune('a'+i)] = t
		m[rune('A'+i)] = t
	}
	return m
}()

// TextEntry is the tap sequence that types a name on the unit.
type TextEntry struct {
	Taps        []Tap
	Truncated   bool
	Unsupported []rune
}

// EncodeText returns the taps that move the cursor to the first position
// and type text, padded with spaces to TextWidth. Unsupported characters
// are typed as '.'.
func EncodeText(text string) TextEntry {
	var e TextEntry
	runes := []rune(text)
	if len(runes) > TextWidth {
		runes = runes[:TextWidth]
		e.Truncated = true
	}
	for len(runes) < TextWidth {
		runes = append(runes, ' ')
	}

	e.Taps = append(e.Taps, Tap{"CURSOR_LEFT", TextWidth - 1})
	state := caseUnset
	for i, r := range runes {
		t, ok := keyTaps[r]
		if !ok {
			e.Unsupported = append(e.Unsupported, r)
			t = keyTaps['.']
		}

		want := caseUnset
		switch {
		case r >= 'A' && r <= 'Z':
			want = caseUpper
		case r >= 'a' && r <= 'z':
			want = caseLower
		}
		if want != caseUnset && want != state {
			if want == caseUpper {
				e.Taps = append(e.Taps, Tap{"UPPERCASE", 1})
			} else {
				e.Taps = append(e.Taps, Tap{"LOWERCASE", 1})
			}
			state = want
		}

		e.Taps = append(e.Taps, t)
		// the unit advances by itself after a space
		if r != ' ' && i < TextWidth-1 {
			e.Taps = append(e.Taps, Tap{"CURSOR_RIGHT", 1})
		}
	}
	return e
}
