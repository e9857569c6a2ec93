package remote

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrUnknownButton = errors.New("unknown button")
	ErrBadCommand    = errors.New("malformed command")
)

// Kind tells how a Command is executed.
type Kind int

const (
	KindPress Kind = iota
	KindCode
	KindText
	KindWait
	KindPos1
	KindProtectOn
	KindProtectOff
)

func (k Kind) String() string {
	switch k {
	case KindPress:
		return "press"
	case KindCode:
		return "code"
	case KindText:
		return "text"
	case KindWait:
		return "wait"
	case KindPos1:
		return "pos1"
	case KindProtectOn:
		return "protect-on"
	case KindProtectOff:
		return "protect-off"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Command is one entry of a button sequence such as "TG3", "CURSOR_LEFT=4",
// "TEXT=Lead Split", "WAIT=2" or "CODE=81".
type Command struct {
	Kind   Kind
	Button string
	Code   byte
	Repeat int
	Text   string
	Wait   time.Duration
}

func (c Command) String() string {
	switch c.Kind {
	case KindPress:
		if c.Repeat > 1 {
			return fmt.Sprintf("%s=%d", c.Button, c.Repeat)
		}
		return c.Button
	case KindCode:
		return fmt.Sprintf("CODE=%d", c.Code)
	case KindText:
		return "TEXT=" + c.Text
	case KindWait:
		return fmt.Sprintf("WAIT=%d", int(c.Wait/time.Second))
	case KindPos1:
		return "POS1"
	case KindProtectOn:
		return "PRTCT_ON"
	case KindProtectOff:
		return "PRTCT_OFF"
	}
	return c.Kind.String()
}

// ParseCommand parses one sequence entry. A repeat count that is not a
// positive number is an error.
func ParseCommand(s string) (Command, error) {
	raw := strings.TrimSpace(s)
	name, arg, hasArg := strings.Cut(raw, "=")
	name = strings.ToUpper(strings.TrimSpace(name))

	switch name {
	case "":
		return Command{}, fmt.Errorf("%w: empty entry", ErrBadCommand)
	case "POS1":
		return Command{Kind: KindPos1}, nil
	case "PRTCT_ON":
		return Command{Kind: KindProtectOn}, nil
	case "PRTCT_OFF":
		return Command{Kind: KindProtectOff}, nil
	case "TEXT":
		if !hasArg {
			return Command{}, fmt.Errorf("%w: TEXT needs a value", ErrBadCommand)
		}
		return Command{Kind: KindText, Text: arg}, nil
	case "WAIT":
		secs := 1
		if hasArg {
			n, err := strconv.Atoi(strings.TrimSpace(arg))
			if err != nil || n < 0 {
				return Command{}, fmt.Errorf("%w: WAIT=%s", ErrBadCommand, arg)
			}
			secs = n
		}
		return Command{Kind: KindWait, Wait: time.Duration(secs) * time.Second}, nil
	case "CODE":
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if !hasArg || err != nil || n < 0 || n > 127 {
			return Command{}, fmt.Errorf("%w: CODE needs a value 0-127, got %q", ErrBadCommand, arg)
		}
		return Command{Kind: KindCode, Code: byte(n), Repeat: 1}, nil
	}

	code, ok := buttonCodes[name]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownButton, name)
	}
	repeat := 1
	if hasArg {
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil || n < 1 {
			return Command{}, fmt.Errorf("%w: repeat count %q for %s", ErrBadCommand, arg, name)
		}
		repeat = n
	}
	return Command{Kind: KindPress, Button: name, Code: code, Repeat: repeat}, nil
}

// ParseSequence parses a comma separated list of commands. Entries that do
// not parse are returned as errors alongside the commands that did.
func ParseSequence(s string) ([]Command, []error) {
	return ParseList(strings.Split(s, ","))
}

// ParseList parses each entry of items, skipping blanks.
func ParseList(items []string) ([]Command, []error) {
	var cmds []Command
	var errs []error
	for _, item := range items {
		if strings.TrimSpace(item) == "" {
			continue
		}
		c, err := ParseCommand(item)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cmds = append(cmds, c)
	}
	return cmds, errs
}

// Step is a single remote switch message, or a pause when Pause is set.
type Step struct {
	Button string
	Code   byte
	Pause  time.Duration
}

func press(name string) Step {
	return Step{Button: name, Code: buttonCodes[name]}
}

func repeat(name string, n int) []Step {
	steps := make([]Step, n)
	for i := range steps {
		steps[i] = press(name)
	}
	return steps
}

// Steps expands c into the primitive presses and pauses it stands for.
// Unsupported characters of a text command are reported in unsupported.
func (c Command) Steps() (steps []Step, unsupported []rune, truncated bool) {
	switch c.Kind {
	case KindPress:
		for i := 0; i < max(c.Repeat, 1); i++ {
			steps = append(steps, Step{Button: c.Button, Code: c.Code})
		}
	case KindCode:
		steps = []Step{{Button: fmt.Sprintf("CODE=%d", c.Code), Code: c.Code}}
	case KindWait:
		steps = []Step{{Pause: c.Wait}}
	case KindPos1:
		steps = repeat("CURSOR_LEFT", TextWidth-1)
	case KindProtectOn:
		steps = []Step{press("SYSTEM_SETUP"), press("TG8"), press("YES")}
	case KindProtectOff:
		steps = []Step{press("SYSTEM_SETUP"), press("TG8"), press("NO")}
	case KindText:
		e := EncodeText(c.Text)
		for _, t := range e.Taps {
			steps = append(steps, repeat(t.Button, t.Count)...)
		}
		unsupported, truncated = e.Unsupported, e.Truncated
	}
	return steps, unsupported, truncated
}
