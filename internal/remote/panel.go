package remote

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tx802mcp/internal/sysex"
)

// DefaultDelay is the pause after each button press.
const DefaultDelay = 100 * time.Millisecond

// Panel presses buttons on one unit.
type Panel struct {
	Device int
	Delay  time.Duration
	Sleep  func(time.Duration)
	Log    *slog.Logger
}

func (p *Panel) log() *slog.Logger {
	if p.Log == nil {
		return slog.Default()
	}
	return p.Log
}

func (p *Panel) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (p *Panel) send(out sysex.Sender, s Step) error {
	if s.Pause > 0 {
		p.log().Debug("wait", "duration", s.Pause)
		p.sleep(s.Pause)
		return nil
	}
	msg := sysex.RemoteSwitch(p.Device, s.Code)
	p.log().Debug("press", "button", s.Button, "code", s.Code, "msg", sysex.Hex(msg))
	if err := out.SendSysEx(msg); err != nil {
		return fmt.Errorf("press %s: %w", s.Button, err)
	}
	p.sleep(p.Delay)
	return nil
}

// Press sends a single named button.
func (p *Panel) Press(out sysex.Sender, name string) error {
	code, ok := ButtonCode(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownButton, name)
	}
	return p.send(out, Step{Button: strings.ToUpper(name), Code: code})
}

// Run executes cmds in order. A failing command is logged and the rest of
// the sequence still runs; failures come back as a *sysex.PartialFailure.
func (p *Panel) Run(out sysex.Sender, cmds []Command) error {
	var errs []error
	for _, c := range cmds {
		if err := p.run(out, c); err != nil {
			p.log().Warn("command failed", "command", c.String(), "err", err)
			errs = append(errs, err)
		}
	}
	return sysex.Collect("button sequence", len(cmds), errs)
}

func (p *Panel) run(out sysex.Sender, c Command) error {
	steps, unsupported, truncated := c.Steps()
	if truncated {
		p.log().Warn("text truncated", "text", c.Text, "width", TextWidth)
	}
	if len(unsupported) > 0 {
		p.log().Warn("unsupported characters typed as '.'", "chars", string(unsupported))
	}
	var errs []error
	for _, s := range steps {
		if err := p.send(out, s); err != nil {
			p.log().Warn("press failed, continuing", "command", c.String(), "err", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s: %d of %d presses failed: %w", c, len(errs), len(steps), errors.Join(errs...))
	}
	return nil
}

// RunString parses and runs a comma separated sequence. Entries that do not
// parse are reported together with any send failures.
func (p *Panel) RunString(out sysex.Sender, seq string) error {
	cmds, parseErrs := ParseSequence(seq)
	return p.runParsed(out, cmds, parseErrs)
}

// RunList is RunString for an already split list.
func (p *Panel) RunList(out sysex.Sender, items []string) error {
	cmds, parseErrs := ParseList(items)
	return p.runParsed(out, cmds, parseErrs)
}

func (p *Panel) runParsed(out sysex.Sender, cmds []Command, parseErrs []error) error {
	for _, err := range parseErrs {
		p.log().Error("skipping entry", "err", err)
	}
	err := p.Run(out, cmds)
	if len(parseErrs) == 0 {
		return err
	}
	errs := parseErrs
	if pf, ok := err.(*sysex.PartialFailure); ok {
		errs = append(errs, pf.Errors...)
	}
	return sysex.Collect("button sequence", len(cmds)+len(parseErrs), errs)
}
