package transfer

import (
	"fmt"
	"log/slog"
	"time"

	"tx802mcp/internal/remote"
	"tx802mcp/internal/sysex"
	"tx802mcp/internal/voice"
)

// State is a step of a transfer.
type State int

const (
	Idle State = iota
	ProtectDisabled
	Sending
	Confirming
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ProtectDisabled:
		return "protect-disabled"
	case Sending:
		return "sending"
	case Confirming:
		return "confirming"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Link is the exclusive connection a transfer runs on.
type Link interface {
	sysex.Sender
	Device() int
	Sleep(d time.Duration)
	PlayConfirmation() error
	AllNotesOff() error
}

// Timing holds the pauses the unit needs around a transfer.
type Timing struct {
	PreSend    time.Duration // before the dump
	AfterDump  time.Duration // after a full voice bank or single block
	Block      time.Duration // between performance blocks
	Recover    time.Duration // before leaving a truncated receive
	Settle     time.Duration // before the display refresh
	BeforeNote time.Duration // between refresh and confirmation notes
	Press      time.Duration // after each button of a macro
	ExitPress  time.Duration // after VOICE_SELECT that ends a receive
	AfterPrtct time.Duration // after disabling memory protect for performances
}

// DefaultTiming matches what the unit tolerates in practice.
func DefaultTiming() Timing {
	return Timing{
		PreSend:    100 * time.Millisecond,
		AfterDump:  200 * time.Millisecond,
		Block:      100 * time.Millisecond,
		Recover:    500 * time.Millisecond,
		Settle:     time.Second,
		BeforeNote: 200 * time.Millisecond,
		Press:      100 * time.Millisecond,
		ExitPress:  200 * time.Millisecond,
		AfterPrtct: 200 * time.Millisecond,
	}
}

// Orchestrator runs transfers. The zero value uses DefaultTiming.
type Orchestrator struct {
	Timing *Timing
	Log    *slog.Logger
}

// Result describes a finished or failed transfer.
type Result struct {
	Kind Kind
	// Trace lists every state the transfer went through.
	Trace []State
	// ProtectErr is set when disabling memory protect failed; the transfer
	// still went ahead.
	ProtectErr error
	Partial    bool
	Voices     int
	Blocks     int
	Bytes      int
}

func (r *Result) enter(s State) {
	r.Trace = append(r.Trace, s)
}

// State is the last state reached.
func (r *Result) State() State {
	if len(r.Trace) == 0 {
		return Idle
	}
	return r.Trace[len(r.Trace)-1]
}

type run struct {
	link  Link
	t     Timing
	log   *slog.Logger
	panel *remote.Panel
	res   *Result
}

func (o *Orchestrator) begin(link Link, kind Kind) *run {
	t := DefaultTiming()
	if o.Timing != nil {
		t = *o.Timing
	}
	log := o.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("transfer", kind.String())
	r := &run{
		link: link,
		t:    t,
		log:  log,
		panel: &remote.Panel{
			Device: link.Device(),
			Delay:  t.Press,
			Sleep:  link.Sleep,
			Log:    log,
		},
		res: &Result{Kind: kind},
	}
	r.res.enter(Idle)
	return r
}

func (r *run) press(seq string, delay time.Duration) error {
	p := *r.panel
	p.Delay = delay
	return p.RunString(r.link, seq)
}

// protectOff disables memory protect. Failure is only logged: the unit may
// already be unprotected.
func (r *run) protectOff() {
	if err := r.press("PRTCT_OFF", r.t.Press); err != nil {
		r.log.Warn("could not disable memory protect, continuing", "err", err)
		r.res.ProtectErr = err
	}
	r.res.enter(ProtectDisabled)
}

func (r *run) send(data []byte, what string, after time.Duration) error {
	r.log.Info("sending", "what", what, "bytes", len(data))
	if err := r.link.SendSysEx(data); err != nil {
		return fmt.Errorf("send %s: %w", what, err)
	}
	r.res.Bytes += len(data)
	r.link.Sleep(after)
	return nil
}

// fail records the failure and runs the safe exit.
func (r *run) fail(err error) (*Result, error) {
	r.res.enter(Failed)
	r.log.Error("transfer failed", "err", err, "trace", r.res.Trace)
	r.safeExit()
	return r.res, err
}

func (r *run) done() (*Result, error) {
	r.res.enter(Done)
	r.safeExit()
	r.log.Info("transfer finished", "bytes", r.res.Bytes)
	return r.res, nil
}

func (r *run) safeExit() {
	if err := r.link.AllNotesOff(); err != nil {
		r.log.Warn("all notes off failed", "err", err)
	}
}

// confirm refreshes the display with refresh and plays the confirmation
// notes. A failed refresh aborts when strict is set.
func (r *run) confirm(refresh string, strict bool) error {
	r.res.enter(Confirming)
	r.link.Sleep(r.t.Settle)
	if err := r.press(refresh, r.t.Press); err != nil {
		if strict {
			return fmt.Errorf("refresh display: %w", err)
		}
		r.log.Warn("display refresh failed", "err", err)
	}
	r.link.Sleep(r.t.BeforeNote)
	if err := r.link.PlayConfirmation(); err != nil {
		return fmt.Errorf("confirmation notes: %w", err)
	}
	return nil
}

// Send classifies data and dispatches to the matching transfer.
// stopAfter only applies to voice banks.
func (o *Orchestrator) Send(link Link, data []byte, stopAfter int) (*Result, error) {
	kind, err := Classify(data)
	if err != nil {
		return &Result{Trace: []State{Idle, Failed}}, err
	}
	switch kind {
	case KindVoice:
		return o.SendVoice(link, data)
	case KindPerformanceBank:
		if stopAfter != 0 {
			slog.Warn("stop-after is not supported for performance banks, sending all", "stop_after", stopAfter)
		}
		return o.SendPerformance(link, data)
	}
	return o.SendBank(link, data, stopAfter)
}

// SendBank transmits a 32 voice bank. With stopAfter in 1..31 only that
// many voices plus four bytes of the next are sent, without the end byte,
// and VOICE_SELECT is pressed to leave the stalled receive. Any other
// non-zero stopAfter sends the whole bank.
func (o *Orchestrator) SendBank(link Link, data []byte, stopAfter int) (*Result, error) {
	r := o.begin(link, KindVoiceBank)
	if kind, err := Classify(data); err != nil {
		return r.fail(err)
	} else if kind != KindVoiceBank {
		return r.fail(fmt.Errorf("%w: expected a voice bank, got a %s", ErrUnrecognizedFormat, kind))
	}
	if err := voice.VerifyBank(data); err != nil {
		return r.fail(err)
	}

	r.protectOff()
	r.res.enter(Sending)
	link.Sleep(r.t.PreSend)

	payload := data
	if stopAfter != 0 {
		if stopAfter < 1 || stopAfter > voice.BankVoices-1 {
			r.log.Warn("stop-after must be 1-31, sending the full bank", "stop_after", stopAfter)
		} else {
			cut := voice.HeaderSize + stopAfter*voice.PackedSize + 4
			payload = data[:cut]
			r.res.Partial = true
		}
	}

	if r.res.Partial {
		r.res.Voices = stopAfter
		if err := r.send(payload, fmt.Sprintf("voices 1-%d, partial", stopAfter), r.t.AfterDump); err != nil {
			return r.fail(err)
		}
		r.log.Info("unit left in an incomplete receive, pressing VOICE_SELECT")
		link.Sleep(r.t.Recover)
		if err := r.press("VOICE_SELECT", r.t.ExitPress); err != nil {
			return r.fail(fmt.Errorf("leave receive state: %w", err))
		}
	} else {
		r.res.Voices = voice.BankVoices
		if err := r.send(payload, "voice bank", r.t.AfterDump); err != nil {
			return r.fail(err)
		}
	}
	r.res.Blocks = 1

	if err := r.confirm("VOICE_SELECT,PLUS_ONE,MINUS_ONE", true); err != nil {
		return r.fail(err)
	}
	return r.done()
}

// SendPerformance transmits a performance bank, block by block when the
// file holds several messages.
func (o *Orchestrator) SendPerformance(link Link, data []byte) (*Result, error) {
	r := o.begin(link, KindPerformanceBank)
	if kind, err := Classify(data); err != nil {
		return r.fail(err)
	} else if kind != KindPerformanceBank {
		return r.fail(fmt.Errorf("%w: expected a performance bank, got a %s", ErrUnrecognizedFormat, kind))
	}

	r.protectOff()
	link.Sleep(r.t.AfterPrtct)
	r.res.enter(Sending)
	link.Sleep(r.t.PreSend)

	blocks := SplitBlocks(data)
	if len(blocks) > 1 {
		r.log.Info("multi-block performance bank", "blocks", len(blocks))
		for i, b := range blocks {
			if err := r.send(b, fmt.Sprintf("performance block %d/%d", i+1, len(blocks)), r.t.Block); err != nil {
				return r.fail(err)
			}
		}
		r.res.Blocks = len(blocks)
	} else {
		if err := r.send(data, "performance bank", r.t.AfterDump); err != nil {
			return r.fail(err)
		}
		r.res.Blocks = 1
	}

	if err := r.confirm("PERFORM_SELECT,PLUS_ONE,MINUS_ONE", false); err != nil {
		return r.fail(err)
	}
	return r.done()
}

// SendVoice writes one voice into the unit's voice edit buffer. The device
// nibble of msg is rewritten to address the link's device.
func (o *Orchestrator) SendVoice(link Link, msg []byte) (*Result, error) {
	r := o.begin(link, KindVoice)
	if _, err := voice.VerifySingle(msg); err != nil {
		return r.fail(err)
	}
	data := append([]byte(nil), msg...)
	if id, ok := sysex.DeviceByte(link.Device()); ok {
		data[2] = id & 0x0F
	} else {
		data[2] = 0
	}

	r.protectOff()
	r.res.enter(Sending)
	if err := r.send(data, "single voice to edit buffer", r.t.AfterDump); err != nil {
		return r.fail(err)
	}
	r.res.Voices, r.res.Blocks = 1, 1

	r.res.enter(Confirming)
	if err := r.press("VOICE_SELECT", r.t.ExitPress); err != nil {
		r.log.Warn("VOICE_SELECT failed", "err", err)
	}
	link.Sleep(r.t.Recover)
	if err := link.PlayConfirmation(); err != nil {
		return r.fail(fmt.Errorf("confirmation notes: %w", err))
	}
	return r.done()
}
