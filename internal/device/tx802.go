package device

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gitlab.com/gomidi/midi/v2"

	"tx802mcp/internal/sysex"
)

var (
	// ErrBusy is returned when another operation holds the output.
	ErrBusy = errors.New("device busy")
	// ErrReleased is returned when a released session is used.
	ErrReleased       = errors.New("session released")
	ErrInvalidMessage = errors.New("invalid sysex message")
)

// TX802 is one unit behind a MIDI output. Only one Session may use the
// output at a time; a second Acquire fails immediately with ErrBusy.
// The forwarder never takes the gate. It only checks held and shares outMu
// with sessions so that writes do not interleave.
type TX802 struct {
	Device  int
	Channel uint8
	Log     *slog.Logger
	Sleep   func(time.Duration)

	gate  sync.Mutex
	held  atomic.Bool
	outMu sync.Mutex
	out   Out
}

// New returns a TX802 sending to out. out may be nil until SetOutput.
func New(out Out, device int) *TX802 {
	return &TX802{Device: device, out: out}
}

func (t *TX802) log() *slog.Logger {
	if t.Log == nil {
		return slog.Default()
	}
	return t.Log
}

func (t *TX802) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	if t.Sleep != nil {
		t.Sleep(d)
		return
	}
	time.Sleep(d)
}

// SetOutput replaces the output. It fails with ErrBusy while a session
// holds the unit and waits for a relayed message in flight.
func (t *TX802) SetOutput(out Out) error {
	if !t.gate.TryLock() {
		return ErrBusy
	}
	defer t.gate.Unlock()
	t.outMu.Lock()
	t.out = out
	t.outMu.Unlock()
	return nil
}

// Held reports whether a session currently owns the output.
func (t *TX802) Held() bool {
	return t.held.Load()
}

// relay sends data for the forwarder unless a session owns the output.
func (t *TX802) relay(data []byte) (sent bool, err error) {
	if t.held.Load() {
		return false, nil
	}
	t.outMu.Lock()
	defer t.outMu.Unlock()
	if t.held.Load() || t.out == nil {
		return false, nil
	}
	return true, t.out.Send(data)
}

// Acquire takes the output for one operation. The caller must Release the
// session on every path.
func (t *TX802) Acquire(op string) (*Session, error) {
	if !t.gate.TryLock() {
		return nil, fmt.Errorf("%w: cannot start %s", ErrBusy, op)
	}
	t.outMu.Lock()
	connected := t.out != nil
	t.outMu.Unlock()
	if !connected {
		t.gate.Unlock()
		return nil, fmt.Errorf("%w: no output connected", ErrUnavailable)
	}
	t.held.Store(true)
	s := &Session{ID: uuid.NewString(), Op: op, tx: t, started: time.Now()}
	s.log = t.log().With("session", s.ID, "op", op)
	s.log.Debug("session acquired")
	return s, nil
}

// Session is exclusive use of the output for one operation.
type Session struct {
	ID string
	Op string

	tx       *TX802
	log      *slog.Logger
	started  time.Time
	once     sync.Once
	released atomic.Bool
}

// Device is the device number the session addresses.
func (s *Session) Device() int {
	return s.tx.Device
}

// Sleep pauses for d using the unit's clock.
func (s *Session) Sleep(d time.Duration) {
	s.tx.sleep(d)
}

// Release gives the output back. Calling it more than once is harmless.
func (s *Session) Release() {
	s.once.Do(func() {
		s.released.Store(true)
		s.log.Debug("session released", "elapsed", time.Since(s.started))
		s.tx.held.Store(false)
		s.tx.gate.Unlock()
	})
}

// Send transmits one channel or system message.
func (s *Session) Send(msg midi.Message) error {
	if s.released.Load() {
		return ErrReleased
	}
	s.tx.outMu.Lock()
	err := s.tx.out.Send(msg.Bytes())
	s.tx.outMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// SendSysEx transmits data after checking its framing. A missing end byte
// is allowed so that deliberately truncated transfers can be sent.
func (s *Session) SendSysEx(data []byte) error {
	if err := checkSysEx(data); err != nil {
		return err
	}
	s.log.Debug("sysex out", "len", len(data))
	return s.Send(midi.Message(data))
}

func checkSysEx(data []byte) error {
	if len(data) < 2 || data[0] != sysex.Start {
		return fmt.Errorf("%w: does not start with F0", ErrInvalidMessage)
	}
	body := data[1:]
	if body[len(body)-1] == sysex.End {
		body = body[:len(body)-1]
	}
	for i, b := range body {
		if b > 0x7F {
			return fmt.Errorf("%w: byte %d is 0x%02X", ErrInvalidMessage, i+1, b)
		}
	}
	return nil
}

// AllNotesOff sends CC 123 on all 16 channels, then pauses briefly.
func (s *Session) AllNotesOff() error {
	var errs []error
	for ch := uint8(0); ch < 16; ch++ {
		if err := s.Send(midi.ControlChange(ch, 123, 0)); err != nil {
			errs = append(errs, err)
		}
	}
	s.Sleep(100 * time.Millisecond)
	return sysex.Collect("all notes off", 16, errs)
}
