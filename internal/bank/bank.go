// Package bank assembles 32-voice DX7 bank dumps from single voices and
// splits banks back into single voice files.
package bank

import (
	"errors"
	"fmt"
	"strings"

	"tx802mcp/internal/voice"
)

var (
	ErrTooManyVoices = fmt.Errorf("a bank holds at most %d voices", voice.BankVoices)
	ErrNoValidVoices = errors.New("no valid voices")
)

// Source is one candidate voice for a bank: a single voice dump in Message,
// or a 128-byte bank record in Packed, which wins when both are set. Name
// is only used in reports.
type Source struct {
	Name    string
	Message []byte
	Packed  *voice.Packed
}

func (src Source) resolve() (voice.Packed, string, error) {
	if src.Packed != nil {
		if err := src.Packed.Validate(); err != nil {
			return voice.Packed{}, "", fmt.Errorf("packed record: %w", err)
		}
		return *src.Packed, src.Packed.Name(), nil
	}
	v, err := voice.VerifySingle(src.Message)
	if err != nil {
		return voice.Packed{}, "", err
	}
	return v.Pack(), v.Name(), nil
}

// Skip records a source that failed validation.
type Skip struct {
	Name string
	Err  error
}

// Assembly is the result of Create.
type Assembly struct {
	Data    []byte
	Names   [voice.BankVoices]string
	Voices  int
	Padding int
	Skipped []Skip
}

// Create packs the valid sources in order and fills the remaining slots with
// INIT voices numbered after the last real voice.
func Create(sources []Source) (*Assembly, error) {
	if len(sources) > voice.BankVoices {
		return nil, fmt.Errorf("%w: got %d", ErrTooManyVoices, len(sources))
	}

	a := &Assembly{}
	var slots [voice.BankVoices]voice.Packed
	for _, src := range sources {
		p, name, err := src.resolve()
		if err != nil {
			a.Skipped = append(a.Skipped, Skip{Name: src.Name, Err: err})
			continue
		}
		slots[a.Voices] = p
		a.Names[a.Voices] = name
		a.Voices++
	}
	if a.Voices == 0 {
		return a, ErrNoValidVoices
	}

	blank := voice.InitVoice().Pack()
	for i := a.Voices; i < voice.BankVoices; i++ {
		p := blank
		p.SetName(fmt.Sprintf("INIT %02d", i+1))
		slots[i] = p
		a.Names[i] = p.Name()
		a.Padding++
	}

	a.Data = voice.NewBankMessage(slots)
	return a, nil
}

// Slot is one extracted bank voice. Err is set when the slot could not be
// turned into a valid single voice dump.
type Slot struct {
	Number  int
	Name    string
	Packed  voice.Packed
	Voice   voice.Unpacked
	Message []byte
	Err     error
}

// Extract verifies bank and returns its 32 voices as single voice dumps.
func Extract(bank []byte) ([]Slot, error) {
	if err := voice.VerifyBank(bank); err != nil {
		return nil, err
	}

	slots := make([]Slot, voice.BankVoices)
	failed := 0
	for i := range slots {
		s := &slots[i]
		s.Number = i + 1
		s.Packed = voice.BankSlot(bank, i)
		s.Voice = s.Packed.Unpack()
		s.Name = s.Voice.Name()

		msg := voice.NewSingleMessage(s.Voice)
		if _, err := voice.VerifySingle(msg); err != nil {
			s.Err = fmt.Errorf("slot %d (%s): %w", s.Number, s.Name, err)
			failed++
			continue
		}
		s.Message = msg
	}
	if failed == len(slots) {
		return slots, ErrNoValidVoices
	}
	return slots, nil
}

// Report is a short text summary of a packed voice.
func Report(p voice.Packed, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Patch Report: %s\n", name)
	b.WriteString(strings.Repeat("=", 50) + "\n")
	fmt.Fprintf(&b, "Algorithm: %d\n", p.Algorithm())
	fmt.Fprintf(&b, "Feedback: %d\n", p.Feedback())
	for op := 6; op >= 1; op-- {
		fmt.Fprintf(&b, "OP%d Level: %d\n", op, p.OutputLevel(op))
	}
	return b.String()
}
