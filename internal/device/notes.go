package device

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"gitlab.com/gomidi/midi/v2"

	"tx802mcp/internal/perform"
)

// Melody is a run of single notes followed by the same notes as a chord.
type Melody struct {
	Notes    []uint8
	Velocity uint8
	Hold     time.Duration
	Gap      time.Duration
	Chord    time.Duration
}

// Confirmation is played after a successful transfer: C3, E3, G3 one by
// one, then together.
var Confirmation = Melody{
	Notes:    []uint8{60, 64, 67},
	Velocity: 100,
	Hold:     500 * time.Millisecond,
	Gap:      100 * time.Millisecond,
	Chord:    2 * time.Second,
}

// Play sends m on the unit's channel.
func (s *Session) Play(m Melody) error {
	ch := s.tx.Channel
	for _, n := range m.Notes {
		if err := s.Send(midi.NoteOn(ch, n, m.Velocity)); err != nil {
			return fmt.Errorf("note on failed for %d: %w", n, err)
		}
		s.Sleep(m.Hold)
		if err := s.Send(midi.NoteOff(ch, n)); err != nil {
			return fmt.Errorf("note off failed for %d: %w", n, err)
		}
		s.Sleep(m.Gap)
	}
	if m.Chord <= 0 {
		return nil
	}

	for _, n := range m.Notes {
		if err := s.Send(midi.NoteOn(ch, n, m.Velocity)); err != nil {
			return fmt.Errorf("note on failed for %d: %w", n, err)
		}
	}
	s.Sleep(m.Chord)
	for _, n := range m.Notes {
		if err := s.Send(midi.NoteOff(ch, n)); err != nil {
			return fmt.Errorf("note off failed for %d: %w", n, err)
		}
	}
	return nil
}

// PlayConfirmation plays the Confirmation melody.
func (s *Session) PlayConfirmation() error {
	s.log.Info("playing confirmation notes")
	return s.Play(Confirmation)
}

// NoteEvent is a parsed note, or a rest when Rest is set.
type NoteEvent struct {
	Note uint8
	Rest bool
}

// ParseNotes reads a list such as "C3 E3 r G3" separated by spaces,
// commas, semicolons or bars. "r" and "rest" are pauses.
func ParseNotes(text string) ([]NoteEvent, error) {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == '|'
	})
	if len(tokens) == 0 {
		return nil, fmt.Errorf("no notes provided")
	}

	events := make([]NoteEvent, 0, len(tokens))
	for _, tok := range tokens {
		if strings.EqualFold(tok, "r") || strings.EqualFold(tok, "rest") {
			events = append(events, NoteEvent{Rest: true})
			continue
		}
		n, err := perform.NoteNumber(tok)
		if err != nil {
			return nil, fmt.Errorf("invalid note %q: %w", tok, err)
		}
		events = append(events, NoteEvent{Note: uint8(n)})
	}
	return events, nil
}

// PlayText plays the notes in text one after another.
func (s *Session) PlayText(text string) error {
	events, err := ParseNotes(text)
	if err != nil {
		return err
	}

	ch := s.tx.Channel
	for _, e := range events {
		if e.Rest {
			s.Sleep(360 * time.Millisecond)
			continue
		}
		if err := s.Send(midi.NoteOn(ch, e.Note, 100)); err != nil {
			return fmt.Errorf("note on failed for %d: %w", e.Note, err)
		}
		s.Sleep(300 * time.Millisecond)
		if err := s.Send(midi.NoteOff(ch, e.Note)); err != nil {
			return fmt.Errorf("note off failed for %d: %w", e.Note, err)
		}
		s.Sleep(60 * time.Millisecond)
	}
	return nil
}
