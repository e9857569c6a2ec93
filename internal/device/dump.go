package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"tx802mcp/internal/sysex"
	"tx802mcp/internal/voice"
)

// DumpTimeout bounds how long RequestVoice waits for an answer.
const DumpTimeout = 5 * time.Second

var ErrTimeout = errors.New("timed out waiting for voice dump")

// DumpRequest builds F0 43 2n ff F7 asking the unit to send format ff.
// Format 0 is the voice edit buffer, 9 the 32 voice bank.
func DumpRequest(device int, format byte) []byte {
	id, _ := sysex.DeviceByte(device)
	return []byte{sysex.Start, sysex.YamahaID, 0x20 | (id & 0x0F), format, sysex.End}
}

// RequestVoice asks the unit for its voice edit buffer and waits for the
// single voice dump on listen.
func (s *Session) RequestVoice(ctx context.Context, listen Listener) (voice.Unpacked, error) {
	msgCh := make(chan midi.Message, 1)
	stop, err := listen(func(msg midi.Message) {
		if len(msg) == voice.SingleMessageSize && msg[0] == sysex.Start && msg[1] == sysex.YamahaID && msg[3] == 0x00 {
			select {
			case msgCh <- append(midi.Message(nil), msg...):
			default:
			}
		}
	})
	if err != nil {
		return voice.Unpacked{}, fmt.Errorf("failed to listen for voice dump: %w", err)
	}
	defer stop()

	req := DumpRequest(s.Device(), 0)
	s.log.Info("requesting voice dump", "msg", sysex.Hex(req))
	if err := s.SendSysEx(req); err != nil {
		return voice.Unpacked{}, fmt.Errorf("failed to request voice dump: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DumpTimeout)
	defer cancel()

	select {
	case msg := <-msgCh:
		s.log.Info("received voice dump")
		return voice.VerifySingle(msg)
	case <-ctx.Done():
		s.log.Warn("no voice dump received", "err", ctx.Err())
		return voice.Unpacked{}, ErrTimeout
	}
}
