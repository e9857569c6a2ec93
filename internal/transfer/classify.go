// Package transfer sends voice banks, performance banks and single voices
// to a TX802 with the protect, refresh and confirmation steps the unit
// needs around a bulk dump.
package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"tx802mcp/internal/sysex"
	"tx802mcp/internal/voice"
)

var ErrUnrecognizedFormat = errors.New("unrecognized sysex format")

// Kind is what a loaded file contains.
type Kind int

const (
	KindVoice Kind = iota + 1
	KindVoiceBank
	KindPerformanceBank
)

func (k Kind) String() string {
	switch k {
	case KindVoice:
		return "voice"
	case KindVoiceBank:
		return "voice bank"
	case KindPerformanceBank:
		return "performance bank"
	}
	return "unknown"
}

const (
	// PerformanceSize is the usual length of a performance bank file.
	PerformanceSize = 11589
	// PerformanceID follows the performance bank header.
	PerformanceID = "LM--8952PM"
)

var (
	voiceSig       = []byte{0x00, 0x01, 0x1B}
	bankSig        = []byte{0x09, 0x20, 0x00}
	performanceSig = []byte{0x7E, 0x01, 0x28}
)

// Classify identifies data by the bytes after the device byte and by its
// length. Voices and voice banks must have their exact size; performance
// banks vary and only trigger a warning when far from the usual size.
func Classify(data []byte) (Kind, error) {
	if len(data) < 7 || data[0] != sysex.Start || data[len(data)-1] != sysex.End {
		return 0, fmt.Errorf("%w: not a complete sysex message (%d bytes)", ErrUnrecognizedFormat, len(data))
	}
	if data[1] != sysex.YamahaID {
		return 0, fmt.Errorf("%w: manufacturer 0x%02X is not Yamaha", ErrUnrecognizedFormat, data[1])
	}

	sig := data[3:6]
	switch {
	case bytes.Equal(sig, voiceSig):
		if len(data) != voice.SingleMessageSize {
			return 0, fmt.Errorf("%w: voice is %d bytes, want %d", voice.ErrLength, len(data), voice.SingleMessageSize)
		}
		return KindVoice, nil
	case bytes.Equal(sig, bankSig):
		if len(data) != voice.BankMessageSize {
			return 0, fmt.Errorf("%w: voice bank is %d bytes, want %d", voice.ErrLength, len(data), voice.BankMessageSize)
		}
		return KindVoiceBank, nil
	case bytes.Equal(sig, performanceSig):
		if d := len(data) - PerformanceSize; d <= -100 || d >= 100 {
			slog.Warn("performance bank size differs from the usual", "size", len(data), "usual", PerformanceSize)
		}
		if !bytes.Contains(data[:min(len(data), 64)], []byte(PerformanceID)) {
			slog.Warn("performance bank identifier missing", "want", PerformanceID)
		}
		return KindPerformanceBank, nil
	}
	return 0, fmt.Errorf("%w: header starts with % X", ErrUnrecognizedFormat, sig)
}

// SplitBlocks cuts data into its F0..F7 messages. A start byte without a
// matching end ends the scan.
func SplitBlocks(data []byte) [][]byte {
	var blocks [][]byte
	rest := data
	for {
		start := bytes.IndexByte(rest, sysex.Start)
		if start < 0 {
			return blocks
		}
		end := bytes.IndexByte(rest[start:], sysex.End)
		if end < 0 {
			slog.Warn("found F0 without matching F7, ignoring the rest", "bytes", len(rest)-start)
			return blocks
		}
		blocks = append(blocks, rest[start:start+end+1])
		rest = rest[start+end+1:]
	}
}
