package voice

import (
	"errors"
	"fmt"
	"log/slog"
)

const (
	SingleMessageSize = 163
	BankMessageSize   = 4104
	BankVoices        = 32
	BankDataSize      = BankVoices * PackedSize

	HeaderSize = 6
)

var (
	singleHeader = [HeaderSize]byte{0xF0, 0x43, 0x00, 0x00, 0x01, 0x1B}
	bankHeader   = [HeaderSize]byte{0xF0, 0x43, 0x00, 0x09, 0x20, 0x00}
)

var (
	// ErrFormat is the root of every structural problem with a message.
	ErrFormat     = errors.New("invalid sysex format")
	ErrLength     = fmt.Errorf("%w: wrong length", ErrFormat)
	ErrHeader     = fmt.Errorf("%w: wrong header", ErrFormat)
	ErrTerminator = fmt.Errorf("%w: missing F7 terminator", ErrFormat)
	ErrDataByte   = fmt.Errorf("%w: data byte above 0x7F", ErrFormat)

	ErrChecksum = errors.New("checksum mismatch")
)

// Checksum is the two's complement of the 7-bit sum of data.
func Checksum(data []byte) byte {
	var sum int
	for _, b := range data {
		sum += int(b)
	}
	return byte((128 - (sum & 0x7F)) & 0x7F)
}

// NewSingleMessage wraps v in a 163-byte single voice dump for device 1.
func NewSingleMessage(v Unpacked) []byte {
	msg := make([]byte, 0, SingleMessageSize)
	msg = append(msg, singleHeader[:]...)
	msg = append(msg, v[:]...)
	return append(msg, Checksum(v[:]), 0xF7)
}

// NewBankMessage wraps 32 packed voices in a 4104-byte bank dump.
func NewBankMessage(voices [BankVoices]Packed) []byte {
	msg := make([]byte, 0, BankMessageSize)
	msg = append(msg, bankHeader[:]...)
	for i := range voices {
		msg = append(msg, voices[i][:]...)
	}
	return append(msg, Checksum(msg[HeaderSize:]), 0xF7)
}

// VerifySingle checks a single voice dump and returns its voice data.
func VerifySingle(msg []byte) (Unpacked, error) {
	var v Unpacked
	if len(msg) != SingleMessageSize {
		return v, fmt.Errorf("%w: got %d bytes, want %d", ErrLength, len(msg), SingleMessageSize)
	}
	if err := checkHeader(msg, singleHeader); err != nil {
		return v, err
	}
	if msg[len(msg)-1] != 0xF7 {
		return v, ErrTerminator
	}
	data := msg[HeaderSize : HeaderSize+UnpackedSize]
	if err := checkData(data); err != nil {
		return v, err
	}
	if want, got := Checksum(data), msg[HeaderSize+UnpackedSize]; want != got {
		return v, fmt.Errorf("%w: calculated 0x%02X, stored 0x%02X", ErrChecksum, want, got)
	}
	copy(v[:], data)
	return v, nil
}

// VerifyBank checks a 32-voice bank dump.
func VerifyBank(data []byte) error {
	if len(data) != BankMessageSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrLength, len(data), BankMessageSize)
	}
	if err := checkHeader(data, bankHeader); err != nil {
		return err
	}
	if data[len(data)-1] != 0xF7 {
		return ErrTerminator
	}
	if err := checkData(data[HeaderSize : HeaderSize+BankDataSize]); err != nil {
		return err
	}
	if want, got := Checksum(data[HeaderSize:HeaderSize+BankDataSize]), data[HeaderSize+BankDataSize]; want != got {
		return fmt.Errorf("%w: calculated 0x%02X, stored 0x%02X", ErrChecksum, want, got)
	}
	return nil
}

// BankSlot returns the packed voice at index 0..31 of a verified bank.
func BankSlot(bank []byte, index int) Packed {
	var p Packed
	off := HeaderSize + index*PackedSize
	copy(p[:], bank[off:off+PackedSize])
	return p
}

func checkData(data []byte) error {
	for i, b := range data {
		if b > 0x7F {
			return fmt.Errorf("%w: 0x%02X at offset %d", ErrDataByte, b, i)
		}
	}
	return nil
}

func checkHeader(msg []byte, want [HeaderSize]byte) error {
	if msg[0] != want[0] || msg[1] != want[1] || msg[3] != want[3] || msg[4] != want[4] || msg[5] != want[5] {
		return fmt.Errorf("%w: % X", ErrHeader, msg[:HeaderSize])
	}
	if msg[2]&0xF0 != 0 {
		return fmt.Errorf("%w: substatus byte 0x%02X", ErrHeader, msg[2])
	}
	if msg[2] != 0 {
		slog.Info("dump addressed to non-default device", "device", int(msg[2])+1)
	}
	return nil
}
