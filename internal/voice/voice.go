// Package voice converts DX7/TX802 voices between the 155-byte single voice
// layout (VCED) and the 128-byte packed bank layout (VMEM), and validates the
// SysEx messages that carry them.
package voice

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

const (
	UnpackedSize = 155
	PackedSize   = 128
	NameSize     = 10

	unpackedOpSize = 21
	packedOpSize   = 17
	operators      = 6

	nameOffset     = 145
	packedNameOffs = 118
)

// Unpacked is one voice in single voice (VCED) order: OP6..OP1, pitch EG,
// algorithm, feedback, osc sync, LFO, transpose and name.
type Unpacked [UnpackedSize]byte

// Packed is one voice in the bit-packed order used inside a 32-voice bank.
type Packed [PackedSize]byte

// field maps one parameter between the two layouts. Offsets for operator
// fields are relative to the start of the operator block.
type field struct {
	name     string
	unpacked int
	packed   int
	shift    uint
	mask     byte
}

// Operator bytes 0-10 (EG rates, levels, break point, depths) are copied as is.
var operatorFields = []field{
	{name: "LC", unpacked: 11, packed: 11, shift: 0, mask: 0x03},
	{name: "RC", unpacked: 12, packed: 11, shift: 2, mask: 0x03},
	{name: "RS", unpacked: 13, packed: 12, shift: 0, mask: 0x07},
	{name: "DET", unpacked: 20, packed: 12, shift: 3, mask: 0x0F},
	{name: "AMS", unpacked: 14, packed: 13, shift: 0, mask: 0x03},
	{name: "KVS", unpacked: 15, packed: 13, shift: 3, mask: 0x07},
	{name: "OL", unpacked: 16, packed: 14, shift: 0, mask: 0xFF},
	{name: "MODE", unpacked: 17, packed: 15, shift: 0, mask: 0x01},
	{name: "FC", unpacked: 18, packed: 15, shift: 1, mask: 0x1F},
	{name: "FF", unpacked: 19, packed: 16, shift: 0, mask: 0xFF},
}

// Pitch EG (126-133 -> 102-109) and the name (145-154 -> 118-127) are copied as is.
var globalFields = []field{
	{name: "ALG", unpacked: 134, packed: 110, shift: 0, mask: 0x1F},
	{name: "FB", unpacked: 135, packed: 111, shift: 0, mask: 0x07},
	{name: "OPI", unpacked: 136, packed: 111, shift: 3, mask: 0x01},
	{name: "LFS", unpacked: 137, packed: 112, shift: 0, mask: 0xFF},
	{name: "LFD", unpacked: 138, packed: 113, shift: 0, mask: 0xFF},
	{name: "LPMD", unpacked: 139, packed: 114, shift: 0, mask: 0xFF},
	{name: "LAMD", unpacked: 140, packed: 115, shift: 0, mask: 0xFF},
	{name: "LFKS", unpacked: 141, packed: 116, shift: 0, mask: 0x01},
	{name: "LFW", unpacked: 142, packed: 116, shift: 1, mask: 0x07},
	{name: "LPMS", unpacked: 143, packed: 116, shift: 4, mask: 0x07},
	{name: "TRNSP", unpacked: 144, packed: 117, shift: 0, mask: 0x3F},
}

const (
	operatorCopyLen = 11
	pegUnpacked     = 126
	pegPacked       = 102
	pegLen          = 8
)

// Pack converts a single voice to its bank slot layout. Sub-byte fields are
// masked to their bit width.
func (v Unpacked) Pack() Packed {
	var p Packed
	for op := 0; op < operators; op++ {
		u := op * unpackedOpSize
		k := op * packedOpSize
		copy(p[k:k+operatorCopyLen], v[u:u+operatorCopyLen])
		for _, f := range operatorFields {
			p[k+f.packed] |= (v[u+f.unpacked] & f.mask) << f.shift
		}
	}
	copy(p[pegPacked:pegPacked+pegLen], v[pegUnpacked:pegUnpacked+pegLen])
	for _, f := range globalFields {
		p[f.packed] |= (v[f.unpacked] & f.mask) << f.shift
	}
	copy(p[packedNameOffs:], v[nameOffset:])
	return p
}

// Unpack is the inverse of Pack.
func (p Packed) Unpack() Unpacked {
	var v Unpacked
	for op := 0; op < operators; op++ {
		u := op * unpackedOpSize
		k := op * packedOpSize
		copy(v[u:u+operatorCopyLen], p[k:k+operatorCopyLen])
		for _, f := range operatorFields {
			v[u+f.unpacked] = (p[k+f.packed] >> f.shift) & f.mask
		}
	}
	copy(v[pegUnpacked:pegUnpacked+pegLen], p[pegPacked:pegPacked+pegLen])
	for _, f := range globalFields {
		v[f.unpacked] = (p[f.packed] >> f.shift) & f.mask
	}
	copy(v[nameOffset:], p[packedNameOffs:])
	return v
}

// Name renders the 10 name bytes as printable ASCII. Bytes the display
// cannot show become '?'; a blank name is reported as "Unnamed".
func (v Unpacked) Name() string {
	return renderName(v[nameOffset:])
}

// Name renders the name stored in a bank slot.
func (p Packed) Name() string {
	return renderName(p[packedNameOffs:])
}

func renderName(raw []byte) string {
	var b strings.Builder
	for _, c := range raw {
		if c < 0x20 || c > 0x7E {
			b.WriteByte('?')
			continue
		}
		b.WriteByte(c)
	}
	name := strings.TrimSpace(b.String())
	if name == "" {
		return "Unnamed"
	}
	return name
}

// SetName writes name into the 10 name bytes, space padded.
func (v *Unpacked) SetName(name string) {
	copy(v[nameOffset:], nameBytes(name))
}

// SetName writes name into the slot's 10 name bytes, space padded.
func (p *Packed) SetName(name string) {
	copy(p[packedNameOffs:], nameBytes(name))
}

func nameBytes(name string) []byte {
	out := []byte(strings.Repeat(" ", NameSize))
	i := 0
	for _, r := range name {
		if i == NameSize {
			break
		}
		if r < 0x20 || r > 0x7E {
			r = '?'
		}
		out[i] = byte(r)
		i++
	}
	return out
}

// Hash identifies a voice by its sound parameters, ignoring the name.
func (v Unpacked) Hash() string {
	sum := md5.Sum(v[:nameOffset])
	return hex.EncodeToString(sum[:])
}

// Algorithm returns the 1-based algorithm number.
func (p Packed) Algorithm() int {
	return int(p[110]&0x1F) + 1
}

// Feedback returns the feedback level 0-7.
func (p Packed) Feedback() int {
	return int(p[111] & 0x07)
}

// OutputLevel returns the output level of operator op (1-6).
func (p Packed) OutputLevel(op int) int {
	return int(p[(operators-op)*packedOpSize+14])
}

// InitVoice returns the unit's INIT VOICE: a single sine carrier on OP1.
func InitVoice() Unpacked {
	var v Unpacked
	for op := 0; op < operators; op++ {
		u := op * unpackedOpSize
		copy(v[u:], []byte{99, 99, 99, 99, 99, 99, 99, 0, 39, 0, 0, 0, 0, 0, 0, 0})
		v[u+18] = 1 // FC
		v[u+20] = 7 // DET center
	}
	v[(operators-1)*unpackedOpSize+16] = 99 // OP1 output level
	copy(v[pegUnpacked:], []byte{99, 99, 99, 99, 50, 50, 50, 50})
	v[136] = 1
	copy(v[137:], []byte{35, 0, 0, 0, 1, 0, 3})
	v[144] = 24
	v.SetName("INIT VOICE")
	return v
}
