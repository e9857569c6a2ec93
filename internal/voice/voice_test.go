package voice

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// randomVoice fills every byte with a value inside its documented range.
func randomVoice(r *rand.Rand) Unpacked {
	var v Unpacked
	for op := 0; op < operators; op++ {
		for _, l := range operatorLimits {
			v[op*unpackedOpSize+l.off] = byte(r.Intn(int(l.max) + 1))
		}
	}
	for _, l := range globalLimits {
		v[l.off] = byte(r.Intn(int(l.max) + 1))
	}
	v.SetName("RAND VOICE")
	return v
}

func TestPackUnpackRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(802))
	for i := 0; i < 200; i++ {
		v := randomVoice(r)
		got := v.Pack().Unpack()
		require.Equal(t, v, got, "iteration %d", i)
	}
}

func TestPackMasksSubByteFields(t *testing.T) {
	v := InitVoice()
	v[11] = 0xFF  // OP6 LC, 2 bits
	v[134] = 0xFF // ALG, 5 bits
	v[144] = 0xFF // TRNSP, 6 bits

	p := v.Pack()
	u := p.Unpack()
	assert.Equal(t, byte(0x03), u[11])
	assert.Equal(t, byte(0x1F), u[134])
	assert.Equal(t, byte(0x3F), u[144])
	assert.Equal(t, p, u.Pack())
}

func TestPackLayout(t *testing.T) {
	var v Unpacked
	v[12] = 2  // RC
	v[11] = 1  // LC
	v[20] = 14 // DET
	v[13] = 5  // RS
	v[15] = 6  // KVS
	v[14] = 3  // AMS
	v[18] = 31 // FC
	v[17] = 1  // MODE
	v[136] = 1
	v[135] = 6
	v[143] = 7
	v[142] = 5
	v[141] = 1

	p := v.Pack()
	assert.Equal(t, byte(2<<2|1), p[11])
	assert.Equal(t, byte(14<<3|5), p[12])
	assert.Equal(t, byte(6<<3|3), p[13])
	assert.Equal(t, byte(31<<1|1), p[15])
	assert.Equal(t, byte(1<<3|6), p[111])
	assert.Equal(t, byte(7<<4|5<<1|1), p[116])
}

func TestChecksumProperty(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		data := make([]byte, 1+r.Intn(300))
		for j := range data {
			data[j] = byte(r.Intn(128))
		}
		var sum int
		for _, b := range data {
			sum += int(b)
		}
		assert.Equal(t, 0, (sum+int(Checksum(data)))&0x7F)
	}
}

func TestVerifySingle(t *testing.T) {
	v := InitVoice()
	msg := NewSingleMessage(v)
	require.Len(t, msg, SingleMessageSize)

	got, err := VerifySingle(msg)
	require.NoError(t, err)
	assert.Equal(t, v, got)
	assert.Equal(t, "INIT VOICE", got.Name())

	// non-zero device nibble is accepted
	other := append([]byte(nil), msg...)
	other[2] = 0x03
	_, err = VerifySingle(other)
	assert.NoError(t, err)

	bad := append([]byte(nil), msg...)
	bad[20]++
	_, err = VerifySingle(bad)
	assert.ErrorIs(t, err, ErrChecksum)

	_, err = VerifySingle(msg[:162])
	assert.ErrorIs(t, err, ErrLength)
	assert.ErrorIs(t, err, ErrFormat)

	bad = append([]byte(nil), msg...)
	bad[3] = 0x09
	_, err = VerifySingle(bad)
	assert.ErrorIs(t, err, ErrHeader)

	bad = append([]byte(nil), msg...)
	bad[162] = 0x00
	_, err = VerifySingle(bad)
	assert.ErrorIs(t, err, ErrTerminator)
}

func TestVerifySingleRejectsHighDataBytes(t *testing.T) {
	msg := NewSingleMessage(InitVoice())
	bad := append([]byte(nil), msg...)
	bad[HeaderSize+20] = 0x87
	_, err := VerifySingle(bad)
	assert.ErrorIs(t, err, ErrDataByte)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestVerifyBank(t *testing.T) {
	var voices [BankVoices]Packed
	for i := range voices {
		voices[i] = InitVoice().Pack()
	}
	bank := NewBankMessage(voices)
	require.Len(t, bank, BankMessageSize)
	require.NoError(t, VerifyBank(bank))

	flipped := append([]byte(nil), bank...)
	flipped[HeaderSize+BankDataSize-1] ^= 0x01
	assert.ErrorIs(t, VerifyBank(flipped), ErrChecksum)

	flipped = append([]byte(nil), bank...)
	flipped[HeaderSize+100] ^= 0x01
	assert.ErrorIs(t, VerifyBank(flipped), ErrChecksum)

	high := append([]byte(nil), bank...)
	high[HeaderSize+7] = 0x80
	assert.ErrorIs(t, VerifyBank(high), ErrDataByte)

	assert.ErrorIs(t, VerifyBank(bank[:4103]), ErrLength)

	assert.Equal(t, voices[5], BankSlot(bank, 5))
}

func TestName(t *testing.T) {
	v := InitVoice()
	v.SetName("E.PIANO 1 LONGER")
	assert.Equal(t, "E.PIANO 1", v.Name())

	v[145] = 0x7F
	assert.Equal(t, "?.PIANO 1", v.Name())

	v.SetName("")
	assert.Equal(t, "Unnamed", v.Name())
}

func TestHashIgnoresName(t *testing.T) {
	a := InitVoice()
	b := InitVoice()
	b.SetName("OTHER")
	assert.Equal(t, a.Hash(), b.Hash())

	b[0] = 10
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestInitVoice(t *testing.T) {
	v := InitVoice()
	require.NoError(t, v.Validate())
	p := v.Pack()
	assert.Equal(t, 1, p.Algorithm())
	assert.Equal(t, 99, p.OutputLevel(1))
	assert.Equal(t, 0, p.OutputLevel(6))
}

func TestParamsJSONRoundTrip(t *testing.T) {
	v := randomVoice(rand.New(rand.NewSource(1)))

	asJSON, err := json.Marshal(v.Params())
	require.NoError(t, err)

	var p Params
	require.NoError(t, json.Unmarshal(asJSON, &p))

	got, err := p.Unpacked()
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestParamsRejectsOutOfRange(t *testing.T) {
	p := InitVoice().Params()
	p.Operators[0].OutputLevel = 120
	_, err := p.Unpacked()
	assert.ErrorContains(t, err, "OP1 OL")

	p = InitVoice().Params()
	p.Algorithm = 0
	_, err = p.Unpacked()
	assert.Error(t, err)
}
