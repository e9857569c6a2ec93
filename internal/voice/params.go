package voice

import (
	"fmt"
)

// Operator is one FM operator in readable form.
type Operator struct {
	Rates           [4]byte `json:"rates"`
	Levels          [4]byte `json:"levels"`
	BreakPoint      byte    `json:"break_point"`
	LeftDepth       byte    `json:"left_depth"`
	RightDepth      byte    `json:"right_depth"`
	LeftCurve       byte    `json:"left_curve"`
	RightCurve      byte    `json:"right_curve"`
	RateScaling     byte    `json:"rate_scaling"`
	AmpModSense     byte    `json:"amp_mod_sense"`
	VelocitySense   byte    `json:"velocity_sense"`
	OutputLevel     byte    `json:"output_level"`
	FixedFrequency  byte    `json:"fixed_frequency"`
	FrequencyCoarse byte    `json:"frequency_coarse"`
	FrequencyFine   byte    `json:"frequency_fine"`
	Detune          byte    `json:"detune"` // 7 is centre
}

// LFO holds the shared low frequency oscillator settings.
type LFO struct {
	Speed      byte `json:"speed"`
	Delay      byte `json:"delay"`
	PitchDepth byte `json:"pitch_depth"`
	AmpDepth   byte `json:"amp_depth"`
	KeySync    byte `json:"key_sync"`
	Wave       byte `json:"wave"`
	PitchSense byte `json:"pitch_sense"`
}

// Params is a voice in a form suited to JSON tools. Operators are listed
// OP1 first, unlike the dump order.
type Params struct {
	Operators [operators]Operator `json:"operators"`

	PitchRates  [4]byte `json:"pitch_rates"`
	PitchLevels [4]byte `json:"pitch_levels"`

	Algorithm byte `json:"algorithm"` // 1-32
	Feedback  byte `json:"feedback"`
	OscSync   byte `json:"osc_sync"`
	LFO       LFO  `json:"lfo"`
	Transpose byte `json:"transpose"` // 24 is C3

	Name string `json:"name"`
}

type paramLimit struct {
	name string
	off  int
	max  byte
}

// Upper bounds per byte of an operator block.
var operatorLimits = []paramLimit{
	{"R1", 0, 99}, {"R2", 1, 99}, {"R3", 2, 99}, {"R4", 3, 99},
	{"L1", 4, 99}, {"L2", 5, 99}, {"L3", 6, 99}, {"L4", 7, 99},
	{"BP", 8, 99}, {"LD", 9, 99}, {"RD", 10, 99},
	{"LC", 11, 3}, {"RC", 12, 3}, {"RS", 13, 7}, {"AMS", 14, 3}, {"KVS", 15, 7},
	{"OL", 16, 99}, {"MODE", 17, 1}, {"FC", 18, 31}, {"FF", 19, 99}, {"DET", 20, 14},
}

var globalLimits = []paramLimit{
	{"PR1", 126, 99}, {"PR2", 127, 99}, {"PR3", 128, 99}, {"PR4", 129, 99},
	{"PL1", 130, 99}, {"PL2", 131, 99}, {"PL3", 132, 99}, {"PL4", 133, 99},
	{"ALG", 134, 31}, {"FB", 135, 7}, {"OPI", 136, 1},
	{"LFS", 137, 99}, {"LFD", 138, 99}, {"LPMD", 139, 99}, {"LAMD", 140, 99},
	{"LFKS", 141, 1}, {"LFW", 142, 5}, {"LPMS", 143, 7}, {"TRNSP", 144, 48},
}

// Validate reports the first parameter outside the unit's documented range.
func (v Unpacked) Validate() error {
	for op := 0; op < operators; op++ {
		for _, l := range operatorLimits {
			if b := v[op*unpackedOpSize+l.off]; b > l.max {
				return fmt.Errorf("OP%d %s = %d exceeds %d", operators-op, l.name, b, l.max)
			}
		}
	}
	for _, l := range globalLimits {
		if b := v[l.off]; b > l.max {
			return fmt.Errorf("%s = %d exceeds %d", l.name, b, l.max)
		}
	}
	return nil
}

// Validate checks a packed record, which carries no checksum of its own.
func (p Packed) Validate() error {
	if err := checkData(p[:]); err != nil {
		return err
	}
	return p.Unpack().Validate()
}

// Params returns the readable form of v.
func (v Unpacked) Params() Params {
	var p Params
	for i := range p.Operators {
		o := v[(operators-1-i)*unpackedOpSize:]
		op := &p.Operators[i]
		copy(op.Rates[:], o[0:4])
		copy(op.Levels[:], o[4:8])
		op.BreakPoint = o[8]
		op.LeftDepth = o[9]
		op.RightDepth = o[10]
		op.LeftCurve = o[11]
		op.RightCurve = o[12]
		op.RateScaling = o[13]
		op.AmpModSense = o[14]
		op.VelocitySense = o[15]
		op.OutputLevel = o[16]
		op.FixedFrequency = o[17]
		op.FrequencyCoarse = o[18]
		op.FrequencyFine = o[19]
		op.Detune = o[20]
	}
	copy(p.PitchRates[:], v[126:130])
	copy(p.PitchLevels[:], v[130:134])
	p.Algorithm = v[134] + 1
	p.Feedback = v[135]
	p.OscSync = v[136]
	p.LFO = LFO{
		Speed:      v[137],
		Delay:      v[138],
		PitchDepth: v[139],
		AmpDepth:   v[140],
		KeySync:    v[141],
		Wave:       v[142],
		PitchSense: v[143],
	}
	p.Transpose = v[144]
	p.Name = string(v[nameOffset:])
	return p
}

// Unpacked converts p back to dump order and validates the result.
func (p Params) Unpacked() (Unpacked, error) {
	var v Unpacked
	if p.Algorithm < 1 || p.Algorithm > 32 {
		return v, fmt.Errorf("algorithm must be 1-32, got %d", p.Algorithm)
	}
	for i, op := range p.Operators {
		o := v[(operators-1-i)*unpackedOpSize:]
		copy(o[0:4], op.Rates[:])
		copy(o[4:8], op.Levels[:])
		o[8] = op.BreakPoint
		o[9] = op.LeftDepth
		o[10] = op.RightDepth
		o[11] = op.LeftCurve
		o[12] = op.RightCurve
		o[13] = op.RateScaling
		o[14] = op.AmpModSense
		o[15] = op.VelocitySense
		o[16] = op.OutputLevel
		o[17] = op.FixedFrequency
		o[18] = op.FrequencyCoarse
		o[19] = op.FrequencyFine
		o[20] = op.Detune
	}
	copy(v[126:130], p.PitchRates[:])
	copy(v[130:134], p.PitchLevels[:])
	v[134] = p.Algorithm - 1
	v[135] = p.Feedback
	v[136] = p.OscSync
	v[137] = p.LFO.Speed
	v[138] = p.LFO.Delay
	v[139] = p.LFO.PitchDepth
	v[140] = p.LFO.AmpDepth
	v[141] = p.LFO.KeySync
	v[142] = p.LFO.Wave
	v[143] = p.LFO.PitchSense
	v[144] = p.Transpose
	v.SetName(p.Name)
	if err := v.Validate(); err != nil {
		return v, err
	}
	return v, nil
}
