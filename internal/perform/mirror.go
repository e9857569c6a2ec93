package perform

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ToneGenerators is the number of TGs in a performance.
const ToneGenerators = 8

// TGState is the last known front panel view of one tone generator.
type TGState struct {
	TG        string `toml:"tg" yaml:"tg" json:"tg"`
	Preset    string `toml:"preset" yaml:"preset" json:"preset"`
	RXCH      string `toml:"rxch" yaml:"rxch" json:"rxch"`
	NoteLow   string `toml:"note_low" yaml:"note_low" json:"note_low"`
	NoteHigh  string `toml:"note_high" yaml:"note_high" json:"note_high"`
	Detune    string `toml:"detune" yaml:"detune" json:"detune"`
	NoteShift string `toml:"note_shift" yaml:"note_shift" json:"note_shift"`
	OutVol    string `toml:"out_vol" yaml:"out_vol" json:"out_vol"`
	Pan       string `toml:"pan" yaml:"pan" json:"pan"`
	FDamp     string `toml:"fdamp" yaml:"fdamp" json:"fdamp"`
}

// DefaultTGState matches the unit's INIT performance.
func DefaultTGState() TGState {
	return TGState{
		TG:        "Off",
		Preset:    "I01",
		RXCH:      "1",
		NoteLow:   "C-2",
		NoteHigh:  "G8",
		Detune:    "0",
		NoteShift: "0",
		OutVol:    "90",
		Pan:       "Center",
		FDamp:     "Off",
	}
}

// State is the persisted form of a Mirror.
type State struct {
	TGs []TGState `toml:"tg" yaml:"tg" json:"tg"`
}

// Mirror tracks what has been sent to each tone generator, since the unit
// cannot be queried for its performance edit buffer.
type Mirror struct {
	mu       sync.Mutex
	tgs      [ToneGenerators]TGState
	onChange func(State)
}

// NewMirror returns a mirror in the INIT state, overlaid with saved when
// it is not nil.
func NewMirror(saved *State) *Mirror {
	m := &Mirror{}
	for i := range m.tgs {
		m.tgs[i] = DefaultTGState()
		if saved != nil && i < len(saved.TGs) {
			m.tgs[i] = mergeState(m.tgs[i], saved.TGs[i])
		}
	}
	return m
}

func mergeState(base, over TGState) TGState {
	pick := func(a, b string) string {
		if b != "" {
			return b
		}
		return a
	}
	return TGState{
		TG:        pick(base.TG, over.TG),
		Preset:    pick(base.Preset, over.Preset),
		RXCH:      pick(base.RXCH, over.RXCH),
		NoteLow:   pick(base.NoteLow, over.NoteLow),
		NoteHigh:  pick(base.NoteHigh, over.NoteHigh),
		Detune:    pick(base.Detune, over.Detune),
		NoteShift: pick(base.NoteShift, over.NoteShift),
		OutVol:    pick(base.OutVol, over.OutVol),
		Pan:       pick(base.Pan, over.Pan),
		FDamp:     pick(base.FDamp, over.FDamp),
	}
}

// OnChange registers fn to receive a snapshot after every recorded edit.
func (m *Mirror) OnChange(fn func(State)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (m *Mirror) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *Mirror) snapshot() State {
	s := State{TGs: make([]TGState, ToneGenerators)}
	copy(s.TGs, m.tgs[:])
	return s
}

// TG returns the state of tone generator tg (1-8).
func (m *Mirror) TG(tg int) (TGState, bool) {
	if tg < 1 || tg > ToneGenerators {
		return TGState{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tgs[tg-1], true
}

// Record updates the mirror after c was sent successfully. Parameters that
// are not part of the tone generator view are ignored.
func (m *Mirror) Record(c Change) {
	if c.Index < 1 || c.Index > ToneGenerators {
		return
	}
	v := c.Internal

	m.mu.Lock()
	s := &m.tgs[c.Index-1]
	switch c.Param {
	case LINK:
		// TG1 is the base of every link chain and cannot be switched off.
		s.TG = "On"
		if v == 0 && c.Index != 1 {
			s.TG = "Off"
		}
	case VNUM:
		s.Preset = PresetName(v + 1)
	case RXCH:
		s.RXCH = strconv.Itoa(v + 1)
		if v == omni {
			s.RXCH = "Omni"
		}
	case NTMTL:
		s.NoteLow = NoteName(v)
	case NTMTH:
		s.NoteHigh = NoteName(v)
	case DETUNE:
		s.Detune = signed(v - 7)
	case NSHFT:
		s.NoteShift = signed(v - 24)
	case OUTVOL:
		s.OutVol = strconv.Itoa(v)
	case OUTCH:
		if v >= 0 && v < len(panNames) {
			s.Pan = panNames[v]
		}
	case FDAMP:
		s.FDamp = "Off"
		if v == 1 {
			s.FDamp = "On"
		}
	default:
		m.mu.Unlock()
		return
	}
	fn := m.onChange
	snap := m.snapshot()
	m.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// Edits returns the edits that reproduce the mirrored state of tg.
func (m *Mirror) Edits(tg int) []Edit {
	s, ok := m.TG(tg)
	if !ok {
		return nil
	}
	key := func(name string) string { return fmt.Sprintf("%s%d", name, tg) }
	return []Edit{
		{Key: key("TG"), Value: s.TG},
		{Key: key("PRESET"), Value: s.Preset},
		{Key: key("RXCH"), Value: s.RXCH},
		{Key: key("NOTELOW"), Value: s.NoteLow},
		{Key: key("NOTEHIGH"), Value: s.NoteHigh},
		{Key: key("DETUNE"), Value: detuneValue(s.Detune)},
		{Key: key("NOTESHIFT"), Value: s.NoteShift},
		{Key: key("OUTVOL"), Value: s.OutVol},
		{Key: key("PAN"), Value: s.Pan},
		{Key: key("FDAMP"), Value: s.FDamp},
	}
}

var panNames = []string{"Off", "Left", "Right", "Center"}

var presetBanks = []string{"I", "C", "A", "B"}

// PresetName converts a 1-based voice number (1-256) to the unit's bank
// notation, e.g. 76 -> "C12".
func PresetName(vnum int) string {
	if vnum < 1 || vnum > 256 {
		return "I01"
	}
	return fmt.Sprintf("%s%02d", presetBanks[(vnum-1)/64], (vnum-1)%64+1)
}

func signed(n int) string {
	if n > 0 {
		return "+" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// detuneValue turns a mirrored relative detune into an edit value. A bare 0
// would address the stored value 0, so centre is sent as 7.
func detuneValue(rel string) any {
	if strings.TrimSpace(rel) == "0" {
		return 7
	}
	return rel
}
