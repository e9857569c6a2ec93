// Package perform edits the TX802 performance edit buffer (PCED) with
// parameter change messages.
package perform

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"tx802mcp/internal/sysex"
)

var (
	ErrUnknownParameter = errors.New("unknown parameter")
	ErrOutOfRange       = errors.New("value out of range")
	ErrBadValue         = errors.New("malformed value")
)

// ParamError ties a failure to the key and value that caused it.
type ParamError struct {
	Key   string
	Value any
	Err   error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s=%v: %v", e.Key, e.Value, e.Err)
}

func (e *ParamError) Unwrap() error { return e.Err }

// Param is one PCED parameter family. Each family has eight members, one
// per tone generator, except PNAM which has twenty.
type Param int

const (
	VCHOFS Param = iota
	RXCH
	VNUM
	DETUNE
	OUTVOL
	OUTCH
	NTMTL
	NTMTH
	NSHFT
	FDAMP
	KASG
	LINK
	PNAM
)

type valueKind int

const (
	kindInt valueKind = iota
	kindSwitch
	kindChar
)

type paramInfo struct {
	name   string
	base   byte
	min    int
	max    int
	count  int
	kind   valueKind
	offset bool // user value is 1-based
}

var params = map[Param]paramInfo{
	VCHOFS: {name: "VCHOFS", base: 0, min: 0, max: 7, count: 8},
	RXCH:   {name: "RXCH", base: 8, min: 1, max: 16, count: 8, offset: true},
	VNUM:   {name: "VNUM", base: 16, min: 1, max: 256, count: 8, offset: true},
	DETUNE: {name: "DETUNE", base: 24, min: -7, max: 7, count: 8},
	OUTVOL: {name: "OUTVOL", base: 32, min: 0, max: 99, count: 8},
	OUTCH:  {name: "OUTCH", base: 40, min: 0, max: 3, count: 8},
	NTMTL:  {name: "NTMTL", base: 48, min: 0, max: 127, count: 8},
	NTMTH:  {name: "NTMTH", base: 56, min: 0, max: 127, count: 8},
	NSHFT:  {name: "NSHFT", base: 64, min: -24, max: 48, count: 8},
	FDAMP:  {name: "FDAMP", base: 72, min: 0, max: 1, count: 8, kind: kindSwitch},
	KASG:   {name: "KASG", base: 80, min: 0, max: 1, count: 8, kind: kindSwitch},
	LINK:   {name: "LINK", base: 0, min: 0, max: 8, count: 8, offset: true},
	PNAM:   {name: "PNAM", base: 96, min: 0, max: 127, count: 20, kind: kindChar},
}

var paramsByName = func() map[string]Param {
	m := make(map[string]Param, len(params))
	for p, info := range params {
		m[info.name] = p
	}
	return m
}()

func (p Param) String() string {
	return params[p].name
}

// Number returns the SysEx parameter number for member idx (1-based).
func (p Param) Number(idx int) byte {
	return params[p].base + byte(idx-1)
}

// RXCH value selecting omni reception.
const omni = 16

var bankBase = map[byte]int{'I': 0, 'C': 64, 'A': 128, 'B': 192}

var panValues = map[string]int{
	"OFF": 0,
	"I":   1, "LEFT": 1,
	"II": 2, "RIGHT": 2,
	"I+II": 3, "CENTER": 3,
}

var (
	keyPattern    = regexp.MustCompile(`^([A-Z]+)(\d+)$`)
	presetPattern = regexp.MustCompile(`^([ICAB])(\d\d)$`)
)

// Edit is one KEY=VALUE request. Value is an int, a numeric string or a
// symbolic string such as "Omni", "On" or "C3".
type Edit struct {
	Key   string
	Value any
}

// Change is a resolved edit, ready to send.
type Change struct {
	Key      string // resolved key, e.g. "VNUM3" for "PRESET3"
	Param    Param
	Index    int
	Internal int
	Data     []byte // parameter value bytes
}

// Message builds the parameter change message for device.
func (c Change) Message(device int) []byte {
	return sysex.ParameterChange(device, c.Param.Number(c.Index), c.Data...)
}

// ParseEdits parses "KEY=VALUE,KEY=VALUE". Unsigned and negative integers
// become ints, everything else (including "+3") stays a string.
func ParseEdits(s string) ([]Edit, error) {
	var edits []Edit
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		key = strings.ToUpper(strings.TrimSpace(key))
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q is not KEY=VALUE", ErrBadValue, part)
		}
		value = strings.TrimSpace(value)
		if n, err := strconv.Atoi(value); err == nil && !strings.HasPrefix(value, "+") {
			edits = append(edits, Edit{Key: key, Value: n})
		} else {
			edits = append(edits, Edit{Key: key, Value: value})
		}
	}
	if len(edits) == 0 {
		return nil, errors.New("no parameters given")
	}
	return edits, nil
}

// Resolve maps an edit onto the parameter table, expanding the derived keys
// PRESET, NOTELOW, NOTEHIGH, PAN, TG and NOTESHIFT.
func Resolve(e Edit) (Change, error) {
	fail := func(err error) (Change, error) {
		return Change{}, &ParamError{Key: e.Key, Value: e.Value, Err: err}
	}

	m := keyPattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(e.Key)))
	if m == nil {
		return fail(ErrUnknownParameter)
	}
	name := m[1]
	idx, _ := strconv.Atoi(m[2])
	value := e.Value

	switch name {
	case "PRESET":
		s := strings.ToUpper(cast.ToString(value))
		pm := presetPattern.FindStringSubmatch(s)
		if pm == nil {
			return fail(fmt.Errorf("%w: want I01-I64, C01-C64, A01-A64 or B01-B64", ErrBadValue))
		}
		num, _ := strconv.Atoi(pm[2])
		if num < 1 || num > 64 {
			return fail(fmt.Errorf("%w: preset number %d not in 01-64", ErrOutOfRange, num))
		}
		name, value = "VNUM", bankBase[pm[1][0]]+num
	case "NOTELOW", "NOTEHIGH":
		n, err := NoteNumber(cast.ToString(value))
		if err != nil {
			return fail(fmt.Errorf("%w: %v", ErrBadValue, err))
		}
		if name == "NOTELOW" {
			name = "NTMTL"
		} else {
			name = "NTMTH"
		}
		value = n
	case "PAN":
		n, ok := panValues[strings.ToUpper(cast.ToString(value))]
		if !ok {
			return fail(fmt.Errorf("%w: want Off, I/Left, II/Right or I+II/Center", ErrBadValue))
		}
		name, value = "OUTCH", n
	case "TG":
		switch strings.ToUpper(cast.ToString(value)) {
		case "ON":
			value = idx
		case "OFF":
			value = 0
		default:
			return fail(fmt.Errorf("%w: want On or Off", ErrBadValue))
		}
		name = "LINK"
	case "NOTESHIFT":
		name = "NSHFT"
	}

	p, ok := paramsByName[name]
	if !ok {
		return fail(ErrUnknownParameter)
	}
	info := params[p]
	if idx < 1 || idx > info.count {
		return fail(fmt.Errorf("%w: %s has members 1-%d", ErrUnknownParameter, name, info.count))
	}

	internal, err := internalValue(p, info, value)
	if err != nil {
		return fail(err)
	}

	c := Change{Key: fmt.Sprintf("%s%d", name, idx), Param: p, Index: idx, Internal: internal}
	if p == VNUM {
		c.Data = []byte{byte(internal>>7) & 0x7F, byte(internal) & 0x7F}
	} else {
		c.Data = []byte{byte(internal)}
	}
	return c, nil
}

func internalValue(p Param, info paramInfo, value any) (int, error) {
	if info.kind == kindChar {
		return charValue(value)
	}

	if s, ok := value.(string); ok {
		switch strings.ToUpper(strings.TrimSpace(s)) {
		case "OMNI":
			if p == RXCH {
				return omni, nil
			}
		case "ON":
			if info.kind == kindSwitch {
				return 1, nil
			}
		case "OFF":
			if info.kind == kindSwitch {
				return 0, nil
			}
		}
	}

	v, err := toInt(value)
	if err != nil {
		return 0, err
	}
	// An explicit sign always means "relative to the centre".
	s, _ := value.(string)
	relative := v < 0 || strings.HasPrefix(strings.TrimSpace(s), "+")

	switch p {
	case DETUNE:
		switch {
		case relative && v >= -7 && v <= 7:
			return v + 7, nil
		case v >= 0 && v <= 7:
			return v, nil
		}
		return 0, fmt.Errorf("%w: %d not in -7..+7", ErrOutOfRange, v)
	case NSHFT:
		switch {
		case v >= -24 && v <= 24:
			return v + 24, nil
		case !relative && v > 24 && v <= 48:
			return v, nil
		}
		return 0, fmt.Errorf("%w: %d not in -24..48", ErrOutOfRange, v)
	}

	if v < info.min || v > info.max {
		return 0, fmt.Errorf("%w: %d not in %d..%d", ErrOutOfRange, v, info.min, info.max)
	}
	switch {
	case p == LINK && v == 0:
	case p == RXCH && v == 16:
		// the unit has no separate channel 16 setting; 16 selects omni
		return omni, nil
	case info.offset:
		v--
	}
	return v, nil
}

func charValue(value any) (int, error) {
	var code int
	switch v := value.(type) {
	case string:
		if len(v) != 1 {
			return 0, fmt.Errorf("%w: want a single character or a code 0-127", ErrBadValue)
		}
		code = int(v[0])
	case rune:
		code = int(v)
	default:
		n, err := toInt(v)
		if err != nil {
			return 0, err
		}
		code = n
	}
	if code < 0 || code > 127 {
		return 0, fmt.Errorf("%w: code %d not in 0..127", ErrOutOfRange, code)
	}
	return code, nil
}

// toInt accepts Go integers, JSON numbers and decimal strings.
func toInt(value any) (int, error) {
	switch v := value.(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrBadValue, v)
		}
		return n, nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%w: %v is not a whole number", ErrBadValue, v)
		}
	}
	n, err := cast.ToIntE(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadValue, err)
	}
	return n, nil
}
