package remote

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tx802mcp/internal/sysex"
)

type recorder struct {
	codes []byte
	fail  map[byte]error
	// failAt makes the nth send (1-based) fail.
	failAt int
	sends  int
}

func (r *recorder) SendSysEx(data []byte) error {
	r.sends++
	if r.sends == r.failAt {
		return errors.New("send dropped")
	}
	if err, ok := r.fail[data[4]]; ok {
		return err
	}
	r.codes = append(r.codes, data[4])
	return nil
}

func names(taps []Tap) []string {
	var out []string
	for _, t := range taps {
		for i := 0; i < t.Count; i++ {
			out = append(out, t.Button)
		}
	}
	return out
}

func count(s []string, v string) int {
	n := 0
	for _, x := range s {
		if x == v {
			n++
		}
	}
	return n
}

func TestButtonCodes(t *testing.T) {
	c, ok := ButtonCode("tg8")
	require.True(t, ok)
	assert.Equal(t, byte(96), c)

	a, _ := ButtonCode("YES")
	b, _ := ButtonCode("PLUS_ONE")
	assert.Equal(t, a, b)

	_, ok = ButtonCode("SHIFT")
	assert.False(t, ok)
	assert.Contains(t, Buttons(), "VOICE_SELECT")
}

func TestRemoteSwitchMessage(t *testing.T) {
	assert.Equal(t, []byte{0xF0, 0x43, 0x10, 0x1B, 82, 0x00, 0xF7}, sysex.RemoteSwitch(1, 82))
}

func TestEncodeTextCaseAndCursor(t *testing.T) {
	e := EncodeText("Ab 1")
	assert.False(t, e.Truncated)
	assert.Empty(t, e.Unsupported)

	taps := e.Taps
	assert.Equal(t, Tap{"CURSOR_LEFT", 19}, taps[0])
	assert.Equal(t, []Tap{
		{"UPPERCASE", 1}, {"0", 2}, {"CURSOR_RIGHT", 1},
		{"LOWERCASE", 1}, {"0", 3}, {"CURSOR_RIGHT", 1},
		{"SPACE", 1},
		{"1", 1}, {"CURSOR_RIGHT", 1},
	}, taps[1:10])

	all := names(taps)
	assert.Equal(t, 1, count(all, "UPPERCASE"))
	assert.Equal(t, 1, count(all, "LOWERCASE"))
	// 'A', 'b', '1' get a cursor move; the 16 padding spaces and the
	// explicit space do not
	assert.Equal(t, 3, count(all, "CURSOR_RIGHT"))
	assert.Equal(t, 17, count(all, "SPACE"))
}

func TestEncodeTextTruncatesAndSubstitutes(t *testing.T) {
	e := EncodeText("ABCDEFGHIJKLMNOPQRSTUV")
	assert.True(t, e.Truncated)
	all := names(e.Taps)
	// no cursor move after the 20th character
	assert.Equal(t, 19, count(all, "CURSOR_RIGHT"))
	assert.Equal(t, 1, count(all, "UPPERCASE"))

	e = EncodeText("a*b")
	assert.Equal(t, []rune{'*'}, e.Unsupported)
	assert.Contains(t, e.Taps, Tap{"DASH", 3})
}

func TestEncodeTextLetters(t *testing.T) {
	assert.Equal(t, Tap{"0", 2}, keyTaps['a'])
	assert.Equal(t, Tap{"0", 4}, keyTaps['c'])
	assert.Equal(t, Tap{"1", 2}, keyTaps['D'])
	assert.Equal(t, Tap{"8", 2}, keyTaps['y'])
	assert.Equal(t, Tap{"8", 3}, keyTaps['z'])
	assert.Equal(t, Tap{"8", 4}, keyTaps['!'])
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		want Command
	}{
		{"tg3", Command{Kind: KindPress, Button: "TG3", Code: 91, Repeat: 1}},
		{" CURSOR_LEFT=4 ", Command{Kind: KindPress, Button: "CURSOR_LEFT", Code: 75, Repeat: 4}},
		{"CODE=81", Command{Kind: KindCode, Code: 81, Repeat: 1}},
		{"TEXT=Lead Split", Command{Kind: KindText, Text: "Lead Split"}},
		{"WAIT", Command{Kind: KindWait, Wait: time.Second}},
		{"WAIT=3", Command{Kind: KindWait, Wait: 3 * time.Second}},
		{"POS1", Command{Kind: KindPos1}},
		{"PRTCT_OFF=1", Command{Kind: KindProtectOff}},
		{"prtct_on", Command{Kind: KindProtectOn}},
	}
	for _, tc := range cases {
		got, err := ParseCommand(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseCommand("SHIFT")
	assert.ErrorIs(t, err, ErrUnknownButton)
	for _, bad := range []string{"CODE=128", "CODE=-1", "CODE", "TG1=0", "TG1=x", "WAIT=soon", "TEXT"} {
		_, err := ParseCommand(bad)
		assert.ErrorIs(t, err, ErrBadCommand, bad)
	}
}

func TestMacroSteps(t *testing.T) {
	steps, _, _ := Command{Kind: KindProtectOff}.Steps()
	var codes []byte
	for _, s := range steps {
		codes = append(codes, s.Code)
	}
	assert.Equal(t, []byte{83, 96, 78}, codes)

	steps, _, _ = Command{Kind: KindPos1}.Steps()
	assert.Len(t, steps, 19)
	for _, s := range steps {
		assert.Equal(t, byte(75), s.Code)
	}
}

func TestPanelRun(t *testing.T) {
	out := &recorder{}
	var slept []time.Duration
	p := &Panel{Device: 1, Delay: DefaultDelay, Sleep: func(d time.Duration) { slept = append(slept, d) }}

	require.NoError(t, p.RunString(out, "VOICE_SELECT, PLUS_ONE=2, WAIT=2, PRTCT_ON"))
	assert.Equal(t, []byte{82, 79, 79, 83, 96, 79}, out.codes)
	assert.Contains(t, slept, 2*time.Second)
	assert.Equal(t, 6, count(durations(slept), DefaultDelay.String()))
}

func durations(ds []time.Duration) []string {
	var out []string
	for _, d := range ds {
		out = append(out, d.String())
	}
	return out
}

func TestPanelPartialFailure(t *testing.T) {
	boom := errors.New("port gone")
	out := &recorder{fail: map[byte]error{91: boom}}
	p := &Panel{Sleep: func(time.Duration) {}}

	err := p.RunString(out, "TG1, SHIFT, TG3, TG4")
	require.Error(t, err)

	var pf *sysex.PartialFailure
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, 4, pf.Total)
	assert.Len(t, pf.Errors, 2)
	assert.ErrorIs(t, err, ErrUnknownButton)
	assert.ErrorIs(t, err, boom)

	// the sequence continued past both failures
	assert.Equal(t, []byte{89, 92}, out.codes)
}

func TestPanelText(t *testing.T) {
	out := &recorder{}
	p := &Panel{Sleep: func(time.Duration) {}}
	require.NoError(t, p.Run(out, []Command{{Kind: KindText, Text: "Ab"}}))

	steps, _, _ := Command{Kind: KindText, Text: "Ab"}.Steps()
	assert.Len(t, out.codes, len(steps))
	assert.Equal(t, byte(75), out.codes[0])
}

func TestPanelPressFailureContinuesCommand(t *testing.T) {
	p := &Panel{Sleep: func(time.Duration) {}}

	out := &recorder{failAt: 2}
	err := p.RunString(out, "PRTCT_OFF")
	require.Error(t, err)
	var pf *sysex.PartialFailure
	require.ErrorAs(t, err, &pf)
	assert.Len(t, pf.Errors, 1)
	// SYSTEM_SETUP and NO still went out around the failed TG8
	assert.Equal(t, []byte{83, 78}, out.codes)

	steps, _, _ := Command{Kind: KindText, Text: "Ab"}.Steps()
	out = &recorder{failAt: 2}
	require.Error(t, p.Run(out, []Command{{Kind: KindText, Text: "Ab"}}))
	assert.Len(t, out.codes, len(steps)-1)

	out = &recorder{failAt: 1}
	require.Error(t, p.RunString(out, "PLUS_ONE=3"))
	assert.Equal(t, []byte{79, 79}, out.codes)
}

func TestStartupSequenceParses(t *testing.T) {
	cmds, errs := ParseList(StartupSequence)
	assert.Empty(t, errs)
	assert.Len(t, cmds, len(StartupSequence))
}
