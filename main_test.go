package main

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"tx802mcp/internal/bank"
	"tx802mcp/internal/config"
	"tx802mcp/internal/device"
	"tx802mcp/internal/perform"
	"tx802mcp/internal/store"
	"tx802mcp/internal/voice"
)

type recordOut struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (r *recordOut) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, append([]byte(nil), data...))
	return nil
}

func (r *recordOut) sent() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.msgs...)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func testApp(t *testing.T) (*app, *recordOut) {
	t.Helper()
	t.Setenv("TX802_CONFIG_DIR", t.TempDir())
	cfg := config.DefaultConfig()
	cfg.State.SaveDelayMs = 0
	out := &recordOut{}
	a := newAppWith(cfg, quiet, out)
	a.tx.Sleep = func(time.Duration) {}
	t.Cleanup(a.close)
	return a, out
}

// singleVoice returns a single voice dump whose sound differs per alg.
func singleVoice(name string, alg byte) []byte {
	v := voice.InitVoice()
	v[134] = alg
	v.SetName(name)
	return voice.NewSingleMessage(v)
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func openLibrary(t *testing.T) *store.Store {
	t.Helper()
	lib, err := store.Open(filepath.Join(t.TempDir(), "patches.db"))
	require.NoError(t, err)
	t.Cleanup(func() { lib.Close() })
	return lib
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs(" 3, 1,,42 ")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 42}, ids)

	_, err = parseIDs("1,two")
	assert.Error(t, err)
}

func TestCreateAndExtractBank(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "brass.syx")
	b := filepath.Join(dir, "strings.syx")
	writeFile(t, a, singleVoice("BRASS 1", 21))
	writeFile(t, b, singleVoice("STRINGS", 1))

	sources, errs := fileSources([]string{a, filepath.Join(dir, "missing.syx"), b})
	assert.Len(t, errs, 1)

	out := filepath.Join(dir, "bank.syx")
	asm, err := createBank(quiet, sources, out)
	require.NoError(t, err)
	assert.Equal(t, 2, asm.Voices)
	assert.Equal(t, "INIT 03", asm.Names[2])

	lib := openLibrary(t)
	res, err := extractBank(quiet, out, filepath.Join(dir, "voices"), lib, "test", false)
	require.NoError(t, err)
	assert.Equal(t, 32, res.Voices)
	assert.Equal(t, 32, res.Written)
	// the INIT padding voices share one sound
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 29, res.Duplicates)

	p, err := lib.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "BRASS 1", p.Name)
	assert.Equal(t, "bank.syx", p.BankFile)
	assert.Equal(t, "test", p.Origin)
	assert.FileExists(t, filepath.Join(dir, "voices", "STRINGS.syx"))
}

func TestExtractBankValidateOnly(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "bank.syx")
	_, err := createBank(quiet, []bank.Source{{Name: "x", Message: singleVoice("X", 3)}}, out)
	require.NoError(t, err)

	res, err := extractBank(quiet, out, "", nil, "", false)
	require.NoError(t, err)
	assert.Equal(t, 32, res.Voices)
	assert.Zero(t, res.Written)
	assert.Zero(t, res.Inserted)
}

func makeBank(t *testing.T, path string, algs ...byte) {
	t.Helper()
	var sources []bank.Source
	for _, alg := range algs {
		sources = append(sources, bank.Source{Message: singleVoice("V", alg)})
	}
	_, err := createBank(quiet, sources, path)
	require.NoError(t, err)
}

func TestImportFolder(t *testing.T) {
	root := t.TempDir()
	makeBank(t, filepath.Join(root, "factory", "rom1a.SYX"), 1, 2)
	makeBank(t, filepath.Join(root, "loose.syx"), 3)
	writeFile(t, filepath.Join(root, "broken", "bad.syx"), []byte{0xF0, 0x43, 0xF7})
	writeFile(t, filepath.Join(root, "factory", "notes.txt"), []byte("not a bank"))

	lib := openLibrary(t)
	res, err := importFolder(quiet, root, lib, "", false, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 3, res.Inserted)

	p, err := lib.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "factory", p.Origin)
	assert.Equal(t, "rom1a.SYX", p.BankFile)
}

func TestImportFolderDryRun(t *testing.T) {
	root := t.TempDir()
	makeBank(t, filepath.Join(root, "a", "one.syx"), 1)
	makeBank(t, filepath.Join(root, "b", "two.syx"), 2)

	res, err := importFolder(quiet, root, nil, "", false, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 2, res.Imported)
	assert.Zero(t, res.Inserted)
}

func TestImportFolderAllFail(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "x", "bad.syx"), []byte{0xF0, 0xF7})
	_, err := importFolder(quiet, root, openLibrary(t), "", false, false)
	assert.Error(t, err)
}

func TestSurpriseBank(t *testing.T) {
	lib := openLibrary(t)
	out := filepath.Join(t.TempDir(), "surprise.syx")

	_, err := surpriseBank(quiet, lib, 32, out)
	assert.Error(t, err)

	for i := 0; i < 5; i++ {
		v, err := voice.VerifySingle(singleVoice("RANDOM", byte(i)))
		require.NoError(t, err)
		_, err = lib.Insert(&store.Patch{Name: "RANDOM", BankFile: "x.syx", Hash: v.Hash(), SysEx: singleVoice("RANDOM", byte(i))})
		require.NoError(t, err)
	}

	asm, err := surpriseBank(quiet, lib, 40, out)
	require.NoError(t, err)
	assert.Equal(t, 5, asm.Voices)
	assert.Equal(t, 27, asm.Padding)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NoError(t, voice.VerifyBank(data))
}

func toolRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func toolText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestHandleEdit(t *testing.T) {
	a, out := testApp(t)

	res, err := a.handleEdit(t.Context(), toolRequest(map[string]any{"params": "OUTVOL2=75,BOGUS1=3"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, toolText(t, res), "Partially applied")
	assert.Contains(t, toolText(t, res), "OUTVOL2 = 75")

	assert.Equal(t, [][]byte{{0xF0, 0x43, 0x10, 0x1A, 0x21, 0x4B, 0xF7}}, out.sent())

	tg, _ := a.tgMirror().TG(2)
	assert.Equal(t, "75", tg.OutVol)
}

func TestHandleEditBusy(t *testing.T) {
	a, out := testApp(t)
	s, err := a.tx.Acquire("test")
	require.NoError(t, err)
	defer s.Release()

	res, err := a.handleEdit(t.Context(), toolRequest(map[string]any{"params": "OUTVOL1=10"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, toolText(t, res), "busy")
	assert.Empty(t, out.sent())
}

func TestHandleEditMissingParams(t *testing.T) {
	a, _ := testApp(t)
	res, err := a.handleEdit(t.Context(), toolRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleSendFile(t *testing.T) {
	a, out := testApp(t)
	path := filepath.Join(t.TempDir(), "bank.syx")
	makeBank(t, path, 4, 5, 6)

	res, err := a.handleSendFile(t.Context(), toolRequest(map[string]any{"path": path}))
	require.NoError(t, err)
	assert.False(t, res.IsError, toolText(t, res))
	assert.Contains(t, toolText(t, res), "done")

	var dumps int
	for _, m := range out.sent() {
		if len(m) == voice.BankMessageSize {
			dumps++
		}
	}
	assert.Equal(t, 1, dumps)
}

func TestHandleSendFileRejectsGarbage(t *testing.T) {
	a, out := testApp(t)
	path := filepath.Join(t.TempDir(), "junk.syx")
	writeFile(t, path, []byte{0xF0, 0x41, 0x10, 0x42, 0x12, 0x00, 0xF7})

	res, err := a.handleSendFile(t.Context(), toolRequest(map[string]any{"path": path}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Empty(t, out.sent())
}

func TestHandlePress(t *testing.T) {
	a, out := testApp(t)
	res, err := a.handlePress(t.Context(), toolRequest(map[string]any{"sequence": "VOICE_SELECT, PLUS_ONE=2"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var codes []byte
	for _, m := range out.sent() {
		codes = append(codes, m[4])
	}
	assert.Equal(t, []byte{82, 79, 79}, codes)
}

func TestHandleTGState(t *testing.T) {
	a, _ := testApp(t)
	_, err := a.edit([]perform.Edit{{Key: "PAN3", Value: "Left"}})
	require.NoError(t, err)

	res, err := a.handleTGState(t.Context(), toolRequest(map[string]any{"tg": 3}))
	require.NoError(t, err)
	assert.Contains(t, toolText(t, res), `"pan": "Left"`)

	res, err = a.handleTGState(t.Context(), toolRequest(map[string]any{"tg": 9}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestTGStatePersists(t *testing.T) {
	a, _ := testApp(t)
	_, err := a.edit([]perform.Edit{{Key: "FDAMP5", Value: "On"}})
	require.NoError(t, err)
	path := a.config().State.Path
	a.close()

	st, err := config.LoadState(path)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "On", st.TGs[4].FDamp)
}

func TestTGStateText(t *testing.T) {
	m := perform.NewMirror(nil)
	text, err := tgStateText(m, 0)
	require.NoError(t, err)
	assert.Contains(t, text, "TG1:")
	assert.Contains(t, text, "TG8:")

	_, err = tgStateText(m, 9)
	assert.Error(t, err)
}

func TestDocTool(t *testing.T) {
	a, _ := testApp(t)
	res, err := a.docToolHandler(t.Context(), toolRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, toolText(t, res), "REMOTE SWITCH")
}

func TestSetConfigKeepsMIDI(t *testing.T) {
	a, _ := testApp(t)
	cfg := config.DefaultConfig()
	cfg.MIDI.DeviceID = 7
	cfg.Timing.ButtonDelayMs = 5
	a.setConfig(cfg)
	assert.Equal(t, 1, a.config().MIDI.DeviceID)
	assert.Equal(t, 5, a.config().Timing.ButtonDelayMs)
}

func TestHandleRestoreTG(t *testing.T) {
	a, out := testApp(t)
	_, err := a.edit([]perform.Edit{{Key: "OUTVOL3", Value: 40}, {Key: "RXCH3", Value: 16}})
	require.NoError(t, err)
	before := len(out.sent())

	res, err := a.handleRestoreTG(t.Context(), toolRequest(map[string]any{"tg": 3}))
	require.NoError(t, err)
	assert.False(t, res.IsError, toolText(t, res))

	restored := out.sent()[before:]
	assert.Len(t, restored, 10)
	assert.Contains(t, restored, []byte{0xF0, 0x43, 0x10, 0x1A, 0x22, 0x28, 0xF7})
	// omni survives the round trip through the mirror
	assert.Contains(t, restored, []byte{0xF0, 0x43, 0x10, 0x1A, 0x0A, 0x10, 0xF7})

	res, err = a.handleRestoreTG(t.Context(), toolRequest(map[string]any{"tg": 12}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

// fakeIn stands in for an input port.
type fakeIn struct {
	mu      sync.Mutex
	handler func(midi.Message)
}

func (f *fakeIn) listen(h func(midi.Message)) (func(), error) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
	return func() {}, nil
}

func (f *fakeIn) send(msg midi.Message) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(msg)
}

func TestRetargetForwarder(t *testing.T) {
	a, first := testApp(t)
	second := &recordOut{}
	in1, in2 := &fakeIn{}, &fakeIn{}
	closed := 0
	a.openOut = func(hint string) (device.Out, func(), error) {
		if hint != "UM-ONE" {
			return nil, nil, errors.New("no such port")
		}
		return second, func() { closed++ }, nil
	}
	a.openIn = func(hint string) (device.Listener, error) {
		return in2.listen, nil
	}

	fw := device.NewForwarder(a.tx, in1.listen)
	require.NoError(t, fw.Start(t.Context()))
	defer fw.Stop()

	prev := a.config().MIDI
	next := prev
	next.OutputPort, next.InputPort = "UM-ONE", "Keystation"
	require.NoError(t, a.retarget(fw, prev, next))

	in2.send(midi.NoteOn(0, 60, 100))
	assert.Eventually(t, func() bool { return len(second.sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, first.sent())

	bad := next
	bad.OutputPort = "missing"
	assert.Error(t, a.retarget(fw, next, bad))
	assert.True(t, fw.Running())

	// unchanged ports are not reopened
	require.NoError(t, a.retarget(fw, next, next))
	a.close()
	assert.Equal(t, 1, closed)
}
