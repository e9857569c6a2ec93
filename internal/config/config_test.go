package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tx802mcp/internal/perform"
)

func TestDefaultConfigIsValid(t *testing.T) {
	t.Setenv("TX802_CONFIG_DIR", t.TempDir())
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.MIDI.DeviceID)
	assert.Equal(t, "patches.db", filepath.Base(cfg.Library.Database))
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TX802_CONFIG_DIR", dir)
	cfg, err := Load(filepath.Join(dir, "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TX802_CONFIG_DIR", dir)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[midi]
output_port = "UM-ONE"
device_id = 3

[timing]
param_delay_ms = 20
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "UM-ONE", cfg.MIDI.OutputPort)
	assert.Equal(t, 3, cfg.MIDI.DeviceID)
	assert.Equal(t, 20*time.Millisecond, cfg.Timing.ParamDelay())
	// untouched keys keep their defaults
	assert.Equal(t, 100, cfg.Timing.ButtonDelayMs)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TX802_CONFIG_DIR", dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("midi:\n  input_port: \"2\"\nlogging:\n  format: json\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "2", cfg.MIDI.InputPort)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TX802_CONFIG_DIR", dir)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[midi]\ndevice_id = 17\n"), 0600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "device_id")
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TX802_CONFIG_DIR", dir)
	t.Setenv("TX802_OUTPUT_PORT", "TX802 Out")
	t.Setenv("TX802_DEVICE_ID", "5")
	t.Setenv("TX802_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "TX802 Out", cfg.MIDI.OutputPort)
	assert.Equal(t, 5, cfg.MIDI.DeviceID)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TX802_CONFIG_DIR", dir)
	for _, name := range []string{"a.toml", "b.yaml"} {
		path := filepath.Join(dir, "sub", name)
		cfg := DefaultConfig()
		cfg.MIDI.OutputPort = "USB MIDI"
		cfg.Timing.SettleMs = 1500
		require.NoError(t, Save(cfg, path))

		got, err := Load(path)
		require.NoError(t, err, name)
		assert.Equal(t, cfg, got, name)
	}
}

func TestTransferTiming(t *testing.T) {
	tc := TimingConfig{ButtonDelayMs: 10, BankDelayMs: 20, BlockDelayMs: 30, SettleMs: 40}
	tt := tc.Transfer()
	assert.Equal(t, 10*time.Millisecond, tt.Press)
	assert.Equal(t, 20*time.Millisecond, tt.AfterDump)
	assert.Equal(t, 30*time.Millisecond, tt.Block)
	assert.Equal(t, 40*time.Millisecond, tt.Settle)
	assert.Equal(t, 500*time.Millisecond, tt.Recover)
}

func TestLoaderWatchReloads(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TX802_CONFIG_DIR", dir)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[midi]\ndevice_id = 2\n"), 0600))

	l := NewLoader(path)
	defer l.Close()
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MIDI.DeviceID)

	var mu sync.Mutex
	var seen int
	l.OnChange(func(c *Config) {
		mu.Lock()
		seen = c.MIDI.DeviceID
		mu.Unlock()
	})
	require.NoError(t, l.Watch())

	require.NoError(t, os.WriteFile(path, []byte("[midi]\ndevice_id = 9\n"), 0600))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen == 9
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 9, l.Config().MIDI.DeviceID)
}

func TestLoaderReportsBadReload(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TX802_CONFIG_DIR", dir)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[midi]\ndevice_id = 2\n"), 0600))

	l := NewLoader(path)
	defer l.Close()
	_, err := l.Load()
	require.NoError(t, err)
	require.NoError(t, l.Watch())

	require.NoError(t, os.WriteFile(path, []byte("[midi\n"), 0600))
	select {
	case err := <-l.Errors():
		assert.ErrorContains(t, err, "reload")
	case <-time.After(3 * time.Second):
		t.Fatal("no reload error reported")
	}
	assert.Equal(t, 2, l.Config().MIDI.DeviceID)
}

func TestDebouncerCollapses(t *testing.T) {
	var mu sync.Mutex
	var calls []int
	d := NewDebouncer(50*time.Millisecond, func(v int) {
		mu.Lock()
		calls = append(calls, v)
		mu.Unlock()
	})
	for i := 1; i <= 5; i++ {
		d.Push(i)
	}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, time.Second, 10*time.Millisecond)
	d.Close()
	assert.Equal(t, []int{5}, calls)
}

func TestDebouncerCloseFlushes(t *testing.T) {
	var got []string
	d := NewDebouncer(time.Hour, func(v string) { got = append(got, v) })
	d.Push("a")
	d.Push("b")
	d.Close()
	assert.Equal(t, []string{"b"}, got)

	d.Push("late")
	d.Close()
	assert.Equal(t, []string{"b"}, got)
}

func TestStateRoundTrip(t *testing.T) {
	dir := t.TempDir()

	st, err := LoadState(filepath.Join(dir, "missing.toml"))
	require.NoError(t, err)
	assert.Nil(t, st)

	m := perform.NewMirror(nil)
	m.Record(perform.Change{Param: perform.OUTVOL, Index: 2, Internal: 75})

	for _, name := range []string{"tg.toml", "tg.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, SaveState(path, m.Snapshot()))

		loaded, err := LoadState(path)
		require.NoError(t, err)
		restored := perform.NewMirror(loaded)
		tg, _ := restored.TG(2)
		assert.Equal(t, "75", tg.OutVol, name)
	}
}

func TestStateSaver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "tg.toml")
	s := NewStateSaver(path, time.Hour, nil)

	m := perform.NewMirror(nil)
	m.OnChange(s.Save)
	m.Record(perform.Change{Param: perform.FDAMP, Index: 4, Internal: 1})
	s.Close()

	loaded, err := LoadState(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "On", loaded.TGs[3].FDamp)
}
