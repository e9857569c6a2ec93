package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tx802mcp/internal/config"
	"tx802mcp/internal/device"
	"tx802mcp/internal/logging"
	"tx802mcp/internal/perform"
	"tx802mcp/internal/remote"
	"tx802mcp/internal/store"
	"tx802mcp/internal/transfer"
	"tx802mcp/internal/voice"
)

// app carries everything a command needs. Resources are opened on first
// use and released by close.
type app struct {
	cfgPath string
	log     *slog.Logger
	tx      *device.TX802

	mu     sync.RWMutex
	cfg    *config.Config
	mirror *perform.Mirror
	saver  *config.StateSaver
	lib    *store.Store

	closers []func()

	// port openers, replaced in tests
	openOut func(hint string) (device.Out, func(), error)
	openIn  func(hint string) (device.Listener, error)
}

// newApp loads the configuration, applies the global flags and sets up
// logging.
func newApp() (*app, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if *outPort != "" {
		cfg.MIDI.OutputPort = *outPort
	}
	if *inPort != "" {
		cfg.MIDI.InputPort = *inPort
	}
	if *deviceID != 0 {
		cfg.MIDI.DeviceID = *deviceID
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lcfg, err := logging.FromStrings(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	lcfg.FilePath = cfg.Logging.File
	log, closeLog, err := logging.New(lcfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	log.Debug("logging configured", "level", logging.LevelString(lcfg.Level), "file", lcfg.FilePath)

	a := newAppWith(cfg, log, nil)
	a.cfgPath = *configPath
	a.closers = append(a.closers, func() { _ = closeLog() })
	return a, nil
}

func newAppWith(cfg *config.Config, log *slog.Logger, out device.Out) *app {
	tx := device.New(out, cfg.MIDI.DeviceID)
	tx.Channel = uint8(cfg.MIDI.Channel - 1)
	tx.Log = log
	return &app{cfg: cfg, log: log, tx: tx, openOut: device.OpenOut, openIn: openListener}
}

func openListener(hint string) (device.Listener, error) {
	in, err := device.FindInPort(hint)
	if err != nil {
		return nil, err
	}
	return device.ListenPort(in), nil
}

func (a *app) addCloser(fn func()) {
	a.mu.Lock()
	a.closers = append(a.closers, fn)
	a.mu.Unlock()
}

func (a *app) config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// setConfig installs a reloaded configuration. Port and device changes
// only take effect on restart.
func (a *app) setConfig(cfg *config.Config) {
	a.mu.Lock()
	old := a.cfg
	if cfg.MIDI != old.MIDI {
		a.log.Warn("MIDI settings changed, restart to apply them")
		cfg.MIDI = old.MIDI
	}
	a.cfg = cfg
	a.mu.Unlock()
	a.log.Info("configuration reloaded")
}

// connect opens the configured output port.
func (a *app) connect() error {
	out, closer, err := a.openOut(a.config().MIDI.OutputPort)
	if err != nil {
		return err
	}
	if err := a.tx.SetOutput(out); err != nil {
		closer()
		return err
	}
	a.addCloser(closer)
	a.log.Info("connected", "output", out, "device_id", a.tx.Device)
	return nil
}

// listener opens the configured input port.
func (a *app) listener() (device.Listener, error) {
	return a.openIn(a.config().MIDI.InputPort)
}

// retarget moves a forwarder to the ports named in next. Ports that did not
// change are left alone.
func (a *app) retarget(fw *device.Forwarder, prev, next config.MIDIConfig) error {
	var errs []error
	if next.OutputPort != prev.OutputPort {
		out, closer, err := a.openOut(next.OutputPort)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("output %q: %w", next.OutputPort, err))
		default:
			if err := fw.SwapOutput(out); err != nil {
				closer()
				errs = append(errs, fmt.Errorf("output %q: %w", next.OutputPort, err))
				break
			}
			a.addCloser(closer)
			a.log.Info("forwarding to new output", "port", next.OutputPort)
		}
	}
	if next.InputPort != prev.InputPort {
		listen, err := a.openIn(next.InputPort)
		if err == nil {
			err = fw.SwapInput(listen)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("input %q: %w", next.InputPort, err))
		} else {
			a.log.Info("forwarding from new input", "port", next.InputPort)
		}
	}
	return errors.Join(errs...)
}

func (a *app) library() (*store.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lib != nil {
		return a.lib, nil
	}
	lib, err := store.Open(a.cfg.Library.Database)
	if err != nil {
		return nil, err
	}
	a.lib = lib
	return lib, nil
}

// tgMirror returns the tone generator mirror, restored from disk on first
// use and saved in the background after every change.
func (a *app) tgMirror() *perform.Mirror {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mirror != nil {
		return a.mirror
	}
	st, err := config.LoadState(a.cfg.State.Path)
	if err != nil {
		a.log.Warn("ignoring saved tone generator state", "err", err)
		st = nil
	}
	a.mirror = perform.NewMirror(st)
	if a.cfg.State.Path != "" {
		a.saver = config.NewStateSaver(a.cfg.State.Path, time.Duration(a.cfg.State.SaveDelayMs)*time.Millisecond, a.log)
		a.mirror.OnChange(a.saver.Save)
	}
	return a.mirror
}

func (a *app) close() {
	a.mu.Lock()
	saver, lib, closers := a.saver, a.lib, a.closers
	a.saver, a.lib, a.closers = nil, nil, nil
	a.mu.Unlock()

	if saver != nil {
		saver.Close()
	}
	if lib != nil {
		if err := lib.Close(); err != nil {
			a.log.Warn("closing library", "err", err)
		}
	}
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

func (a *app) orchestrator() *transfer.Orchestrator {
	t := a.config().Timing.Transfer()
	return &transfer.Orchestrator{Timing: &t, Log: a.log}
}

func (a *app) panel(s *device.Session) *remote.Panel {
	return &remote.Panel{
		Device: s.Device(),
		Delay:  a.config().Timing.ButtonDelay(),
		Sleep:  s.Sleep,
		Log:    a.log,
	}
}

// sendDump classifies data and runs the matching transfer.
func (a *app) sendDump(data []byte, stopAfter int) (*transfer.Result, error) {
	s, err := a.tx.Acquire("transfer")
	if err != nil {
		return nil, err
	}
	defer s.Release()
	return a.orchestrator().Send(s, data, stopAfter)
}

// sendLibraryVoice sends a stored voice to the edit buffer.
func (a *app) sendLibraryVoice(id int64) (*store.Patch, *transfer.Result, error) {
	lib, err := a.library()
	if err != nil {
		return nil, nil, err
	}
	p, err := lib.Get(id)
	if err != nil {
		return nil, nil, err
	}
	res, err := a.sendDump(p.SysEx, 0)
	return p, res, err
}

// edit sends performance parameter changes and records them in the mirror.
func (a *app) edit(edits []perform.Edit) ([]perform.Change, error) {
	mirror := a.tgMirror()
	s, err := a.tx.Acquire("edit")
	if err != nil {
		return nil, err
	}
	defer s.Release()
	e := &perform.Editor{
		Device: s.Device(),
		Delay:  a.config().Timing.ParamDelay(),
		Sleep:  s.Sleep,
		Log:    a.log,
		Mirror: mirror,
	}
	return e.Apply(s, edits)
}

// restoreTG sends the mirrored state of tg again, or of every TG when tg
// is 0. Useful after the unit was power cycled.
func (a *app) restoreTG(tg int) ([]perform.Change, error) {
	m := a.tgMirror()
	var edits []perform.Edit
	if tg != 0 {
		if _, ok := m.TG(tg); !ok {
			return nil, fmt.Errorf("tone generator must be 1-%d, got %d", perform.ToneGenerators, tg)
		}
		edits = m.Edits(tg)
	} else {
		for i := 1; i <= perform.ToneGenerators; i++ {
			edits = append(edits, m.Edits(i)...)
		}
	}
	return a.edit(edits)
}

// press runs button commands, one per item.
func (a *app) press(items []string) error {
	s, err := a.tx.Acquire("press")
	if err != nil {
		return err
	}
	defer s.Release()
	return a.panel(s).RunList(s, items)
}

// initUnit resets the unit into a known state.
func (a *app) initUnit() error {
	return a.press(remote.StartupSequence)
}

// play plays notes, or the confirmation melody when text is empty.
func (a *app) play(text string) error {
	s, err := a.tx.Acquire("play")
	if err != nil {
		return err
	}
	defer s.Release()
	if text == "" {
		return s.PlayConfirmation()
	}
	return s.PlayText(text)
}

// getVoice reads the unit's voice edit buffer.
func (a *app) getVoice(ctx context.Context, listen device.Listener) (voice.Unpacked, error) {
	s, err := a.tx.Acquire("voice dump")
	if err != nil {
		return voice.Unpacked{}, err
	}
	defer s.Release()
	return s.RequestVoice(ctx, listen)
}

// setVoice sends p to the voice edit buffer.
func (a *app) setVoice(p voice.Params) (*transfer.Result, error) {
	v, err := p.Unpacked()
	if err != nil {
		return nil, err
	}
	return a.sendDump(voice.NewSingleMessage(v), 0)
}

// busy reports whether err means another operation holds the unit.
func busy(err error) bool {
	return errors.Is(err, device.ErrBusy)
}
