package perform

import (
	"fmt"
	"log/slog"
	"time"

	"tx802mcp/internal/sysex"
)

// DefaultDelay is the settle time after each parameter change.
const DefaultDelay = 50 * time.Millisecond

// Editor sends parameter changes to one unit.
type Editor struct {
	Device int
	Delay  time.Duration
	Sleep  func(time.Duration)
	Log    *slog.Logger
	Mirror *Mirror
}

// Apply resolves and sends every edit in order. Failing edits are logged and
// skipped; the rest are still sent. The returned error, if any, is a
// *sysex.PartialFailure holding one *ParamError per failed edit.
func (e *Editor) Apply(out sysex.Sender, edits []Edit) ([]Change, error) {
	log := e.Log
	if log == nil {
		log = slog.Default()
	}
	sleep := e.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	if _, ok := sysex.DeviceByte(e.Device); !ok {
		log.Warn("invalid device id, using 1", "device", e.Device)
	}

	var applied []Change
	var errs []error
	for _, ed := range edits {
		c, err := Resolve(ed)
		if err != nil {
			log.Warn("skipping parameter", "err", err)
			errs = append(errs, err)
			continue
		}

		msg := c.Message(e.Device)
		log.Debug("PCED parameter change", "key", ed.Key, "param", c.Key, "internal", c.Internal, "msg", sysex.Hex(msg))
		if err := out.SendSysEx(msg); err != nil {
			err = &ParamError{Key: ed.Key, Value: ed.Value, Err: fmt.Errorf("send %s: %w", c.Key, err)}
			log.Error("parameter change failed", "err", err)
			errs = append(errs, err)
			continue
		}
		applied = append(applied, c)
		if e.Mirror != nil {
			e.Mirror.Record(c)
		}
		if e.Delay > 0 {
			sleep(e.Delay)
		}
	}

	log.Info("performance edit finished", "sent", len(applied), "failed", len(errs))
	return applied, sysex.Collect("edit performance", len(edits), errs)
}
