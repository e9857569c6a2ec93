package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"tx802mcp/internal/perform"
)

// LoadState reads a saved tone generator state. A missing file yields nil,
// which perform.NewMirror treats as the INIT performance.
func LoadState(path string) (*perform.State, error) {
	st := &perform.State{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, st)
	default:
		_, err = toml.Decode(string(data), st)
	}
	if err != nil {
		return nil, fmt.Errorf("decode state %s: %w", path, err)
	}
	return st, nil
}

// SaveState writes st to path.
func SaveState(path string, st perform.State) error {
	var data []byte
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		out, err := yaml.Marshal(st)
		if err != nil {
			return fmt.Errorf("encode state: %w", err)
		}
		data = out
	default:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(st); err != nil {
			return fmt.Errorf("encode state: %w", err)
		}
		data = buf.Bytes()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, path)
}

// StateSaver persists mirror snapshots in the background, writing at most
// once per delay.
type StateSaver struct {
	path string
	deb  *Debouncer[perform.State]
}

// NewStateSaver starts a saver writing to path.
func NewStateSaver(path string, delay time.Duration, log *slog.Logger) *StateSaver {
	if log == nil {
		log = slog.Default()
	}
	s := &StateSaver{path: path}
	s.deb = NewDebouncer(delay, func(st perform.State) {
		if err := SaveState(path, st); err != nil {
			log.Warn("could not save tone generator state", "path", path, "err", err)
			return
		}
		log.Debug("tone generator state saved", "path", path)
	})
	return s
}

// Save schedules st to be written.
func (s *StateSaver) Save(st perform.State) {
	s.deb.Push(st)
}

// Close writes any pending state.
func (s *StateSaver) Close() {
	s.deb.Close()
}
