// Package config handles configuration loading, validation and persistence
// for tx802mcp.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"tx802mcp/internal/transfer"
)

// Config holds the complete tool configuration.
type Config struct {
	MIDI    MIDIConfig    `toml:"midi" json:"midi" yaml:"midi"`
	Timing  TimingConfig  `toml:"timing" json:"timing" yaml:"timing"`
	Library LibraryConfig `toml:"library" json:"library" yaml:"library"`
	State   StateConfig   `toml:"state" json:"state" yaml:"state"`
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// MIDIConfig selects the ports and the unit to talk to.
type MIDIConfig struct {
	// OutputPort and InputPort are a port number, a full name or a part of
	// a name. Empty picks the first port.
	OutputPort string `toml:"output_port" json:"output_port" yaml:"output_port"`
	InputPort  string `toml:"input_port" json:"input_port" yaml:"input_port"`

	// DeviceID is the unit's SysEx device number, 1-16.
	DeviceID int `toml:"device_id" json:"device_id" yaml:"device_id"`

	// Channel is the MIDI channel test notes are played on, 1-16.
	Channel int `toml:"channel" json:"channel" yaml:"channel"`
}

// TimingConfig holds the settle delays in milliseconds.
type TimingConfig struct {
	ParamDelayMs  int `toml:"param_delay_ms" json:"param_delay_ms" yaml:"param_delay_ms"`
	ButtonDelayMs int `toml:"button_delay_ms" json:"button_delay_ms" yaml:"button_delay_ms"`
	BankDelayMs   int `toml:"bank_delay_ms" json:"bank_delay_ms" yaml:"bank_delay_ms"`
	BlockDelayMs  int `toml:"block_delay_ms" json:"block_delay_ms" yaml:"block_delay_ms"`
	SettleMs      int `toml:"settle_ms" json:"settle_ms" yaml:"settle_ms"`
}

// LibraryConfig locates the patch library.
type LibraryConfig struct {
	Database string `toml:"database" json:"database" yaml:"database"`
}

// StateConfig controls where the tone generator mirror is kept.
type StateConfig struct {
	Path        string `toml:"path" json:"path" yaml:"path"`
	SaveDelayMs int    `toml:"save_delay_ms" json:"save_delay_ms" yaml:"save_delay_ms"`
}

// LoggingConfig selects the log level and format.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level" yaml:"level"`
	Format string `toml:"format" json:"format" yaml:"format"`
	// File, when set, receives the logs instead of stderr.
	File string `toml:"file,omitempty" json:"file,omitempty" yaml:"file,omitempty"`
}

// DefaultConfig returns a configuration with the unit's factory settings.
func DefaultConfig() *Config {
	dir := Dir()
	return &Config{
		MIDI: MIDIConfig{
			DeviceID: 1,
			Channel:  1,
		},
		Timing: TimingConfig{
			ParamDelayMs:  50,
			ButtonDelayMs: 100,
			BankDelayMs:   200,
			BlockDelayMs:  100,
			SettleMs:      1000,
		},
		Library: LibraryConfig{
			Database: filepath.Join(dir, "patches.db"),
		},
		State: StateConfig{
			Path:        filepath.Join(dir, "tg_state.toml"),
			SaveDelayMs: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Dir is the directory holding the configuration and state files.
func Dir() string {
	if d := os.Getenv("TX802_CONFIG_DIR"); d != "" {
		return d
	}
	base, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "tx802mcp")
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load reads configuration from path. A missing file yields the defaults.
// TOML and YAML are chosen by extension, TOML otherwise.
func Load(path string) (*Config, error) {
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

func loadConfigFromFile(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory if needed.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}

	var data []byte
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
		data = out
	default:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("encode TOML: %w", err)
		}
		data = buf.Bytes()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnvOverrides applies TX802_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TX802_OUTPUT_PORT"); v != "" {
		c.MIDI.OutputPort = v
	}
	if v := os.Getenv("TX802_INPUT_PORT"); v != "" {
		c.MIDI.InputPort = v
	}
	if v := os.Getenv("TX802_DEVICE_ID"); v != "" {
		if n, err := cast.ToIntE(v); err == nil {
			c.MIDI.DeviceID = n
		}
	}
	if v := os.Getenv("TX802_DATABASE"); v != "" {
		c.Library.Database = v
	}
	if v := os.Getenv("TX802_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TX802_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.MIDI.DeviceID < 1 || c.MIDI.DeviceID > 16 {
		errs = append(errs, fmt.Errorf("midi.device_id must be 1-16, got %d", c.MIDI.DeviceID))
	}
	if c.MIDI.Channel < 1 || c.MIDI.Channel > 16 {
		errs = append(errs, fmt.Errorf("midi.channel must be 1-16, got %d", c.MIDI.Channel))
	}
	t := c.Timing
	for name, v := range map[string]int{
		"param_delay_ms":  t.ParamDelayMs,
		"button_delay_ms": t.ButtonDelayMs,
		"bank_delay_ms":   t.BankDelayMs,
		"block_delay_ms":  t.BlockDelayMs,
		"settle_ms":       t.SettleMs,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("timing.%s must not be negative", name))
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not text or json", c.Logging.Format))
	}
	return errors.Join(errs...)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// ParamDelay is the pause after each parameter change.
func (t TimingConfig) ParamDelay() time.Duration { return ms(t.ParamDelayMs) }

// ButtonDelay is the pause after each button press.
func (t TimingConfig) ButtonDelay() time.Duration { return ms(t.ButtonDelayMs) }

// Transfer returns the transfer pauses, scaling the fixed ones with the
// configured bank delay.
func (t TimingConfig) Transfer() transfer.Timing {
	tt := transfer.DefaultTiming()
	tt.Press = ms(t.ButtonDelayMs)
	tt.AfterDump = ms(t.BankDelayMs)
	tt.ExitPress = ms(t.BankDelayMs)
	tt.AfterPrtct = ms(t.BankDelayMs)
	tt.Block = ms(t.BlockDelayMs)
	tt.Settle = ms(t.SettleMs)
	return tt
}
