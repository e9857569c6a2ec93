package bank

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kennygrant/sanitize"
	"github.com/pkg/errors"

	"tx802mcp/internal/sysex"
	"tx802mcp/internal/voice"
)

const maxFileName = 200

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
}

func init() {
	for i := 1; i <= 9; i++ {
		reservedNames[fmt.Sprintf("COM%d", i)] = true
		reservedNames[fmt.Sprintf("LPT%d", i)] = true
	}
}

// SafeFileName turns a voice name into a portable file base name. It never
// fails: unusable names return fallback.
func SafeFileName(name, fallback string) string {
	s := sanitize.BaseName(strings.TrimSpace(name))
	s = strings.Trim(s, "-")
	if s == "" || reservedNames[strings.ToUpper(s)] || strings.Trim(s, ".") == "" {
		return fallback
	}
	if len(s) > maxFileName {
		s = s[:maxFileName]
	}
	return s
}

// LibraryName maps characters the unit shows differently from ASCII. 0x5C
// is a yen sign on the display.
func LibraryName(name string) string {
	return strings.ReplaceAll(name, `\`, "Y")
}

// WriteSlots writes every valid slot to dir as <name>.syx, reads each file
// back to verify it, and optionally writes a <name>_report.txt next to it.
// It returns the number of voice files written.
func WriteSlots(dir string, slots []Slot, report bool) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, errors.Wrapf(err, "creating %s", dir)
	}

	used := make(map[string]int)
	written := 0
	var errs []error
	for _, s := range slots {
		if s.Err != nil {
			continue
		}
		base := SafeFileName(s.Name, fmt.Sprintf("Patch_%02d", s.Number))
		if n := used[base]; n > 0 {
			used[base] = n + 1
			base = fmt.Sprintf("%s_%02d", base, s.Number)
		} else {
			used[base] = 1
		}

		path := filepath.Join(dir, base+".syx")
		if err := writeVerified(path, s.Message); err != nil {
			errs = append(errs, err)
			continue
		}
		written++

		if report {
			rp := filepath.Join(dir, base+"_report.txt")
			if err := os.WriteFile(rp, []byte(Report(s.Packed, s.Name)), 0o644); err != nil {
				errs = append(errs, errors.Wrapf(err, "writing report %s", rp))
			}
		}
	}
	return written, sysex.Collect("write slots", len(slots), errs)
}

func writeVerified(path string, msg []byte) error {
	if err := os.WriteFile(path, msg, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading back %s", path)
	}
	if _, err := voice.VerifySingle(data); err != nil {
		_ = os.Remove(path)
		return errors.Wrapf(err, "verifying %s", path)
	}
	return nil
}

// ReadFile loads a dump from disk.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return data, nil
}

// WriteFile stores a dump on disk.
func WriteFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating %s", dir)
		}
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "writing %s", path)
}
