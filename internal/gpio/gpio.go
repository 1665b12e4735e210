package gpio

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/asterics/FLipMouse-esp32-sub001/internal/config"
)

// Output drives the controlled output pin. Callers treat it as
// fire-and-forget, a failed write is logged and not retried.
type Output interface {
	Set(on bool) error
	Close() error
}

// New selects the driver named in the configuration.
func New(cfg config.OutputConfig) (Output, error) {
	switch cfg.Driver {
	case "sysfs":
		return newSysfs(cfg.Pin, cfg.ActiveLow, "/sys/class/gpio")
	case "none", "":
		return &Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown gpio driver %q", cfg.Driver)
	}
}

// Noop logs level changes without touching hardware. Used on hosts
// without an exported pin and in tests.
type Noop struct{}

func (n *Noop) Set(on bool) error {
	log.Printf("[GPIO] output set to %v (noop driver)", on)
	return nil
}

func (n *Noop) Close() error { return nil }

// Sysfs writes the pin level through the kernel sysfs interface.
type Sysfs struct {
	pin       int
	activeLow bool
	valueFile string
}

func newSysfs(pin int, activeLow bool, base string) (*Sysfs, error) {
	pinDir := filepath.Join(base, fmt.Sprintf("gpio%d", pin))
	if _, err := os.Stat(pinDir); os.IsNotExist(err) {
		// Export once; EBUSY from an already exported pin is fine.
		if err := os.WriteFile(filepath.Join(base, "export"), []byte(strconv.Itoa(pin)), 0o644); err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("failed to export gpio %d: %w", pin, err)
		}
	}
	if err := os.WriteFile(filepath.Join(pinDir, "direction"), []byte("out"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to set gpio %d direction: %w", pin, err)
	}
	return &Sysfs{
		pin:       pin,
		activeLow: activeLow,
		valueFile: filepath.Join(pinDir, "value"),
	}, nil
}

func (s *Sysfs) Set(on bool) error {
	level := "0"
	if on != s.activeLow {
		level = "1"
	}
	if err := os.WriteFile(s.valueFile, []byte(level), 0o644); err != nil {
		return fmt.Errorf("failed to write gpio %d value: %w", s.pin, err)
	}
	return nil
}

func (s *Sysfs) Close() error { return nil }
