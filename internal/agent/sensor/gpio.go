package sensor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Line is one digital input line. The sysfs implementation below covers
// Raspberry Pi style hosts; tests substitute a fake.
type Line interface {
	Value() (int, error)
}

// DigitalGPIO reads a boolean input line. The normalized value is 1/0 after
// optional active-low inversion.
type DigitalGPIO struct {
	id         string
	line       Line
	activeHigh bool
}

func newDigitalGPIO(sensorID string, params map[string]any) (*DigitalGPIO, error) {
	pin, err := requireIntParam(params, "gpio_pin")
	if err != nil {
		return nil, fmt.Errorf("digital_gpio %q: %w", sensorID, err)
	}
	line, err := openSysfsLine(pin)
	if err != nil {
		return nil, fmt.Errorf("digital_gpio %q: %w", sensorID, err)
	}
	return &DigitalGPIO{
		id:         sensorID,
		line:       line,
		activeHigh: boolParam(params, "active_high", true),
	}, nil
}

// NewDigitalGPIOWithLine wires a specific line, bypassing sysfs discovery.
func NewDigitalGPIOWithLine(sensorID string, line Line, activeHigh bool) *DigitalGPIO {
	return &DigitalGPIO{id: sensorID, line: line, activeHigh: activeHigh}
}

func (s *DigitalGPIO) ID() string {
	return s.id
}

func (s *DigitalGPIO) Read() (Sample, bool) {
	raw, err := s.line.Value()
	if err != nil {
		return Sample{}, false
	}
	value := 0
	if raw != 0 {
		value = 1
	}
	if !s.activeHigh {
		value = 1 - value
	}
	return Sample{Raw: float64(value), Normalized: float64(value)}, true
}

const sysfsGPIORoot = "/sys/class/gpio"

type sysfsLine struct {
	valuePath string
}

// openSysfsLine exports the pin if the kernel has not already and returns a
// reader for its value file.
func openSysfsLine(pin int) (Line, error) {
	pinDir := filepath.Join(sysfsGPIORoot, fmt.Sprintf("gpio%d", pin))
	if _, err := os.Stat(pinDir); os.IsNotExist(err) {
		export := filepath.Join(sysfsGPIORoot, "export")
		if err := os.WriteFile(export, []byte(fmt.Sprintf("%d", pin)), 0o200); err != nil {
			return nil, fmt.Errorf("failed to export gpio %d: %w", pin, err)
		}
	}
	valuePath := filepath.Join(pinDir, "value")
	if _, err := os.Stat(valuePath); err != nil {
		return nil, fmt.Errorf("gpio %d not available: %w", pin, err)
	}
	return &sysfsLine{valuePath: valuePath}, nil
}

func (l *sysfsLine) Value() (int, error) {
	content, err := os.ReadFile(l.valuePath)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(string(content)) == "0" {
		return 0, nil
	}
	return 1, nil
}
