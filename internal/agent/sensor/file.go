package sensor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FileSensor reads a numeric value from a text file. Useful for sysfs-style
// exports and for exercising the pipeline without hardware.
type FileSensor struct {
	id          string
	path        string
	mode        string
	scaleFactor float64
	tareOffset  float64
}

func newFileSensor(sensorID string, params map[string]any) (*FileSensor, error) {
	path := stringParam(params, "path", "")
	if path == "" {
		return nil, fmt.Errorf("file_sensor %q requires a path", sensorID)
	}
	scale := floatParam(params, "scale_factor", 1.0)
	if scale == 0 {
		scale = 1.0
	}
	return &FileSensor{
		id:          sensorID,
		path:        path,
		mode:        stringParam(params, "mode", "analog"),
		scaleFactor: scale,
		tareOffset:  floatParam(params, "tare_offset", 0.0),
	}, nil
}

func (s *FileSensor) ID() string {
	return s.id
}

func (s *FileSensor) Read() (Sample, bool) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		return Sample{}, false
	}

	text := strings.TrimSpace(string(content))
	if text == "" {
		return Sample{}, false
	}

	raw, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Sample{}, false
	}

	if s.mode == "digital" {
		value := 0.0
		if raw != 0 {
			value = 1.0
		}
		return Sample{Raw: value, Normalized: value}, true
	}

	return Sample{Raw: raw, Normalized: (raw - s.tareOffset) / s.scaleFactor}, true
}
