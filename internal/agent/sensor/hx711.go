package sensor

import "fmt"

// RawReader yields one raw conversion from a load-cell ADC.
type RawReader interface {
	ReadRaw() (float64, error)
}

// HX711 averages raw load-cell conversions and applies tare/scale
// normalization. The chip-level protocol lives behind RawReader; the default
// factory wiring reads conversions from a character device or sysfs export.
type HX711 struct {
	id          string
	reader      RawReader
	scaleFactor float64
	tareOffset  float64
	readings    int
}

func newHX711(sensorID string, params map[string]any) (*HX711, error) {
	devicePath := stringParam(params, "device_path", "")
	if devicePath == "" {
		return nil, fmt.Errorf("hx711 %q requires a device_path", sensorID)
	}
	return NewHX711WithReader(sensorID, &fileRawReader{path: devicePath}, HX711Options{
		ScaleFactor: floatParam(params, "scale_factor", 1.0),
		TareOffset:  floatParam(params, "tare_offset", 0.0),
		Readings:    intParam(params, "readings", 5),
	}), nil
}

// HX711Options tune normalization and averaging.
type HX711Options struct {
	ScaleFactor float64
	TareOffset  float64
	Readings    int
}

// NewHX711WithReader wires a specific conversion source.
func NewHX711WithReader(sensorID string, reader RawReader, opts HX711Options) *HX711 {
	scale := opts.ScaleFactor
	if scale == 0 {
		scale = 1.0
	}
	readings := opts.Readings
	if readings < 1 {
		readings = 1
	}
	return &HX711{
		id:          sensorID,
		reader:      reader,
		scaleFactor: scale,
		tareOffset:  opts.TareOffset,
		readings:    readings,
	}
}

func (s *HX711) ID() string {
	return s.id
}

func (s *HX711) Read() (Sample, bool) {
	var sum float64
	for i := 0; i < s.readings; i++ {
		raw, err := s.reader.ReadRaw()
		if err != nil {
			return Sample{}, false
		}
		sum += raw
	}
	raw := sum / float64(s.readings)
	return Sample{Raw: raw, Normalized: (raw - s.tareOffset) / s.scaleFactor}, true
}

// fileRawReader reads a single conversion per call from a value file, the
// same surface kernel hx711 drivers expose through iio.
type fileRawReader struct {
	path string
}

func (r *fileRawReader) ReadRaw() (float64, error) {
	sensor := FileSensor{path: r.path, mode: "analog", scaleFactor: 1.0}
	sample, ok := sensor.Read()
	if !ok {
		return 0, fmt.Errorf("no conversion available from %s", r.path)
	}
	return sample.Raw, nil
}
