package sensor

import "fmt"

// Sample is one observation: the raw value as read (for digital drivers,
// already mapped to 1/0) and the normalized value after tare/scale or
// binary mapping.
type Sample struct {
	Raw        float64
	Normalized float64
}

// Sensor is the uniform driver capability. Read returns false when no
// sample is available this tick (missing file, hardware hiccup); the caller
// skips the tick.
type Sensor interface {
	ID() string
	Read() (Sample, bool)
}

// New builds a driver from its configured type and parameter map. Unknown
// types and bad parameters are init errors; the agent logs and skips the
// sensor.
func New(sensorID, sensorType string, params map[string]any) (Sensor, error) {
	switch sensorType {
	case "digital_gpio":
		return newDigitalGPIO(sensorID, params)
	case "file_sensor":
		return newFileSensor(sensorID, params)
	case "hx711":
		return newHX711(sensorID, params)
	}
	return nil, fmt.Errorf("unsupported sensor type: %q", sensorType)
}

func stringParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return fallback
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func boolParam(params map[string]any, key string, fallback bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return fallback
}

func requireIntParam(params map[string]any, key string) (int, error) {
	switch v := params[key].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	}
	return 0, fmt.Errorf("missing required parameter %q", key)
}
