package media

import "math"

// volumeCurveGamma maps linear slider values to perceived loudness.
const volumeCurveGamma = 2.2

// Settings represents the renderer settings pushed from the tray.
type Settings struct {
	Volume   float64 `json:"volume" yaml:"volume" mapstructure:"volume"`
	ShowText bool    `json:"showText" yaml:"show_text" mapstructure:"showText"`
}

// DefaultSettings returns the settings used before any configuration is loaded.
func DefaultSettings() Settings {
	return Settings{
		Volume:   1,
		ShowText: true,
	}
}

// PerceptualGain returns the gain applied to media elements for the configured volume.
func (s Settings) PerceptualGain() float64 {
	v := s.Volume
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 1
	}
	v = math.Min(1, math.Max(0, v))
	return math.Pow(v, volumeCurveGamma)
}
