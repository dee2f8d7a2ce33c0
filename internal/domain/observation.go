package domain

import "time"

// Observation is a weather snapshot for a monitored location.
// Immutable once created.
type Observation struct {
	Location   string    `json:"location"`
	ObservedAt time.Time `json:"observed_at"`

	Description     string  `json:"description,omitempty"`
	TemperatureC    float64 `json:"temperature_c"`
	WindSpeedMS     float64 `json:"wind_speed_ms"`
	HumidityPct     float64 `json:"humidity_pct"`
	PressureHPa     float64 `json:"pressure_hpa"`
	CloudCoverPct   float64 `json:"cloud_cover_pct"`
	SeaLevelHPa     float64 `json:"sea_level_hpa,omitempty"`
	PrecipitationMM float64 `json:"precipitation_mm,omitempty"`

	// RawPayload is the provider-specific wire payload, kept opaque.
	RawPayload []byte `json:"-"`
}
