package telemetry

// The anomaly rule is shared by the simulator and the ingestion API. Any
// change to the thresholds must bump AnomalyRuleVersion so stored readings
// can be told apart.
const (
	AnomalyRuleVersion = 1

	// MaxTemperature is the highest normal temperature in °C
	MaxTemperature = 35.0

	// MaxAirQualityIndex is the highest normal air quality index
	MaxAirQualityIndex = 150.0
)

// IsAnomaly reports whether a reading crosses one of the thresholds. It is a
// pure function of the final, post-noise values.
func IsAnomaly(temperature, airQualityIndex float64) bool {
	return temperature > MaxTemperature || airQualityIndex > MaxAirQualityIndex
}
