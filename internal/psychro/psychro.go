// Package psychro holds the moist-air calculations used for dehumidification
// and free-cooling decisions.
package psychro

import "math"

const (
	seaLevelPressure = 101325.0 // Pa
	waterAirRatio    = 0.621954 // molar mass water / dry air
)

// DewPoint in °C from air temperature (°C) and relative humidity (%), rounded
// to one decimal. Zero humidity has no dew point.
func DewPoint(temp, rh float64) (float64, bool) {
	if rh <= 0 || rh > 100 {
		return 0, false
	}
	dp := math.Pow(rh/100, 1.0/8)*(112+0.9*temp) + 0.1*temp - 112
	return round1(dp), true
}

// SaturationPressure of water vapour over water in Pa.
func SaturationPressure(temp float64) float64 {
	return math.Pow(10, 7.5*temp/(273.159+temp-35.85)+2.7858)
}

// Pressure in Pa at altitude metres above sea level.
func Pressure(altitude float64) float64 {
	return seaLevelPressure * math.Pow(1-2.25577e-5*altitude, 5.25588)
}

// SpecificHumidity in kg water per kg dry air.
func SpecificHumidity(temp, rh, altitude float64) float64 {
	pv := SaturationPressure(temp) * rh / 100
	return waterAirRatio * pv / (Pressure(altitude) - pv)
}

// Enthalpy of moist air in kJ/kg dry air, rounded to one decimal.
func Enthalpy(temp, rh, altitude float64) (float64, bool) {
	if rh <= 0 || rh > 100 {
		return 0, false
	}
	if p := Pressure(altitude); math.IsNaN(p) || p <= SaturationPressure(temp)*rh/100 {
		return 0, false
	}
	x := SpecificHumidity(temp, rh, altitude)
	return round1((1.006+1.86*x)*temp + 2501*x), true
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
