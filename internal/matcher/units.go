package matcher

import "strings"

const (
	poundsPerShortTon = 2000.0
	shortTonsPerTonne = 1.102311
	shortTonsPerKg    = 0.001102311
)

// toShortTons converts a weight into short tons. ok is false for units that
// do not measure weight (loads, hours, yards).
func toShortTons(value float64, unit string) (float64, bool) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "", "t", "tn", "ton", "tons", "st", "short ton", "short tons":
		return value, true
	case "tonne", "tonnes", "mt", "metric ton", "metric tons":
		return value * shortTonsPerTonne, true
	case "lb", "lbs", "pound", "pounds":
		return value / poundsPerShortTon, true
	case "kg", "kgs", "kilogram", "kilograms":
		return value * shortTonsPerKg, true
	}
	return 0, false
}
