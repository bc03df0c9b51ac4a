package ephemeris

// PhaseName labels a lunar phase angle for presentation. Banding follows the
// eighths of the synodic cycle.
func PhaseName(phaseDeg float64) string {
	switch {
	case phaseDeg < 22.5 || phaseDeg >= 337.5:
		return "New Moon"
	case phaseDeg < 67.5:
		return "Waxing Crescent"
	case phaseDeg < 112.5:
		return "First Quarter"
	case phaseDeg < 157.5:
		return "Waxing Gibbous"
	case phaseDeg < 202.5:
		return "Full Moon"
	case phaseDeg < 247.5:
		return "Waning Gibbous"
	case phaseDeg < 292.5:
		return "Last Quarter"
	default:
		return "Waning Crescent"
	}
}
