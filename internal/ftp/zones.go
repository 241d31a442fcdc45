package ftp

// Zone is one power training band expressed as percent of FTP
type Zone struct {
	Number     int
	Name       string
	MinPercent int // inclusive lower bound, for display
	MaxPercent int // inclusive upper bound; 0 means unbounded
}

// PowerZones are the seven Coggan-style bands, contiguous and non-overlapping
var PowerZones = []Zone{
	{Number: 1, Name: "Active Recovery", MinPercent: 0, MaxPercent: 55},
	{Number: 2, Name: "Endurance", MinPercent: 56, MaxPercent: 75},
	{Number: 3, Name: "Tempo", MinPercent: 76, MaxPercent: 90},
	{Number: 4, Name: "Threshold", MinPercent: 91, MaxPercent: 105},
	{Number: 5, Name: "VO2max", MinPercent: 106, MaxPercent: 120},
	{Number: 6, Name: "Anaerobic", MinPercent: 121, MaxPercent: 150},
	{Number: 7, Name: "Neuromuscular", MinPercent: 151, MaxPercent: 0},
}

// ClassifyPower returns the first zone whose upper bound covers power as a whole
// percent of ftp (truncated), so 75.4% is still Endurance. The top band is the
// fallback, and an FTP <= 0 classifies everything as zone 1.
func ClassifyPower(power, ftp int) Zone {
	if ftp <= 0 {
		return PowerZones[0]
	}
	pct := power * 100 / ftp
	for _, z := range PowerZones {
		if z.MaxPercent > 0 && pct <= z.MaxPercent {
			return z
		}
	}
	return PowerZones[len(PowerZones)-1]
}

// ZoneRange returns the watt range for zone z at the given FTP. maxWatts is 0 for
// the unbounded top zone.
func ZoneRange(z Zone, ftp int) (minWatts, maxWatts int) {
	minWatts = z.MinPercent * ftp / 100
	if z.MaxPercent > 0 {
		maxWatts = z.MaxPercent * ftp / 100
	}
	return minWatts, maxWatts
}

// HeartRateZone is a heart-rate band as percent of max HR
type HeartRateZone struct {
	Number     int
	Name       string
	MaxPercent int // inclusive; 0 means unbounded
}

var HeartRateZones = []HeartRateZone{
	{Number: 1, Name: "Recovery", MaxPercent: 60},
	{Number: 2, Name: "Aerobic", MaxPercent: 70},
	{Number: 3, Name: "Tempo", MaxPercent: 80},
	{Number: 4, Name: "Threshold", MaxPercent: 90},
	{Number: 5, Name: "Maximum", MaxPercent: 0},
}

// ClassifyHeartRate returns the band for hr given maxHR; maxHR <= 0 yields zone 1
func ClassifyHeartRate(hr, maxHR int) HeartRateZone {
	if maxHR <= 0 {
		return HeartRateZones[0]
	}
	pct := hr * 100 / maxHR
	for _, z := range HeartRateZones {
		if z.MaxPercent > 0 && pct <= z.MaxPercent {
			return z
		}
	}
	return HeartRateZones[len(HeartRateZones)-1]
}
