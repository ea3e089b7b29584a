package analytics

// DistanceBucket classifies an activity into a categorical distance range.
// Ranges are half-open [lower, upper) and depend on the sport: running
// buckets follow race distances, riding buckets follow typical ride
// lengths, everything else gets coarse generic buckets. Zero or unknown
// distance is "Unknown" regardless of sport.
func DistanceBucket(distanceKm float64, sportType string) string {
	if distanceKm == 0 {
		return "Unknown"
	}

	switch sportType {
	case "Run":
		switch {
		case distanceKm < 5:
			return "<5K"
		case distanceKm < 10:
			return "5-10K"
		case distanceKm < 21.1:
			return "10K-Half"
		case distanceKm < 42.2:
			return "Half-Full"
		default:
			return ">Marathon"
		}
	case "Ride":
		switch {
		case distanceKm < 20:
			return "<20K"
		case distanceKm < 50:
			return "20-50K"
		case distanceKm < 100:
			return "50-100K"
		default:
			return ">100K"
		}
	default:
		switch {
		case distanceKm < 5:
			return "<5K"
		case distanceKm < 10:
			return "5-10K"
		default:
			return ">10K"
		}
	}
}
