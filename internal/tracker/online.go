package tracker

import "time"

// DefaultOnlineThreshold is how recently a device must have checked in to
// count as online.
const DefaultOnlineThreshold = 5 * time.Minute

// ParseLastSeen parses a lastSeen timestamp as reported by the API.
// The second result is false when the value is empty or unparsable.
func ParseLastSeen(lastSeen string) (time.Time, bool) {
	if lastSeen == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, lastSeen)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsOnline reports whether lastSeen is within threshold of now.
//
// Absent or unparsable timestamps are offline. A lastSeen in the future
// (clock skew) yields a negative age, which is below any positive
// threshold, so it counts as online.
func IsOnline(lastSeen string, now time.Time, threshold time.Duration) bool {
	t, ok := ParseLastSeen(lastSeen)
	if !ok {
		return false
	}
	if threshold <= 0 {
		threshold = DefaultOnlineThreshold
	}
	return now.Sub(t) < threshold
}

// parseLastSeenPtr is ParseLastSeen for optional struct fields.
func parseLastSeenPtr(lastSeen string) *time.Time {
	t, ok := ParseLastSeen(lastSeen)
	if !ok {
		return nil
	}
	return &t
}
