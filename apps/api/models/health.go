package models

import "time"

// DataFreshness describes how recent the live vehicle data is
type DataFreshness struct {
	LastPolledAt *time.Time `json:"lastPolledAt"`
	AgeSeconds   int        `json:"ageSeconds"`
	Status       string     `json:"status"` // "fresh", "stale", "unavailable"
	VehicleCount int        `json:"vehicleCount"`
	Score        int        `json:"score"` // 0-100
}

// FreshnessStatus constants
const (
	FreshnessFresh       = "fresh"       // < 60s
	FreshnessStale       = "stale"       // 60s - 5min
	FreshnessUnavailable = "unavailable" // > 5min or no data
)

// NewDataFreshness derives age, status and score from the last poll time
func NewDataFreshness(lastPolledAt *time.Time, vehicles int, now time.Time) DataFreshness {
	f := DataFreshness{LastPolledAt: lastPolledAt, AgeSeconds: -1, VehicleCount: vehicles}
	if lastPolledAt != nil {
		f.AgeSeconds = int(now.Sub(*lastPolledAt).Seconds())
	}
	f.Status = CalculateFreshnessStatus(f.AgeSeconds)
	f.Score = CalculateFreshnessScore(f.AgeSeconds)
	return f
}

// CalculateFreshnessStatus returns the freshness status based on age
func CalculateFreshnessStatus(ageSeconds int) string {
	if ageSeconds < 0 {
		return FreshnessUnavailable
	}
	if ageSeconds < 60 {
		return FreshnessFresh
	}
	if ageSeconds < 300 {
		return FreshnessStale
	}
	return FreshnessUnavailable
}

// CalculateFreshnessScore returns a 0-100 score based on data age
func CalculateFreshnessScore(ageSeconds int) int {
	if ageSeconds < 0 {
		return 0
	}
	if ageSeconds <= 30 {
		return 100
	}
	if ageSeconds >= 300 {
		return 0
	}
	// Linear decay from 100 at 30s to 0 at 300s
	return 100 - ((ageSeconds - 30) * 100 / 270)
}
