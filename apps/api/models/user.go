package models

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// UserConfig is the single-row commute configuration from user_config.
// Stop codes and route labels are stored comma separated.
type UserConfig struct {
	MorningBusStops []string `json:"morning_bus_stops" validate:"dive,required,max=16"`
	EveningBusStops []string `json:"evening_bus_stops" validate:"dive,required,max=16"`
	RelevantRoutes  []string `json:"relevant_routes" validate:"dive,required,max=8"`

	// Anchors; nil when not configured
	HomeLatitude  *float64 `json:"home_latitude" validate:"omitempty,latitude"`
	HomeLongitude *float64 `json:"home_longitude" validate:"omitempty,longitude"`
	WorkLatitude  *float64 `json:"work_latitude" validate:"omitempty,latitude"`
	WorkLongitude *float64 `json:"work_longitude" validate:"omitempty,longitude"`
}

// Validate checks stop codes, route labels and anchor coordinates
func (c *UserConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid user config: %w", err)
	}
	if (c.HomeLatitude == nil) != (c.HomeLongitude == nil) {
		return fmt.Errorf("invalid user config: home latitude and longitude must be set together")
	}
	if (c.WorkLatitude == nil) != (c.WorkLongitude == nil) {
		return fmt.Errorf("invalid user config: work latitude and longitude must be set together")
	}
	return nil
}

// HasStops reports whether any commute stop is configured
func (c *UserConfig) HasStops() bool {
	return len(c.MorningBusStops) > 0 || len(c.EveningBusStops) > 0
}

// StopTypes returns every configured stop code once, in configuration order,
// tagged morning or evening. A code in both lists counts as morning.
func (c *UserConfig) StopTypes() ([]string, map[string]string) {
	codes := make([]string, 0, len(c.MorningBusStops)+len(c.EveningBusStops))
	types := make(map[string]string)
	for _, code := range c.MorningBusStops {
		if _, seen := types[code]; !seen {
			types[code] = StopTypeMorning
			codes = append(codes, code)
		}
	}
	for _, code := range c.EveningBusStops {
		if _, seen := types[code]; !seen {
			types[code] = StopTypeEvening
			codes = append(codes, code)
		}
	}
	return codes, types
}

// RouteFilter returns the relevant routes lower-cased for case-insensitive
// matching. An empty filter means every route is relevant.
func (c *UserConfig) RouteFilter() map[string]bool {
	filter := make(map[string]bool, len(c.RelevantRoutes))
	for _, r := range c.RelevantRoutes {
		filter[strings.ToLower(r)] = true
	}
	return filter
}

// SplitList parses a comma separated column, dropping blanks
func SplitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
