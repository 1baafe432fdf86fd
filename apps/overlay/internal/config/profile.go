package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Profile is the optional YAML file describing how the overlay looks
type Profile struct {
	// Palette maps well-known route labels to colours
	Palette       map[string]string `yaml:"palette" validate:"dive,keys,required,endkeys,hexcolor"`
	FallbackColor string            `yaml:"fallback_color" validate:"omitempty,hexcolor"`
	Engine        EngineProfile     `yaml:"engine"`
	InitialView   ViewProfile       `yaml:"initial_view"`
}

// EngineProfile locates the map engine's style sheet and script
type EngineProfile struct {
	StyleURL  string `yaml:"style_url" validate:"omitempty,url"`
	ScriptURL string `yaml:"script_url" validate:"omitempty,url"`
}

// ViewProfile is the box the map opens on
type ViewProfile struct {
	From    [2]float64 `yaml:"from"`
	To      [2]float64 `yaml:"to"`
	Padding int        `yaml:"padding" validate:"gte=0"`
}

// DefaultProfile is used when no profile file exists, and fills the gaps of one that does
func DefaultProfile() Profile {
	return Profile{
		Palette: map[string]string{
			"U1": "#3b82f6",
			"U2": "#8b5cf6",
		},
		FallbackColor: "#ef4444",
		Engine: EngineProfile{
			StyleURL:  "https://unpkg.com/leaflet@1.9.4/dist/leaflet.css",
			ScriptURL: "https://unpkg.com/leaflet@1.9.4/dist/leaflet.js",
		},
		// Leamington Spa rail station to the University of Warwick
		InitialView: ViewProfile{
			From:    [2]float64{52.2892, -1.5373},
			To:      [2]float64{52.3809, -1.5617},
			Padding: 30,
		},
	}
}

// LoadProfile reads and validates the profile at path. A missing file is not
// an error: the defaults are returned.
func LoadProfile(path string) (Profile, error) {
	defaults := DefaultProfile()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaults, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}

	v := validator.New()
	if err := v.Struct(p); err != nil {
		return Profile{}, fmt.Errorf("invalid profile %s: %w", path, err)
	}

	if len(p.Palette) == 0 {
		p.Palette = defaults.Palette
	}
	if p.FallbackColor == "" {
		p.FallbackColor = defaults.FallbackColor
	}
	if p.Engine.StyleURL == "" {
		p.Engine.StyleURL = defaults.Engine.StyleURL
	}
	if p.Engine.ScriptURL == "" {
		p.Engine.ScriptURL = defaults.Engine.ScriptURL
	}
	if p.InitialView.From == ([2]float64{}) && p.InitialView.To == ([2]float64{}) {
		p.InitialView = defaults.InitialView
	}

	return p, nil
}
