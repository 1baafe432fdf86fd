package routes

import "strings"

// Palette assigns colours to route labels. It never picks at random, so the
// same label always renders the same way.
type Palette struct {
	colors   map[string]string
	fallback string
}

// DefaultPalette knows the two university routes and paints everything else red
func DefaultPalette() Palette {
	return NewPalette(map[string]string{
		"U1": "#3b82f6",
		"U2": "#8b5cf6",
	}, "#ef4444")
}

// NewPalette builds a palette. Labels are matched case-insensitively.
func NewPalette(colors map[string]string, fallback string) Palette {
	p := Palette{colors: make(map[string]string, len(colors)), fallback: fallback}
	for label, color := range colors {
		p.colors[strings.ToUpper(label)] = color
	}
	return p
}

// ColorFor returns the colour for label, or the fallback colour
func (p Palette) ColorFor(label string) string {
	if c, ok := p.colors[strings.ToUpper(strings.TrimSpace(label))]; ok {
		return c
	}
	return p.fallback
}
