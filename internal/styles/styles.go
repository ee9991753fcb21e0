// Package styles resolves the colour palette used for coverage layers.
package styles

import (
	"fmt"
	"os"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"
)

// Color is an RGBA colour in the [r, g, b, a] form the overlay renderer expects.
type Color [4]uint8

// Swatch is a hex colour with an alpha channel (0-255).
type Swatch struct {
	Hex   string `yaml:"hex" json:"hex"`
	Alpha uint8  `yaml:"alpha" json:"alpha"`
}

// Palette holds the configurable layer colours. It can be loaded from YAML.
type Palette struct {
	Stops        Swatch `yaml:"stops"`
	CoverageArea Swatch `yaml:"coverageArea"`
	Covered      Swatch `yaml:"covered"`
	NotCovered   Swatch `yaml:"notCovered"`
	Unknown      Swatch `yaml:"unknown"`
	Clusters     Swatch `yaml:"clusters"`
}

// Scheme is a Palette with every swatch resolved to RGBA.
type Scheme struct {
	Stops        Color
	CoverageArea Color
	Covered      Color
	NotCovered   Color
	Unknown      Color
	Clusters     Color
}

// Default returns the built-in palette.
func Default() Palette {
	return Palette{
		Stops:        Swatch{Hex: "#0000ff", Alpha: 255},
		CoverageArea: Swatch{Hex: "#0000ff", Alpha: 50},
		Covered:      Swatch{Hex: "#00ff00", Alpha: 255},
		NotCovered:   Swatch{Hex: "#ff0000", Alpha: 255},
		Unknown:      Swatch{Hex: "#808080", Alpha: 255},
		Clusters:     Swatch{Hex: "#ffff00", Alpha: 85},
	}
}

// DefaultScheme returns the resolved built-in palette.
func DefaultScheme() Scheme {
	s, err := Default().Scheme()
	if err != nil {
		panic(err)
	}
	return s
}

// Load reads a YAML palette file. Keys missing from the file keep their
// defaults, and an empty path returns the defaults.
func Load(path string) (Palette, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("reading palette: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parsing palette: %w", err)
	}
	return p, nil
}

// Scheme resolves every swatch, failing on the first invalid hex value.
func (p Palette) Scheme() (Scheme, error) {
	var s Scheme
	targets := []struct {
		name string
		sw   Swatch
		dst  *Color
	}{
		{"stops", p.Stops, &s.Stops},
		{"coverageArea", p.CoverageArea, &s.CoverageArea},
		{"covered", p.Covered, &s.Covered},
		{"notCovered", p.NotCovered, &s.NotCovered},
		{"unknown", p.Unknown, &s.Unknown},
		{"clusters", p.Clusters, &s.Clusters},
	}
	for _, t := range targets {
		c, err := t.sw.RGBA()
		if err != nil {
			return Scheme{}, fmt.Errorf("palette %s: %w", t.name, err)
		}
		*t.dst = c
	}
	return s, nil
}

// RGBA converts the swatch to an RGBA colour.
func (s Swatch) RGBA() (Color, error) {
	c, err := colorful.Hex(s.Hex)
	if err != nil {
		return Color{}, err
	}
	r, g, b := c.RGB255()
	return Color{r, g, b, s.Alpha}, nil
}
