package config

import (
	"fmt"
	"sort"
)

// Hardware describes how the e-paper panel is wired. A named profile fills
// every field left empty, so a config only has to spell out what differs
// from a known board.
type Hardware struct {
	Profile string `yaml:"profile"`
	SPIPort string `yaml:"spi_port"` // periph spireg name, "" for the first port
	SPIHz   int64  `yaml:"spi_hz"`
	DC      string `yaml:"dc"`   // data/command GPIO
	RST     string `yaml:"rst"`  // reset GPIO
	BUSY    string `yaml:"busy"` // busy input GPIO
	// Rotation is the number of quarter turns from the landscape canvas to
	// panel RAM. The 2.9" panels are portrait natively.
	Rotation int `yaml:"rotation"`
}

// DefaultProfile is the board assumed when a config names none.
const DefaultProfile = "waveshare-hat"

// RotationUnset marks a rotation left for the profile to fill. Zero is a
// valid rotation, so it cannot double as "unset".
const RotationUnset = -1

// profiles are the known board wirings.
var profiles = map[string]Hardware{
	// Waveshare 2.9" e-Paper HAT on a Raspberry Pi header.
	"waveshare-hat": {
		SPIPort:  "SPI0.0",
		SPIHz:    4_000_000,
		DC:       "GPIO25",
		RST:      "GPIO17",
		BUSY:     "GPIO24",
		Rotation: 1,
	},
	// Bare panel breakout wired to GPIO 4-7 (CS on the SPI chip select,
	// DC 5, RST 6, BUSY 7).
	"devkit": {
		SPIPort:  "SPI0.0",
		SPIHz:    2_000_000,
		DC:       "GPIO5",
		RST:      "GPIO6",
		BUSY:     "GPIO7",
		Rotation: 1,
	},
}

// Profiles returns the names of the built-in hardware profiles.
func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve fills empty fields, and a rotation of RotationUnset, from the
// named profile. An empty profile leaves the struct as configured apart from
// an unset rotation, which becomes 0.
func (h *Hardware) Resolve() error {
	if h.Profile == "" {
		if h.Rotation == RotationUnset {
			h.Rotation = 0
		}
		return nil
	}
	p, ok := profiles[h.Profile]
	if !ok {
		return fmt.Errorf("hardware.profile %q is unknown (known: %v)", h.Profile, Profiles())
	}
	if h.SPIPort == "" {
		h.SPIPort = p.SPIPort
	}
	if h.SPIHz == 0 {
		h.SPIHz = p.SPIHz
	}
	if h.DC == "" {
		h.DC = p.DC
	}
	if h.RST == "" {
		h.RST = p.RST
	}
	if h.BUSY == "" {
		h.BUSY = p.BUSY
	}
	if h.Rotation == RotationUnset {
		h.Rotation = p.Rotation
	}
	return nil
}

// Validate checks that every pin needed by the panel driver is set.
func (h *Hardware) Validate() error {
	if h.DC == "" || h.RST == "" || h.BUSY == "" {
		return fmt.Errorf("hardware: dc, rst and busy pins must be set (profile %q)", h.Profile)
	}
	if h.SPIHz <= 0 {
		return fmt.Errorf("hardware.spi_hz must be > 0")
	}
	if h.Rotation < 0 || h.Rotation > 3 {
		return fmt.Errorf("hardware.rotation must be 0-3, got %d", h.Rotation)
	}
	return nil
}
