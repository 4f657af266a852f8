package collage

import (
	"errors"
	"fmt"

	"cogentcore.org/core/math32"
)

// turns slot indexes into spatial transforms. Patterns are pure functions of
// (settings, slotIndex, slotCount, t), so the same inputs always produce the
// same placement. Switching pattern never touches the slot assignment - it
// only changes how an index becomes coordinates.

var ErrSlotOutOfRange = errors.New("slot index out of range")

type Placement struct {
	Position math32.Vector3
	// euler radians
	Rotation math32.Vector3
}

type Pattern interface {
	Name() string
	// slotIndex is in [0, slotCount)
	Place(slotIndex int, slotCount int, t float32) Placement
}

// out-of-range indexes are a caller error. The slot table never produces
// them, so this is signaled rather than clamped.
func PlaceAt(pattern Pattern, slotIndex int, slotCount int, t float32) (Placement, error) {
	if slotIndex < 0 || slotCount <= slotIndex {
		return Placement{}, ErrSlotOutOfRange
	}
	return pattern.Place(slotIndex, slotCount, t), nil
}

// placements for all slots, indexed by slot index
func Project(pattern Pattern, slotCount int, t float32) []Placement {
	placements := make([]Placement, slotCount)
	for slotIndex := 0; slotIndex < slotCount; slotIndex += 1 {
		placements[slotIndex] = pattern.Place(slotIndex, slotCount, t)
	}
	return placements
}

func PatternByName(name string) (Pattern, error) {
	switch name {
	case "grid":
		return NewGridPatternWithDefaults(), nil
	case "spiral":
		return NewSpiralPatternWithDefaults(), nil
	case "wave":
		return NewWavePatternWithDefaults(), nil
	case "drift":
		return NewDriftPatternWithDefaults(), nil
	default:
		return nil, fmt.Errorf("unknown pattern %s", name)
	}
}

type GridPatternSettings struct {
	Columns     int
	Spacing     float32
	Breathe     float32
	BreatheRate float32
}

func DefaultGridPatternSettings() *GridPatternSettings {
	return &GridPatternSettings{
		Columns:     8,
		Spacing:     1.2,
		Breathe:     0.1,
		BreatheRate: 0.5,
	}
}

// flat wall facing the camera, with a slight per-slot breathing motion in z
type GridPattern struct {
	settings *GridPatternSettings
}

func NewGridPatternWithDefaults() *GridPattern {
	return NewGridPattern(DefaultGridPatternSettings())
}

func NewGridPattern(settings *GridPatternSettings) *GridPattern {
	return &GridPattern{
		settings: settings,
	}
}

func (self *GridPattern) Name() string {
	return "grid"
}

func (self *GridPattern) Place(slotIndex int, slotCount int, t float32) Placement {
	columns := self.settings.Columns
	if columns <= 0 {
		columns = 1
	}
	rows := (slotCount + columns - 1) / columns
	column := slotIndex % columns
	row := slotIndex / columns

	x := (float32(column) - float32(columns-1)/2) * self.settings.Spacing
	y := (float32(rows-1)/2 - float32(row)) * self.settings.Spacing
	phase := float32(slotIndex) * 0.7
	z := self.settings.Breathe * math32.Sin(self.settings.BreatheRate*t+phase)

	return Placement{
		Position: math32.Vec3(x, y, z),
	}
}

type SpiralPatternSettings struct {
	RadiusStep float32
	HeightStep float32
	// golden angle spreads neighbors apart
	AngleStep float32
	SpinRate  float32
}

func DefaultSpiralPatternSettings() *SpiralPatternSettings {
	return &SpiralPatternSettings{
		RadiusStep: 0.5,
		HeightStep: 0.15,
		AngleStep:  2.39996,
		SpinRate:   0.1,
	}
}

// helix around the viewer, photos facing inward
type SpiralPattern struct {
	settings *SpiralPatternSettings
}

func NewSpiralPatternWithDefaults() *SpiralPattern {
	return NewSpiralPattern(DefaultSpiralPatternSettings())
}

func NewSpiralPattern(settings *SpiralPatternSettings) *SpiralPattern {
	return &SpiralPattern{
		settings: settings,
	}
}

func (self *SpiralPattern) Name() string {
	return "spiral"
}

func (self *SpiralPattern) Place(slotIndex int, slotCount int, t float32) Placement {
	angle := float32(slotIndex)*self.settings.AngleStep + t*self.settings.SpinRate
	radius := self.settings.RadiusStep * math32.Sqrt(float32(slotIndex)+1)
	x := radius * math32.Cos(angle)
	z := radius * math32.Sin(angle)
	y := (float32(slotIndex) - float32(slotCount-1)/2) * self.settings.HeightStep

	return Placement{
		Position: math32.Vec3(x, y, z),
		// face the axis
		Rotation: math32.Vec3(0, -angle+math32.Pi/2, 0),
	}
}

type WavePatternSettings struct {
	Columns   int
	Spacing   float32
	Amplitude float32
	Frequency float32
	Speed     float32
	Tilt      float32
}

func DefaultWavePatternSettings() *WavePatternSettings {
	return &WavePatternSettings{
		Columns:   8,
		Spacing:   1.2,
		Amplitude: 0.4,
		Frequency: 0.8,
		Speed:     1.0,
		Tilt:      0.3,
	}
}

// grid rippled by a traveling wave, photos tilting with the slope
type WavePattern struct {
	settings *WavePatternSettings
}

func NewWavePatternWithDefaults() *WavePattern {
	return NewWavePattern(DefaultWavePatternSettings())
}

func NewWavePattern(settings *WavePatternSettings) *WavePattern {
	return &WavePattern{
		settings: settings,
	}
}

func (self *WavePattern) Name() string {
	return "wave"
}

func (self *WavePattern) Place(slotIndex int, slotCount int, t float32) Placement {
	columns := self.settings.Columns
	if columns <= 0 {
		columns = 1
	}
	rows := (slotCount + columns - 1) / columns
	column := slotIndex % columns
	row := slotIndex / columns

	x := (float32(column) - float32(columns-1)/2) * self.settings.Spacing
	z := (float32(row) - float32(rows-1)/2) * self.settings.Spacing
	w := self.settings.Frequency*x + self.settings.Speed*t + float32(row)*0.5
	y := self.settings.Amplitude * math32.Sin(w)

	return Placement{
		Position: math32.Vec3(x, y, z),
		Rotation: math32.Vec3(self.settings.Tilt*math32.Cos(w), 0, 0),
	}
}

type DriftPatternSettings struct {
	Radius    float32
	Amplitude float32
	Rate      float32
	SpinRate  float32
}

func DefaultDriftPatternSettings() *DriftPatternSettings {
	return &DriftPatternSettings{
		Radius:    4,
		Amplitude: 0.3,
		Rate:      0.4,
		SpinRate:  0.05,
	}
}

// photos floating in a loose cloud. The base position is a hash of the slot
// index, so it is stable across frames and processes.
type DriftPattern struct {
	settings *DriftPatternSettings
}

func NewDriftPatternWithDefaults() *DriftPattern {
	return NewDriftPattern(DefaultDriftPatternSettings())
}

func NewDriftPattern(settings *DriftPatternSettings) *DriftPattern {
	return &DriftPattern{
		settings: settings,
	}
}

func (self *DriftPattern) Name() string {
	return "drift"
}

func (self *DriftPattern) Place(slotIndex int, slotCount int, t float32) Placement {
	u1 := slotUnit(slotIndex, 0)
	u2 := slotUnit(slotIndex, 1)
	u3 := slotUnit(slotIndex, 2)

	base := math32.Vec3(
		self.settings.Radius*(2*u1-1),
		self.settings.Radius*(2*u2-1),
		self.settings.Radius*(2*u3-1),
	)
	drift := math32.Vec3(
		self.settings.Amplitude*math32.Sin(self.settings.Rate*t+2*math32.Pi*u1),
		self.settings.Amplitude*math32.Sin(self.settings.Rate*t+2*math32.Pi*u2),
		self.settings.Amplitude*math32.Sin(self.settings.Rate*t+2*math32.Pi*u3),
	)

	return Placement{
		Position: base.Add(drift),
		Rotation: math32.Vec3(0, self.settings.SpinRate*t+2*math32.Pi*u1, 0),
	}
}

// deterministic unit value in [0, 1) for a slot index and stream
func slotUnit(slotIndex int, stream int) float32 {
	h := uint64(slotIndex)*0x9E3779B97F4A7C15 + uint64(stream)*0xBF58476D1CE4E5B9
	h ^= h >> 30
	h *= 0xBF58476D1CE4E5B9
	h ^= h >> 27
	h *= 0x94D049BB133111EB
	h ^= h >> 31
	return float32(h>>40) / float32(1<<24)
}
