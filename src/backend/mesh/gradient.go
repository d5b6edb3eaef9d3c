package mesh

import "github.com/chewxy/math32"

// RGBA is a single vertex color with components in [0, 1].
type RGBA [4]float32

// GradientColors returns per-vertex colors with a gradient along the
// Y axis: the lowest vertex is blue, the highest red. A flat mesh
// (all vertices at the same height) comes out fully blue.
func GradientColors(m *Mesh) []RGBA {
	colors := make([]RGBA, len(m.Positions))
	if len(m.Positions) == 0 {
		return colors
	}

	minY := m.Positions[0][1]
	maxY := minY
	for _, p := range m.Positions {
		minY = math32.Min(minY, p[1])
		maxY = math32.Max(maxY, p[1])
	}
	span := maxY - minY

	for i, p := range m.Positions {
		var t float32
		if span > 0 {
			t = (p[1] - minY) / span
		}
		colors[i] = RGBA{t, 0, 1 - t, 1}
	}
	return colors
}
