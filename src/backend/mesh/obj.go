// Package mesh parses Wavefront OBJ geometry generated as text, applies
// the demo's height gradient coloring, and encodes binary glTF for the
// viewer. Only the OBJ subset the model emits is supported: vertex
// positions and polygonal faces. Material, texture and normal statements
// are ignored.
package mesh

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// Vec3 is a single vertex position.
type Vec3 [3]float32

// Mesh holds triangulated geometry decoded from OBJ text.
type Mesh struct {
	Positions []Vec3
	Faces     [][3]int // indices into Positions, 0-based
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int { return len(m.Positions) }

// FaceCount returns the number of triangles.
func (m *Mesh) FaceCount() int { return len(m.Faces) }

// Parse decodes OBJ text into a triangulated Mesh. Faces with more than
// three vertices are split as a triangle fan. Indices may be 1-based or
// negative (relative to the current vertex count), and may carry /vt/vn
// suffixes, which are dropped.
func Parse(text string) (*Mesh, error) {
	m := &Mesh{}
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "v":
			if err := m.parseVertex(fields[1:]); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
		case "f":
			if err := m.parseFace(fields[1:]); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
		default:
			// vt, vn, o, g, s, usemtl, mtllib and anything else the
			// model emits alongside geometry are ignored.
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read OBJ text: %w", err)
	}

	if len(m.Positions) == 0 {
		return nil, fmt.Errorf("no vertices found")
	}
	if len(m.Faces) == 0 {
		return nil, fmt.Errorf("no faces found")
	}
	return m, nil
}

// parseVertex parses a "v x y z [w]" statement
func (m *Mesh) parseVertex(fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("vertex has %d coordinates, need at least 3", len(fields))
	}
	var v Vec3
	for i := 0; i < 3; i++ {
		val, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return fmt.Errorf("invalid vertex coordinate %q: %w", fields[i], err)
		}
		v[i] = float32(val)
	}
	m.Positions = append(m.Positions, v)
	return nil
}

// parseFace parses an "f a b c ..." statement, splitting polygons
// into a triangle fan.
func (m *Mesh) parseFace(fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("face has %d vertices, need at least 3", len(fields))
	}
	idxs := make([]int, len(fields))
	for i, f := range fields {
		idx, err := m.parseFaceIndex(f)
		if err != nil {
			return err
		}
		idxs[i] = idx
	}
	for i := 2; i < len(idxs); i++ {
		m.Faces = append(m.Faces, [3]int{idxs[0], idxs[i-1], idxs[i]})
	}
	return nil
}

// parseFaceIndex parses one face vertex reference ("7", "7/1", "7//3",
// "-1") and converts it to a 0-based position index.
func (m *Mesh) parseFaceIndex(field string) (int, error) {
	if slash := strings.IndexByte(field, '/'); slash >= 0 {
		field = field[:slash]
	}
	idx, err := strconv.Atoi(field)
	if err != nil {
		return 0, fmt.Errorf("invalid face index %q: %w", field, err)
	}
	if idx < 0 {
		idx = len(m.Positions) + idx
	} else {
		idx--
	}
	if idx < 0 || idx >= len(m.Positions) {
		return 0, fmt.Errorf("face index %q out of range (%d vertices)", field, len(m.Positions))
	}
	return idx, nil
}
