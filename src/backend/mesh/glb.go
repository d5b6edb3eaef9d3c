package mesh

import (
	"bytes"
	"fmt"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// EncodeGLB encodes the mesh with per-vertex colors as a binary glTF
// (GLB) document with a single scene, node and primitive.
func EncodeGLB(m *Mesh, colors []RGBA) ([]byte, error) {
	if len(colors) != len(m.Positions) {
		return nil, fmt.Errorf("color count %d does not match vertex count %d", len(colors), len(m.Positions))
	}

	positions := make([][3]float32, len(m.Positions))
	for i, p := range m.Positions {
		positions[i] = p
	}
	vertexColors := make([][4]float32, len(colors))
	for i, c := range colors {
		vertexColors[i] = c
	}
	indices := make([]uint32, 0, len(m.Faces)*3)
	for _, f := range m.Faces {
		indices = append(indices, uint32(f[0]), uint32(f[1]), uint32(f[2]))
	}

	doc := gltf.NewDocument()
	doc.Asset.Generator = "meshchat"

	primitive := &gltf.Primitive{
		Indices: gltf.Index(modeler.WriteIndices(doc, indices)),
		Attributes: map[string]int{
			gltf.POSITION: modeler.WritePosition(doc, positions),
			gltf.COLOR_0:  modeler.WriteColor(doc, vertexColors),
		},
	}
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{Name: "mesh", Primitives: []*gltf.Primitive{primitive}})
	doc.Nodes = append(doc.Nodes, &gltf.Node{Name: "mesh", Mesh: gltf.Index(len(doc.Meshes) - 1)})
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, len(doc.Nodes)-1)

	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode GLB: %w", err)
	}
	return buf.Bytes(), nil
}
