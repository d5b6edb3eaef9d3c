package mesh

import (
	"bytes"
	"strings"
	"testing"
)

const pyramidOBJ = `# simple pyramid
v 0 1 0
v -1 0 -1
v 1 0 -1
v 1 0 1
v -1 0 1
f 1 2 3
f 1 3 4
f 1 4 5
f 1 5 2
f 2 5 4 3
`

// --- Parse ---

func TestParsePyramid(t *testing.T) {
	m, err := Parse(pyramidOBJ)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.VertexCount() != 5 {
		t.Errorf("expected 5 vertices, got %d", m.VertexCount())
	}
	// The quad base splits into two triangles.
	if m.FaceCount() != 6 {
		t.Errorf("expected 6 triangles, got %d", m.FaceCount())
	}
	if m.Positions[0] != (Vec3{0, 1, 0}) {
		t.Errorf("unexpected apex position: %v", m.Positions[0])
	}
}

func TestParseIndexForms(t *testing.T) {
	testCases := []struct {
		name string
		face string
		want [3]int
	}{
		{name: "plain", face: "f 1 2 3", want: [3]int{0, 1, 2}},
		{name: "with uv", face: "f 1/1 2/2 3/3", want: [3]int{0, 1, 2}},
		{name: "with uv and normal", face: "f 1/1/1 2/2/2 3/3/3", want: [3]int{0, 1, 2}},
		{name: "normal only", face: "f 1//1 2//2 3//3", want: [3]int{0, 1, 2}},
		{name: "negative", face: "f -3 -2 -1", want: [3]int{0, 1, 2}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := Parse("v 0 0 0\nv 1 0 0\nv 0 1 0\n" + tc.face + "\n")
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if m.Faces[0] != tc.want {
				t.Errorf("got face %v, want %v", m.Faces[0], tc.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name    string
		obj     string
		errPart string
	}{
		{name: "empty", obj: "", errPart: "no vertices"},
		{name: "no faces", obj: "v 0 0 0\nv 1 0 0\nv 0 1 0\n", errPart: "no faces"},
		{name: "bad coordinate", obj: "v 0 zero 0\n", errPart: "invalid vertex coordinate"},
		{name: "short vertex", obj: "v 0 1\n", errPart: "need at least 3"},
		{name: "short face", obj: "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2\n", errPart: "need at least 3"},
		{name: "index out of range", obj: "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 9\n", errPart: "out of range"},
		{name: "bad index", obj: "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 x\n", errPart: "invalid face index"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.obj)
			if err == nil {
				t.Fatal("expected an error, but got nil")
			}
			if !strings.Contains(err.Error(), tc.errPart) {
				t.Errorf("expected error to contain %q, got: %v", tc.errPart, err)
			}
		})
	}
}

func TestParseIgnoresUnsupportedStatements(t *testing.T) {
	obj := `mtllib scene.mtl
o Cube
v 0 0 0
v 1 0 0
v 0 1 0
vn 0 0 1
vt 0 0
usemtl red
s off
f 1/1/1 2/1/1 3/1/1
`
	m, err := Parse(obj)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.VertexCount() != 3 || m.FaceCount() != 1 {
		t.Errorf("got %d vertices / %d faces, want 3 / 1", m.VertexCount(), m.FaceCount())
	}
}

// --- GradientColors ---

func TestGradientColors(t *testing.T) {
	m, err := Parse(pyramidOBJ)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	colors := GradientColors(m)
	if len(colors) != m.VertexCount() {
		t.Fatalf("expected %d colors, got %d", m.VertexCount(), len(colors))
	}
	// Apex (y=1) is red, base (y=0) is blue, all opaque.
	if colors[0] != (RGBA{1, 0, 0, 1}) {
		t.Errorf("apex color = %v, want red", colors[0])
	}
	if colors[1] != (RGBA{0, 0, 1, 1}) {
		t.Errorf("base color = %v, want blue", colors[1])
	}
}

func TestGradientColorsFlatMesh(t *testing.T) {
	m, err := Parse("v 0 0 0\nv 1 0 0\nv 0 0 1\nf 1 2 3\n")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	for i, c := range GradientColors(m) {
		if c != (RGBA{0, 0, 1, 1}) {
			t.Errorf("vertex %d: flat mesh color = %v, want blue", i, c)
		}
	}
}

// --- EncodeGLB ---

func TestEncodeGLB(t *testing.T) {
	m, err := Parse(pyramidOBJ)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	glb, err := EncodeGLB(m, GradientColors(m))
	if err != nil {
		t.Fatalf("EncodeGLB failed: %v", err)
	}
	if !bytes.HasPrefix(glb, []byte("glTF")) {
		t.Errorf("GLB output missing magic header, got % x", glb[:8])
	}
}

func TestEncodeGLBColorMismatch(t *testing.T) {
	m, err := Parse(pyramidOBJ)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := EncodeGLB(m, []RGBA{{1, 0, 0, 1}}); err == nil {
		t.Fatal("expected an error for mismatched color count")
	}
}

// --- Extract ---

func TestExtractFenced(t *testing.T) {
	text := "Sure! Here is a pyramid:\n```obj\n" + pyramidOBJ + "```\nLet me know what you think."
	block, ok := Extract(text)
	if !ok {
		t.Fatal("expected to find a mesh")
	}
	if _, err := Parse(block); err != nil {
		t.Errorf("extracted block failed to parse: %v", err)
	}
}

func TestExtractBare(t *testing.T) {
	text := "Here is a triangle you asked for.\nv 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\nEnjoy!"
	block, ok := Extract(text)
	if !ok {
		t.Fatal("expected to find a mesh")
	}
	m, err := Parse(block)
	if err != nil {
		t.Fatalf("extracted block failed to parse: %v", err)
	}
	if m.VertexCount() != 3 || m.FaceCount() != 1 {
		t.Errorf("got %d vertices / %d faces, want 3 / 1", m.VertexCount(), m.FaceCount())
	}
}

func TestExtractUnterminatedFence(t *testing.T) {
	// Generation can be cut off mid-stream before the closing fence.
	text := "```obj\nv 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3"
	block, ok := Extract(text)
	if !ok {
		t.Fatal("expected to find a mesh in an unterminated fence")
	}
	if _, err := Parse(block); err != nil {
		t.Errorf("extracted block failed to parse: %v", err)
	}
}

func TestExtractNoMesh(t *testing.T) {
	testCases := []struct {
		name string
		text string
	}{
		{name: "prose only", text: "The theory of relativity says that..."},
		{name: "code but not obj", text: "```python\nprint('sorted')\n```"},
		{name: "too few vertices", text: "v 0 0 0\nf 1 1 1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if block, ok := Extract(tc.text); ok {
				t.Errorf("expected no mesh, got %q", block)
			}
		})
	}
}

func TestExtractFirstMeshOnly(t *testing.T) {
	second := "v 9 9 9\nv 8 8 8\nv 7 7 7\nf 1 2 3"
	text := "```obj\n" + pyramidOBJ + "```\nand another:\n```obj\n" + second + "\n```"
	block, ok := Extract(text)
	if !ok {
		t.Fatal("expected to find a mesh")
	}
	if strings.Contains(block, "9 9 9") {
		t.Error("expected only the first mesh to be extracted")
	}
}
