package mesh

import "strings"

// Extract finds the first complete OBJ block inside generated chat text
// and returns it. The model emits geometry either inside a fenced code
// block or as bare v/f lines interleaved with prose; both forms are
// handled. Only the first mesh is returned: the demo supports a single
// mesh per dialog round.
func Extract(text string) (string, bool) {
	if block, ok := extractFenced(text); ok {
		return block, true
	}
	return extractBare(text)
}

// extractFenced looks for a ``` fenced block whose body parses as OBJ.
func extractFenced(text string) (string, bool) {
	rest := text
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			return "", false
		}
		body := rest[start+3:]
		// Skip the info string ("obj", "wavefront", or empty).
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		end := strings.Index(body, "```")
		if end < 0 {
			// Unterminated fence: the stream may have been cut off.
			// Fall back to bare extraction over the remainder.
			return extractBare(body)
		}
		block := strings.TrimSpace(body[:end])
		if looksLikeOBJ(block) {
			return block, true
		}
		rest = body[end+3:]
	}
}

// extractBare collects the run of lines from the first vertex statement
// through the last face statement.
func extractBare(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	first, last := -1, -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if isGeometryLine(trimmed) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return "", false
	}
	block := strings.TrimSpace(strings.Join(lines[first:last+1], "\n"))
	if !looksLikeOBJ(block) {
		return "", false
	}
	return block, true
}

// isGeometryLine reports whether the line is an OBJ statement worth
// keeping in an extracted block.
func isGeometryLine(line string) bool {
	for _, prefix := range []string{"v ", "vn ", "vt ", "f ", "o ", "g ", "s ", "usemtl ", "mtllib "} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return line == "s off"
}

// looksLikeOBJ reports whether the block contains enough geometry to be
// a mesh: at least three vertices and one face.
func looksLikeOBJ(block string) bool {
	vertices, faces := 0, 0
	for _, line := range strings.Split(block, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "v "):
			vertices++
		case strings.HasPrefix(trimmed, "f "):
			faces++
		}
	}
	return vertices >= 3 && faces >= 1
}
