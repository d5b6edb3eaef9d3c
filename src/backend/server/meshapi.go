package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hannes/meshchat/src/backend/mesh"
	"github.com/hannes/meshchat/src/backend/store"
)

type visualizeRequest struct {
	OBJ string `json:"obj"`
}

// handleVisualize converts OBJ text into a vertex-colored binary glTF.
// The mesh may arrive as raw OBJ or wrapped in chat output; in the
// latter case the first mesh block is used.
func (s *Server) handleVisualize(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		s.corsHandler(w, r)
		w.WriteHeader(http.StatusOK)
		return
	}
	s.corsHandler(w, r)

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.limiter != nil && !s.limiter.allow(clientIP(r)) {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	maxBytes := s.config.Mesh.MaxOBJBytes
	if maxBytes <= 0 {
		maxBytes = 4 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(maxBytes)+1))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBytes {
		http.Error(w, fmt.Sprintf("OBJ input exceeds %d bytes", maxBytes), http.StatusRequestEntityTooLarge)
		return
	}

	var req visualizeRequest
	if err := json.Unmarshal(body, &req); err != nil || req.OBJ == "" {
		// Raw OBJ text is accepted too.
		req.OBJ = string(body)
	}

	objText := req.OBJ
	if block, ok := mesh.Extract(objText); ok {
		objText = block
	}

	m, err := mesh.Parse(objText)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid OBJ: %v", err), http.StatusBadRequest)
		return
	}

	glb, err := mesh.EncodeGLB(m, mesh.GradientColors(m))
	if err != nil {
		log.Printf("[Server] GLB encoding failed: %v", err)
		http.Error(w, "Failed to encode mesh", http.StatusInternalServerError)
		return
	}

	s.recordVisualization(r.Context(), m, len(glb))

	if r.URL.Query().Get("save") != "" {
		path, err := s.saveGLB(glb)
		if err != nil {
			log.Printf("[Server] Failed to save GLB: %v", err)
			http.Error(w, "Failed to save mesh", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]interface{}{
			"path":     path,
			"vertices": m.VertexCount(),
			"faces":    m.FaceCount(),
			"bytes":    len(glb),
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Printf("[Server] Failed to encode save response: %v", err)
		}
		return
	}

	w.Header().Set("Content-Type", "model/gltf-binary")
	w.Header().Set("Content-Disposition", "inline; filename=mesh.glb")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(glb); err != nil {
		log.Printf("[Server] Failed to write GLB response: %v", err)
	}
}

func (s *Server) saveGLB(glb []byte) (string, error) {
	dir := s.config.Mesh.SaveDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create save directory: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+".glb")
	if err := os.WriteFile(path, glb, 0o600); err != nil {
		return "", fmt.Errorf("failed to write GLB file: %w", err)
	}
	return path, nil
}

func (s *Server) recordVisualization(ctx context.Context, m *mesh.Mesh, glbSize int) {
	if s.transcripts == nil {
		return
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	v := &store.Visualization{
		VertexCount: m.VertexCount(),
		FaceCount:   m.FaceCount(),
		GLBSize:     glbSize,
	}
	if err := s.transcripts.RecordVisualization(storeCtx, v); err != nil {
		log.Printf("[Server] ⚠️  Failed to record visualization: %v", err)
	}
}
