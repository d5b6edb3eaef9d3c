//go:build embed
// +build embed

package main

import (
	"embed"
	"io/fs"
)

// Embed frontend UI files
//
//go:embed frontend/dist/*
var uiFiles embed.FS

func uiFilesystem() fs.FS {
	return uiFiles
}
