//go:build !embed
// +build !embed

package main

import "io/fs"

// Without the embed tag the UI is served from the file system.
func uiFilesystem() fs.FS {
	return nil
}
