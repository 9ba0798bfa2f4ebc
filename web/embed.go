// Package web provides the embedded sweep dashboard.
package web

import (
	"embed"
	"io/fs"
)

//go:embed dist/*
var embeddedFiles embed.FS

// Dashboard returns the dashboard files with the "dist" prefix stripped.
func Dashboard() (fs.FS, error) {
	return fs.Sub(embeddedFiles, "dist")
}
