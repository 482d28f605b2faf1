package assetview

import (
	"embed"
	"io/fs"
)

// Frontend contains the embedded web viewer
//
//go:embed all:frontend/dist
var Frontend embed.FS

// FrontendFS returns the viewer rooted at its index.html.
func FrontendFS() (fs.FS, error) {
	return fs.Sub(Frontend, "frontend/dist")
}
