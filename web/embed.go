// Package web embeds the console's HTML templates and static assets.
package web

import (
	"embed"
	"io/fs"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Templates returns the page templates with templates/ as the root, so
// files are accessed directly (e.g. "layout.html").
func Templates() (fs.FS, error) {
	return fs.Sub(templateFS, "templates")
}

// Static returns the stylesheet and scripts with static/ as the root.
func Static() (fs.FS, error) {
	return fs.Sub(staticFS, "static")
}
