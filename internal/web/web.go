// Package web serves the single-page chat client.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var assets embed.FS

// Handler serves the embedded client files.
func Handler() http.Handler {
	static, err := fs.Sub(assets, "static")
	if err != nil {
		// the embed path is fixed at compile time
		panic(err)
	}
	return http.FileServer(http.FS(static))
}
