// Package static serves the product and article images referenced by the
// catalog data.
package static

import (
	"net/http"
	"os"
	"path"
	"strings"
)

// Handler serves files under dir at prefix. Directory listings are not
// exposed; a directory path answers 404.
func Handler(prefix, dir string) http.Handler {
	fs := noListFS{http.Dir(dir)}
	return http.StripPrefix(strings.TrimSuffix(prefix, "/"), http.FileServer(fs))
}

// Available reports whether dir exists and is a directory.
func Available(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

type noListFS struct {
	fs http.FileSystem
}

func (n noListFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(path.Clean(name))
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
