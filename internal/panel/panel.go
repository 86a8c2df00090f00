package panel

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path"
)

//go:embed web/*
var embedded embed.FS

// assets picks the on-disk override when dir is a directory, else the
// embedded copy.
func assets(dir string) fs.FS {
	if dir != "" {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return os.DirFS(dir)
		}
	}
	web, err := fs.Sub(embedded, "web")
	if err != nil {
		panic("panel: embedded assets missing: " + err.Error())
	}
	return web
}

// Handler serves the sessions page. A non-empty dir that exists replaces
// the embedded assets so the page can be edited without a rebuild.
// Extensionless paths that match no file get index.html so client-side
// routes such as /sessions/box-01 load; unknown assets are 404.
func Handler(dir string) http.Handler {
	files := assets(dir)
	server := http.FileServer(http.FS(files))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		name := path.Clean("/" + r.URL.Path)[1:]
		if name == "" || exists(files, name) {
			server.ServeHTTP(w, r)
			return
		}
		if path.Ext(name) != "" {
			http.NotFound(w, r)
			return
		}

		r2 := r.Clone(r.Context())
		r2.URL.Path = "/"
		server.ServeHTTP(w, r2)
	})
}

func exists(files fs.FS, name string) bool {
	_, err := fs.Stat(files, name)
	return err == nil
}
