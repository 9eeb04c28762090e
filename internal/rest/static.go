package rest

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// spaHandler serves the built frontend with index.html as the fallback for
// client-side routes. /n8n is never served from here: the reverse proxy owns
// that prefix, and answering it locally would mask a misrouted request.
func spaHandler(staticDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		if strings.HasPrefix(req.URL.Path, "/n8n") {
			http.NotFound(w, req)
			return
		}
		if strings.HasPrefix(req.URL.Path, "/api") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}

		requested := filepath.Join(staticDir, filepath.Clean("/"+req.URL.Path))
		if info, err := os.Stat(requested); err == nil && !info.IsDir() {
			http.ServeFile(w, req, requested)
			return
		}

		http.ServeFile(w, req, filepath.Join(staticDir, "index.html"))
	}
}
