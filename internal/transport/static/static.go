// Package static serves the browser client.
package static

import (
	"errors"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"trafficsim.dev/internal/access"
	"trafficsim.dev/internal/debugflags"
	"trafficsim.dev/internal/transport/ws"
)

// Index is served for every directory.
const Index = "traffic.html"

// Missing is the body answered for paths that do not exist.
const Missing = "NOEXIST!"

type Handler struct {
	root   string
	access *access.Registry
	debug  *debugflags.Set
	log    *log.Logger
}

func New(root string, reg *access.Registry, debug *debugflags.Set, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stdout, "[http] ", log.LstdFlags)
	}
	return &Handler{root: root, access: reg, debug: debug, log: logger}
}

func (h *Handler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if !h.access.Has(ws.RemoteIP(r), access.Connect) {
		// No response at all; the server drops the connection.
		panic(http.ErrAbortHandler)
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		rw.Header().Set("Allow", "GET, HEAD")
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p := filepath.Join(h.root, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
	st, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		if h.debug.On(debugflags.HTTP) {
			h.log.Printf("%s %s (%s)", r.Method, r.URL, Missing)
		}
		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		rw.WriteHeader(http.StatusNotFound)
		_, _ = rw.Write([]byte(Missing))
		return
	}
	if err != nil {
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}
	if h.debug.On(debugflags.HTTP) {
		h.log.Printf("%s %s", r.Method, r.URL)
	}
	if st.IsDir() {
		p = filepath.Join(h.root, Index)
	}

	f, err := os.Open(p)
	if err != nil {
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	st, err = f.Stat()
	if err != nil || st.IsDir() {
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}
	http.ServeContent(rw, r, st.Name(), st.ModTime(), f)
}
