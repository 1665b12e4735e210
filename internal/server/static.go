package server

import (
	"io"
	"log"
	"os"
	gopath "path"
	"path/filepath"
)

// FileStore is the read-only content source behind the fallback route.
type FileStore interface {
	Exists(path string) bool
	Open(path string) (io.ReadCloser, error)
}

// DirStore serves files from a directory root. Request paths are
// cleaned and anchored below the root before lookup.
type DirStore struct {
	root string
}

func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

func (d *DirStore) resolve(path string) string {
	return filepath.Join(d.root, filepath.FromSlash(gopath.Clean("/"+path)))
}

func (d *DirStore) Exists(path string) bool {
	info, err := os.Stat(d.resolve(path))
	return err == nil && info.Mode().IsRegular()
}

func (d *DirStore) Open(path string) (io.ReadCloser, error) {
	return os.Open(d.resolve(path))
}

// staticChunkSize bounds the memory used per streamed response.
const staticChunkSize = 1024

// serveStatic streams the resource at path, or answers 404 with an
// empty body when the store has nothing for it.
func serveStatic(w io.Writer, store FileStore, path string) {
	if !store.Exists(path) {
		writeNotFound(w)
		return
	}
	f, err := store.Open(path)
	if err != nil {
		log.Printf("[Server] failed to open %q: %v", path, err)
		writeNotFound(w)
		return
	}
	defer f.Close()

	if err := writeOK(w, nil); err != nil {
		return
	}
	buf := make([]byte, staticChunkSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				log.Printf("[Server] static stream of %q aborted: %v", path, werr)
				return
			}
		}
		if rerr == io.EOF {
			return
		}
		if rerr != nil {
			log.Printf("[Server] static read of %q failed: %v", path, rerr)
			return
		}
	}
}
