package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/ogxcoders/videopress/errors"
)

// Cache policies by extension. Segments and encoded media are immutable once
// written; playlists may be rewritten by a reprocessing cycle.
const cacheImmutable = "public, max-age=31536000, immutable"
const cachePlaylist = "public, max-age=10"
const cacheDefault = "public, max-age=3600"

func cacheControlFor(ext string) string {
	switch ext {
	case ".m3u8":
		return cachePlaylist
	case ".ts", ".mp4", ".webm", ".webp":
		return cacheImmutable
	default:
		return cacheDefault
	}
}

// ServeContent serves files under the content root. Range requests are
// honored through http.ServeContent, which implements the full RFC 7233
// forms including suffix ranges and 416 on unsatisfiable ones.
func (d *APIHandlersCollection) ServeContent() httprouter.Handle {
	root := d.Cfg.ContentDir

	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		rel := strings.TrimPrefix(ps.ByName("filepath"), "/")
		if rel == "" {
			errors.WriteHTTPNotFound(w, "Not found", nil)
			return
		}

		// Reject traversal before touching the filesystem.
		clean := filepath.Clean(filepath.FromSlash(rel))
		if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
			errors.WriteHTTPNotFound(w, "Not found", nil)
			return
		}
		full := filepath.Join(root, clean)

		f, err := os.Open(full)
		if err != nil {
			errors.WriteHTTPNotFound(w, "Not found", nil)
			return
		}
		defer f.Close()

		stat, err := f.Stat()
		if err != nil || stat.IsDir() {
			errors.WriteHTTPNotFound(w, "Not found", nil)
			return
		}

		ext := strings.ToLower(filepath.Ext(full))
		w.Header().Set("Cache-Control", cacheControlFor(ext))
		w.Header().Set("ETag", fmt.Sprintf(`"%x-%x"`, stat.Size(), stat.ModTime().UnixNano()))
		if contentType := mediaContentType(ext); contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}

		// ServeContent handles Range, If-Range, If-None-Match/ETag
		// revalidation, Last-Modified, and Accept-Ranges.
		http.ServeContent(w, req, stat.Name(), stat.ModTime(), f)
	}
}

func mediaContentType(ext string) string {
	switch ext {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}
