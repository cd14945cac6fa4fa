package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ogxcoders/videopress/video"
)

// Layout is the deterministic output directory for one job:
// <contentRoot>/<YYYY>/<MM>/<postId>/. Every path the pipeline writes lives
// under it, so reprocessing a post only ever touches its own partition.
type Layout struct {
	ContentRoot string
	Year        int
	Month       int
	PostID      int64
}

func NewLayout(contentRoot string, year, month int, postID int64) Layout {
	return Layout{ContentRoot: contentRoot, Year: year, Month: month, PostID: postID}
}

// RelDir is the directory relative to the content root, e.g. "2025/01/42".
func (l Layout) RelDir() string {
	return filepath.Join(fmt.Sprintf("%04d", l.Year), fmt.Sprintf("%02d", l.Month), fmt.Sprintf("%d", l.PostID))
}

func (l Layout) Dir() string {
	return filepath.Join(l.ContentRoot, l.RelDir())
}

func (l Layout) HLSDir() string {
	return filepath.Join(l.Dir(), "hls")
}

// OriginalPath keeps the source extension so probing sees the right container hint.
func (l Layout) OriginalPath(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "mp4"
	}
	return filepath.Join(l.Dir(), "original."+ext)
}

func (l Layout) CompressedPath(q video.Quality) string {
	return filepath.Join(l.Dir(), fmt.Sprintf("compressed_%s.mp4", q))
}

func (l Layout) PlaylistPath(q video.Quality) string {
	return filepath.Join(l.HLSDir(), fmt.Sprintf("%s.m3u8", q))
}

func (l Layout) MasterPlaylistPath() string {
	return filepath.Join(l.HLSDir(), "master.m3u8")
}

func (l Layout) ThumbnailPath() string {
	return filepath.Join(l.Dir(), "thumbnail.webp")
}

// PublicURL builds the public URL for a file in this layout:
// <baseUrl>/content/<YYYY>/<MM>/<postId>/<name...>.
func (l Layout) PublicURL(baseURL string, name ...string) string {
	parts := append([]string{
		"content",
		fmt.Sprintf("%04d", l.Year),
		fmt.Sprintf("%02d", l.Month),
		fmt.Sprintf("%d", l.PostID),
	}, name...)
	return strings.TrimRight(baseURL, "/") + "/" + strings.Join(parts, "/")
}

// Clean removes every output of a previous attempt so reprocessing is
// idempotent. It runs before any new write, never concurrently with one.
func (l Layout) Clean() error {
	dir := l.Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create layout directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read layout directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		stale := name == "hls" ||
			strings.HasPrefix(name, "original.") ||
			strings.HasPrefix(name, "compressed_") ||
			strings.HasPrefix(name, "thumbnail.")
		if !stale {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", name, err)
		}
	}
	return nil
}
