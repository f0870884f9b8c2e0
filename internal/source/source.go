// Package source loads project assets: still images from files or
// directories, clip stills rasterized from PDF pages, and the decoded
// handles the compositor draws from.
package source

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	// Registered decoders for everything the editor accepts.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/lyric2video/internal/logging"
	"github.com/ivlev/lyric2video/internal/project"
)

var imageExts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}
var audioExts = []string{".mp3", ".wav", ".m4a", ".ogg", ".aac", ".flac"}

// Decode reads and decodes one image file.
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

// IsImagePath reports whether the file name carries a supported image
// extension.
func IsImagePath(path string) bool {
	return hasExt(path, imageExts)
}

// ImagesInDir lists the image files directly inside dir, sorted by name so
// a numbered photo dump imports in order.
func ImagesInDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !hasExt(e.Name(), imageExts) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	sort.Strings(paths)
	return paths, nil
}

// NewestAudio picks the most recently modified audio file in dir, for the
// drop-a-file-in-a-folder workflow.
func NewestAudio(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", dir, err)
	}

	var newest string
	var newestTime time.Time
	for _, e := range entries {
		if e.IsDir() || !hasExt(e.Name(), audioExts) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(newestTime) {
			newestTime = info.ModTime()
			newest = filepath.Join(dir, e.Name())
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no audio files found in %s", dir)
	}
	return newest, nil
}

// Attach decodes image handles for every clip that does not have one yet,
// a bounded number at a time. A clip whose file is missing or undecodable
// is logged and skipped; the compositor renders it as an empty layer. The
// project must not be mutated elsewhere while Attach runs.
//
// Returns the number of clips that got an image.
func Attach(ctx context.Context, p *project.Project, workers int) (int, error) {
	log := logging.WithComponent("source")
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	attached := make([]bool, len(p.Clips))
	for i := range p.Clips {
		if p.Clips[i].Image != nil || p.Clips[i].SourcePath == "" {
			continue
		}
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := Decode(p.Resolve(p.Clips[i].SourcePath))
			if err != nil {
				log.Warn().Err(err).Str("clip", p.Clips[i].ID).Msg("clip image unavailable")
				return nil
			}
			p.Clips[i].Image = img
			attached[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("attaching clip images: %w", err)
	}

	n := 0
	for _, ok := range attached {
		if ok {
			n++
		}
	}
	log.Debug().Int("attached", n).Int("clips", len(p.Clips)).Msg("clip images attached")
	return n, nil
}

func hasExt(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
