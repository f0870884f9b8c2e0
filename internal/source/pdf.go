package source

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/lyric2video/internal/project"
)

// ClipsFromPDF rasterizes every page of a PDF into PNG stills under
// cacheDir and returns one clip per page, in page order, with decoded
// images already attached. Durations are left at zero for the caller to
// distribute across the soundtrack.
func ClipsFromPDF(ctx context.Context, path, cacheDir string, targetHeight, workers int) ([]project.Clip, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf %s: %w", path, err)
	}
	pages := doc.NumPage()
	heights := make([]float64, pages)
	for i := 0; i < pages; i++ {
		if b, err := doc.Bound(i); err == nil {
			heights[i] = float64(b.Dy())
		}
	}
	doc.Close()

	if pages == 0 {
		return nil, fmt.Errorf("pdf %s has no pages", path)
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("creating page cache: %w", err)
	}
	if workers < 1 {
		workers = 1
	}

	clips := make([]project.Clip, pages)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < pages; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// Each worker opens its own document; a fitz handle cannot
			// render pages concurrently.
			wdoc, err := fitz.New(path)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			defer wdoc.Close()

			img, err := wdoc.ImageDPI(i, pageDPI(heights[i], targetHeight))
			if err != nil {
				return fmt.Errorf("rendering page %d: %w", i+1, err)
			}

			still := filepath.Join(cacheDir, fmt.Sprintf("page-%03d.png", i+1))
			f, err := os.Create(still)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			if err := png.Encode(f, img); err != nil {
				f.Close()
				return fmt.Errorf("encoding page %d: %w", i+1, err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}

			clip := project.NewClip(still, 0)
			clip.Image = img
			clips[i] = clip
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("importing pdf: %w", err)
	}
	return clips, nil
}

// pageDPI scales a page (points, 72 per inch) so its rendered height lands
// near the output height, clamped to a sane range.
func pageDPI(pageHeightPts float64, targetHeight int) float64 {
	if pageHeightPts <= 0 || targetHeight <= 0 {
		return 150
	}
	dpi := 72 * float64(targetHeight) / pageHeightPts
	if dpi < 72 {
		return 72
	}
	if dpi > 300 {
		return 300
	}
	return dpi
}
