package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gen2brain/go-fitz"
)

// A deliberately minimal single-page PDF. MuPDF repairs the missing xref
// table; if this build of the library refuses it, the tests skip rather
// than fail on an artifact of the fixture.
const tinyPDF = `%PDF-1.1
1 0 obj
<< /Type /Catalog /Pages 2 0 R >>
endobj
2 0 obj
<< /Type /Pages /Kids [3 0 R] /Count 1 >>
endobj
3 0 obj
<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] >>
endobj
trailer
<< /Root 1 0 R >>
`

func writeTinyPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiny.pdf")
	if err := os.WriteFile(path, []byte(tinyPDF), 0644); err != nil {
		t.Fatal(err)
	}
	if doc, err := fitz.New(path); err != nil {
		t.Skipf("fixture pdf not readable here: %v", err)
	} else {
		doc.Close()
	}
	return path
}

func TestClipsFromPDF(t *testing.T) {
	path := writeTinyPDF(t)
	cache := t.TempDir()

	clips, err := ClipsFromPDF(context.Background(), path, cache, 720, 2)
	if err != nil {
		t.Fatalf("ClipsFromPDF: %v", err)
	}
	if len(clips) != 1 {
		t.Fatalf("got %d clips, want 1", len(clips))
	}

	c := clips[0]
	if c.Image == nil {
		t.Fatal("page image not attached")
	}
	if h := c.Image.Bounds().Dy(); h < 600 {
		t.Errorf("page rendered at %dpx tall, want near 720", h)
	}
	if c.DurationSec != 0 {
		t.Errorf("duration = %v, want 0 for the caller to assign", c.DurationSec)
	}
	if _, err := os.Stat(c.SourcePath); err != nil {
		t.Errorf("cached still missing: %v", err)
	}
}

func TestClipsFromPDFMissingFile(t *testing.T) {
	_, err := ClipsFromPDF(context.Background(), "/does/not/exist.pdf", t.TempDir(), 720, 1)
	if err == nil {
		t.Error("missing pdf accepted")
	}
}

func TestPageDPI(t *testing.T) {
	tests := []struct {
		heightPts float64
		targetPx  int
		want      float64
	}{
		{792, 1080, 98.18181818181819}, // US letter to 1080p
		{200, 720, 259.2},
		{10000, 720, 72},  // floor
		{10, 720, 300},    // ceiling
		{0, 720, 150},     // unknown bounds
	}
	for _, tt := range tests {
		got := pageDPI(tt.heightPts, tt.targetPx)
		if diff := got - tt.want; diff > 0.01 || diff < -0.01 {
			t.Errorf("pageDPI(%v, %d) = %v, want %v", tt.heightPts, tt.targetPx, got, tt.want)
		}
	}
}
