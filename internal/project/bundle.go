package project

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// A saved project is a directory bundle:
//
//	<dir>/project.json   metadata (this package's types)
//	<dir>/assets/        original image and audio bytes, named by entity id
//
// Source paths inside the bundle are stored relative to the bundle root so
// the directory can be moved or copied as a unit.

const (
	bundleManifest = "project.json"
	bundleAssets   = "assets"
)

// SaveBundle writes the project to dir, copying every referenced asset into
// the bundle and rewriting source paths to bundle-relative form. On return
// the in-memory project is anchored at dir, so an immediate second save
// produces byte-identical output.
func SaveBundle(p *Project, dir string) error {
	assetsDir := filepath.Join(dir, bundleAssets)
	if err := os.MkdirAll(assetsDir, 0755); err != nil {
		return fmt.Errorf("creating bundle: %w", err)
	}

	for i := range p.Clips {
		c := &p.Clips[i]
		rel, err := stashAsset(p, dir, c.SourcePath, c.ID)
		if err != nil {
			return fmt.Errorf("clip %s: %w", c.ID, err)
		}
		c.SourcePath = rel
	}
	if p.MainAudio != nil {
		rel, err := stashAsset(p, dir, p.MainAudio.SourcePath, "main-audio")
		if err != nil {
			return fmt.Errorf("main audio: %w", err)
		}
		p.MainAudio.SourcePath = rel
	}
	if p.Background != nil {
		rel, err := stashAsset(p, dir, p.Background.SourcePath, "background-audio")
		if err != nil {
			return fmt.Errorf("background audio: %w", err)
		}
		p.Background.SourcePath = rel
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding project: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(dir, bundleManifest), data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	p.Dir = dir
	return nil
}

// LoadBundle reads and validates the project stored in dir. Image handles
// are not attached; use source.Attach for that.
func LoadBundle(dir string) (*Project, error) {
	data, err := os.ReadFile(filepath.Join(dir, bundleManifest))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding project: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.Dir = dir
	return &p, nil
}

// stashAsset copies the asset at src into the bundle under a deterministic
// name and returns the bundle-relative path. Copying is skipped when source
// and destination are the same file (re-saving in place).
func stashAsset(p *Project, dir, src, id string) (string, error) {
	if src == "" {
		return "", nil
	}
	ext := filepath.Ext(src)
	if ext == "" {
		ext = ".bin"
	}
	rel := filepath.Join(bundleAssets, id+ext)
	dst := filepath.Join(dir, rel)

	resolved := p.Resolve(src)
	absSrc, err1 := filepath.Abs(resolved)
	absDst, err2 := filepath.Abs(dst)
	if err1 == nil && err2 == nil && absSrc == absDst {
		return rel, nil
	}

	in, err := os.Open(resolved)
	if err != nil {
		return "", fmt.Errorf("opening asset: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("creating asset copy: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", fmt.Errorf("copying asset: %w", err)
	}
	return rel, nil
}
