package project

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeAsset(t *testing.T, dir, name string, body []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBundleRoundTrip(t *testing.T) {
	work := t.TempDir()
	img := writeAsset(t, work, "pic.jpg", []byte("not-really-a-jpeg"))
	song := writeAsset(t, work, "song.mp3", []byte("not-really-audio"))

	p := New("demo")
	clip := NewClip(img, 4)
	clip.Overlays = []TextOverlay{NewCaptionOverlay("golden hour")}
	p.Clips = []Clip{clip}
	p.Lyrics = []LyricLine{NewLyricLine(2, 4, "verse one")}
	p.MainAudio = &AudioTrack{SourcePath: song, DurationSec: 30, Gain: 0.8}
	p.Settings.Transition = "zoom"
	p.Settings.TransitionSec = 0.7

	bundle := filepath.Join(work, "bundle")
	if err := SaveBundle(&p, bundle); err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}

	first, err := os.ReadFile(filepath.Join(bundle, "project.json"))
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadBundle(bundle)
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	if loaded.Name != "demo" || len(loaded.Clips) != 1 || len(loaded.Lyrics) != 1 {
		t.Fatalf("loaded shape wrong: %+v", loaded)
	}
	if loaded.Settings.Transition != "zoom" || loaded.Settings.TransitionSec != 0.7 {
		t.Errorf("settings lost: %+v", loaded.Settings)
	}
	if loaded.MainAudio.Gain != 0.8 {
		t.Errorf("gain lost: %v", loaded.MainAudio.Gain)
	}

	// Saving the loaded project back must be byte-identical.
	if err := SaveBundle(loaded, bundle); err != nil {
		t.Fatalf("re-SaveBundle: %v", err)
	}
	second, err := os.ReadFile(filepath.Join(bundle, "project.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("manifest changed across save/load/save:\n--- first\n%s\n--- second\n%s", first, second)
	}
}

func TestBundleCopiesAssets(t *testing.T) {
	work := t.TempDir()
	body := []byte("pixel soup")
	img := writeAsset(t, work, "pic.png", body)

	p := New("assets")
	clip := NewClip(img, 3)
	p.Clips = []Clip{clip}

	bundle := filepath.Join(work, "bundle")
	if err := SaveBundle(&p, bundle); err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}

	want := filepath.Join(bundle, "assets", clip.ID+".png")
	got, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("asset not copied: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Error("asset bytes differ from source")
	}
	if p.Clips[0].SourcePath != filepath.Join("assets", clip.ID+".png") {
		t.Errorf("source path not rewritten: %q", p.Clips[0].SourcePath)
	}
	if p.Dir != bundle {
		t.Errorf("project not anchored at bundle: %q", p.Dir)
	}
}

func TestLoadBundleRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	manifest := []byte(`{"id":"x","name":"bad","clips":[],"settings":{"width":640,"height":480,"fps":25,"transition":"fade","transitionSec":0.5}}`)
	if err := os.WriteFile(filepath.Join(dir, "project.json"), manifest, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadBundle(dir); err == nil {
		t.Error("invalid settings accepted at load")
	}
}
