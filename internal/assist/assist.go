// Package assist talks to the remote helpers that draft content for a
// project: a Gemini vision model for clip captions and a local whisper
// server for lyric transcription.
//
// Both helpers are best effort and never touch project state themselves.
// Captions degrade to a safe stock line when the model is unreachable;
// transcription surfaces its error and leaves the caller's lyrics alone.
package assist

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/lyric2video/internal/logging"
	"github.com/ivlev/lyric2video/internal/project"
)

const (
	geminiBaseURL  = "https://generativelanguage.googleapis.com/v1beta"
	captionTimeout = 60 * time.Second

	// GenericCaption stands in whenever the model cannot produce one.
	GenericCaption = "a moment worth keeping"

	maxCaptionRunes = 90
)

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *geminiInline `json:"inline_data,omitempty"`
}

type geminiInline struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Captioner produces one-line overlay captions for clip images.
type Captioner struct {
	client  *http.Client
	baseURL string
	model   string
	apiKey  string
	log     zerolog.Logger
}

// NewCaptioner reads the API key from GEMINI_API_KEY. A missing key is not
// an error here; every Caption call will then return the stock caption.
func NewCaptioner(model string) *Captioner {
	return &Captioner{
		client:  &http.Client{Timeout: captionTimeout},
		baseURL: geminiBaseURL,
		model:   model,
		apiKey:  os.Getenv("GEMINI_API_KEY"),
		log:     logging.WithComponent("assist"),
	}
}

// Caption asks the model for a short overlay line describing the image.
// On any failure it returns the stock caption together with the error, so
// callers can always place an overlay and still report what went wrong.
func (c *Captioner) Caption(ctx context.Context, imagePath, style string) (string, error) {
	if c.apiKey == "" {
		return GenericCaption, errors.New("assist: GEMINI_API_KEY is not set")
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return GenericCaption, fmt.Errorf("assist: read image: %w", err)
	}

	reqBody := geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{Text: captionPrompt(style)},
				{InlineData: &geminiInline{
					MIMEType: imageMIME(imagePath),
					Data:     base64.StdEncoding.EncodeToString(data),
				}},
			},
		}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return GenericCaption, fmt.Errorf("assist: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return GenericCaption, fmt.Errorf("assist: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return GenericCaption, fmt.Errorf("assist: call model: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return GenericCaption, fmt.Errorf("assist: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return GenericCaption, fmt.Errorf("assist: model returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return GenericCaption, fmt.Errorf("assist: decode response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return GenericCaption, errors.New("assist: empty model response")
	}

	caption := cleanCaption(parsed.Candidates[0].Content.Parts[0].Text)
	if caption == "" {
		return GenericCaption, errors.New("assist: model produced no usable text")
	}
	return caption, nil
}

// CaptionClips adds one caption overlay to every clip that has none yet.
// Requests run concurrently up to limit. Individual failures fall back to
// the stock caption and are logged rather than aborting the batch; only
// context cancellation stops it early. Returns the number of overlays added.
func (c *Captioner) CaptionClips(ctx context.Context, ed *project.Editor, style string, limit int) (int, error) {
	snap := ed.Snapshot()

	type job struct {
		clipID string
		path   string
	}
	var jobs []job
	for i := range snap.Clips {
		clip := &snap.Clips[i]
		if len(clip.Overlays) > 0 {
			continue
		}
		jobs = append(jobs, job{clipID: clip.ID, path: snap.Resolve(clip.SourcePath)})
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	if limit < 1 {
		limit = 1
	}
	captions := make([]string, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := c.Caption(gctx, j.path, style)
			if err != nil {
				c.log.Warn().Err(err).Str("clip", j.clipID).Msg("caption fell back to stock line")
			}
			captions[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	added := 0
	for i, j := range jobs {
		if err := ed.AddOverlay(j.clipID, project.NewCaptionOverlay(captions[i])); err != nil {
			// Clip was removed while we were captioning.
			c.log.Warn().Err(err).Str("clip", j.clipID).Msg("clip vanished before caption landed")
			continue
		}
		added++
	}
	return added, nil
}

// captionPrompt shapes the request for the configured house style.
func captionPrompt(style string) string {
	base := "Write one short caption for this photo, to be overlaid on it in a music video. " +
		"At most eight words. Plain text only: no quotes, no hashtags, no emoji."
	switch style {
	case "romantic":
		return base + " Make it tender and intimate."
	case "energetic":
		return base + " Make it punchy and upbeat."
	case "minimal":
		return base + " Make it understated, three words or fewer."
	default:
		return base
	}
}

// cleanCaption reduces model output to a single overlay-sized line.
func cleanCaption(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.Trim(s, `"'`)
	s = strings.TrimSuffix(s, ".")
	runes := []rune(s)
	if len(runes) > maxCaptionRunes {
		s = strings.TrimSpace(string(runes[:maxCaptionRunes]))
	}
	return s
}

func imageMIME(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
