package assist

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivlev/lyric2video/internal/logging"
	"github.com/ivlev/lyric2video/internal/project"
)

const (
	transcribeTimeout = 5 * time.Minute
	transcribeRetries = 3
)

// Transcriber uploads audio to a whisper server and turns the SRT it
// returns into timed lyric lines.
type Transcriber struct {
	client  *http.Client
	baseURL string
	backoff time.Duration
	log     zerolog.Logger
}

// NewTranscriber points at a whisper server, e.g. "http://localhost:8086".
func NewTranscriber(baseURL string) *Transcriber {
	return &Transcriber{
		client:  &http.Client{Timeout: transcribeTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		backoff: time.Second,
		log:     logging.WithComponent("assist"),
	}
}

type transcribeResponse struct {
	Text string `json:"text"`
	SRT  string `json:"srt"`
}

// Transcribe sends the audio file for transcription and returns the parsed
// lyric lines. language may be empty for auto-detection. Transient server
// failures are retried with backoff; the returned error means no usable
// transcription was obtained and nothing should change in the project.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath, language string) ([]project.LyricLine, error) {
	var lastErr error
	for attempt := 0; attempt < transcribeRetries; attempt++ {
		if attempt > 0 {
			backoff := t.backoff << (attempt - 1)
			t.log.Warn().Err(lastErr).Dur("backoff", backoff).Msg("transcription retry")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		srt, err := t.request(ctx, audioPath, language)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}

		lines, err := ParseSRT(srt)
		if err != nil {
			lastErr = err
			continue
		}
		return lines, nil
	}
	return nil, fmt.Errorf("assist: transcription failed after %d attempts: %w", transcribeRetries, lastErr)
}

func (t *Transcriber) request(ctx context.Context, audioPath, language string) (string, error) {
	audio, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("assist: open audio: %w", err)
	}
	defer audio.Close()

	var form bytes.Buffer
	w := multipart.NewWriter(&form)
	part, err := w.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("assist: build form: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("assist: copy audio into form: %w", err)
	}
	if language != "" {
		if err := w.WriteField("language", language); err != nil {
			return "", fmt.Errorf("assist: build form: %w", err)
		}
	}
	if err := w.WriteField("output_srt", "true"); err != nil {
		return "", fmt.Errorf("assist: build form: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("assist: finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/transcribe", &form)
	if err != nil {
		return "", fmt.Errorf("assist: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("assist: call whisper server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("assist: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("assist: whisper server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed transcribeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("assist: decode response: %w", err)
	}
	if parsed.SRT == "" {
		return "", errors.New("assist: whisper server returned no SRT payload")
	}
	return parsed.SRT, nil
}

// ParseSRT converts SRT text into lyric lines. Multi-line cues collapse to
// a single line, malformed cues are skipped, and an SRT with no usable cue
// at all is an error.
func ParseSRT(srt string) ([]project.LyricLine, error) {
	var lines []project.LyricLine

	sc := bufio.NewScanner(strings.NewReader(srt))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var cue []string
	flush := func() {
		block := cue
		cue = nil
		// A numeric first line is the cue index; drop it.
		if len(block) >= 3 {
			if _, err := strconv.Atoi(strings.TrimSpace(block[0])); err == nil {
				block = block[1:]
			}
		}
		if len(block) < 2 {
			return
		}
		start, end, ok := parseSRTRange(block[0])
		if !ok {
			return
		}
		text := strings.TrimSpace(strings.Join(block[1:], " "))
		if text == "" {
			return
		}
		lines = append(lines, project.NewLyricLine(start, end, text))
	}

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cue = append(cue, line)
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("assist: scan srt: %w", err)
	}

	if len(lines) == 0 {
		return nil, errors.New("assist: srt contained no cues")
	}
	return lines, nil
}

// parseSRTRange reads "HH:MM:SS,mmm --> HH:MM:SS,mmm".
func parseSRTRange(s string) (start, end float64, ok bool) {
	left, right, found := strings.Cut(s, "-->")
	if !found {
		return 0, 0, false
	}
	start, okA := srtTimeToSeconds(strings.TrimSpace(left))
	end, okB := srtTimeToSeconds(strings.TrimSpace(right))
	if !okA || !okB || end < start {
		return 0, 0, false
	}
	return start, end, true
}

// srtTimeToSeconds reads "HH:MM:SS,mmm". A dot separator for the millis is
// tolerated since whisper emits it before conversion.
func srtTimeToSeconds(s string) (float64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	secPart := strings.Replace(parts[2], ",", ".", 1)

	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.ParseFloat(secPart, 64)
	if err1 != nil || err2 != nil || err3 != nil || h < 0 || m < 0 || sec < 0 {
		return 0, false
	}
	return float64(h)*3600 + float64(m)*60 + sec, true
}
