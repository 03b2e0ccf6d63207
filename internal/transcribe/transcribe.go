// Package transcribe turns short voice notes into text through an external
// speech-to-text engine.
package transcribe

import (
	"bytes"           // Request bodies
	"context"         // Request scoping
	"encoding/binary" // WAV header fields
	"encoding/json"   // Engine responses
	"errors"          // Sentinel errors
	"fmt"             // Error wrapping
	"io"              // Body draining
	"mime/multipart"  // Upload encoding
	"net/http"        // Engine transport
	"sort"            // Stable format listing
	"strconv"         // Form values
	"strings"         // URL joining
	"time"            // Timeouts

	"github.com/gabriel-vasile/mimetype" // Content sniffing
	"github.com/sirupsen/logrus"         // Structured logging
)

// Transcription errors
var (
	ErrTooLong     = errors.New("audio too long")           // Clip exceeds the duration ceiling
	ErrTooLarge    = errors.New("audio too large")          // Upload exceeds the size ceiling
	ErrUnsupported = errors.New("unsupported audio format") // MIME type outside the allow-list
	ErrEngine      = errors.New("transcription failed")     // Engine answered with an error
	ErrUnavailable = errors.New("transcriber unavailable")  // Engine not configured or unreachable
)

// DefaultMaxBytes is the upload ceiling when none is configured
const DefaultMaxBytes = 10 * 1024 * 1024

// supportedFormats is the declared content-type allow-list
var supportedFormats = map[string]bool{
	"audio/wav": true, "audio/wave": true, "audio/x-wav": true,
	"audio/mpeg": true, "audio/mp3": true, "audio/x-mp3": true,
	"audio/mp4": true, "audio/m4a": true, "audio/x-m4a": true,
	"audio/ogg": true, "audio/x-ogg": true,
	"audio/flac": true, "audio/x-flac": true,
	"audio/webm": true, "audio/x-webm": true,
}

// Containers that sniff as non-audio but carry audio tracks
var sniffedContainers = []string{"video/mp4", "video/webm", "application/ogg"}

// SupportedFormats lists the accepted MIME types, sorted
func SupportedFormats() []string {
	out := make([]string, 0, len(supportedFormats))
	for f := range supportedFormats {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Result is a finished transcription
type Result struct {
	Text       string   `json:"text"`
	Language   string   `json:"language"`
	Duration   float64  `json:"duration"`             // Seconds
	Confidence *float64 `json:"confidence,omitempty"` // Engine's estimate when it reports one
}

// Transcriber converts audio to text
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, maxDuration time.Duration, language string) (Result, error)
}

// Client talks to a speech-to-text engine over HTTP
type Client struct {
	baseURL  string
	model    string
	maxBytes int64
	http     *http.Client
}

// NewClient creates an engine client. An empty baseURL yields a client whose
// every call fails with ErrUnavailable.
func NewClient(baseURL, model string, maxBytes int64) *Client {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		model:    model,
		maxBytes: maxBytes,
		http:     &http.Client{Timeout: 2 * time.Minute},
	}
}

// Configured reports whether an engine URL is set
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Model is the engine model name sent with each request
func (c *Client) Model() string {
	return c.model
}

// MaxBytes is the upload ceiling
func (c *Client) MaxBytes() int64 {
	return c.maxBytes
}

// Ping checks that the engine answers its health endpoint
func (c *Client) Ping(ctx context.Context) error {
	if !c.Configured() {
		return ErrUnavailable
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// CheckFormat validates a declared content type (may be empty) and the sniffed
// content of audio, returning the sniffed MIME type
func CheckFormat(audio []byte, declared string) (string, error) {
	if declared != "" && declared != "application/octet-stream" {
		if !supportedFormats[strings.ToLower(strings.TrimSpace(strings.Split(declared, ";")[0]))] {
			return "", fmt.Errorf("%w: %s", ErrUnsupported, declared)
		}
	}
	mtype := mimetype.Detect(audio)
	if strings.HasPrefix(mtype.String(), "audio/") {
		return mtype.String(), nil
	}
	for _, container := range sniffedContainers {
		if mtype.Is(container) {
			return mtype.String(), nil
		}
	}
	return "", fmt.Errorf("%w: content looks like %s", ErrUnsupported, mtype.String())
}

// WAVDuration reads the clip length from a RIFF/WAVE header. ok is false for
// other containers or malformed headers.
func WAVDuration(audio []byte) (d time.Duration, ok bool) {
	if len(audio) < 12 || string(audio[0:4]) != "RIFF" || string(audio[8:12]) != "WAVE" {
		return 0, false
	}
	var byteRate uint32
	pos := 12
	for pos+8 <= len(audio) {
		id := string(audio[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(audio[pos+4 : pos+8]))
		body := pos + 8
		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(audio) {
				return 0, false
			}
			byteRate = binary.LittleEndian.Uint32(audio[body+8 : body+12])
		case "data":
			if byteRate == 0 {
				return 0, false
			}
			if avail := len(audio) - body; size > avail {
				size = avail // Truncated or streamed file
			}
			return time.Duration(float64(size) / float64(byteRate) * float64(time.Second)), true
		}
		pos = body + size + size%2 // Chunks are word aligned
	}
	return 0, false
}

type engineResponse struct {
	Text       string   `json:"text"`
	Language   string   `json:"language"`
	Duration   float64  `json:"duration"`
	Confidence *float64 `json:"confidence"`
	Error      string   `json:"error"`
}

// Transcribe sends audio to the engine. Size and, for WAV, duration are
// checked before the engine is called; other containers pass the ceiling on
// to the engine, which answers 413 when it is exceeded.
func (c *Client) Transcribe(ctx context.Context, audio []byte, maxDuration time.Duration, language string) (Result, error) {
	if !c.Configured() {
		return Result{}, ErrUnavailable
	}
	if int64(len(audio)) > c.maxBytes {
		return Result{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(audio), c.maxBytes)
	}
	if _, err := CheckFormat(audio, ""); err != nil {
		return Result{}, err
	}
	if d, ok := WAVDuration(audio); ok && maxDuration > 0 && d > maxDuration {
		return Result{}, fmt.Errorf("%w: %.1fs exceeds %.0fs", ErrTooLong, d.Seconds(), maxDuration.Seconds())
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "audio")
	if err != nil {
		return Result{}, err
	}
	if _, err := part.Write(audio); err != nil {
		return Result{}, err
	}
	fields := map[string]string{
		"model":        c.model,
		"language":     language,
		"max_duration": strconv.Itoa(int(maxDuration.Seconds())),
	}
	for k, v := range fields {
		if err := form.WriteField(k, v); err != nil {
			return Result{}, err
		}
	}
	if err := form.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var out engineResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out)
	switch {
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return Result{}, fmt.Errorf("%w: %s", ErrTooLong, out.Error)
	case resp.StatusCode == http.StatusServiceUnavailable:
		return Result{}, fmt.Errorf("%w: %s", ErrUnavailable, out.Error)
	case resp.StatusCode != http.StatusOK:
		return Result{}, fmt.Errorf("%w: engine returned %d %s", ErrEngine, resp.StatusCode, out.Error)
	case decodeErr != nil:
		return Result{}, fmt.Errorf("%w: bad engine response: %v", ErrEngine, decodeErr)
	}
	if out.Language == "" {
		out.Language = language
	}

	logrus.WithFields(logrus.Fields{
		"bytes":    len(audio),
		"duration": out.Duration,
		"language": out.Language,
		"took_ms":  time.Since(start).Milliseconds(),
	}).Info("Audio transcribed")
	return Result{
		Text:       strings.TrimSpace(out.Text),
		Language:   out.Language,
		Duration:   out.Duration,
		Confidence: out.Confidence,
	}, nil
}
