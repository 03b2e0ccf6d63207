package api

import (
	"context"  // Engine health check
	"fmt"      // Error detail
	"io"       // Upload reading
	"net/http" // HTTP status codes
	"time"     // Duration ceiling

	"budget_system/internal/transcribe" // Speech-to-text client

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Structured logging
)

// Transcriber is the engine used by the transcription endpoints
type Transcriber interface {
	transcribe.Transcriber
	Ping(ctx context.Context) error
}

// TranscriptionSettings are the limits applied to uploads
type TranscriptionSettings struct {
	Model       string
	MaxDuration time.Duration
	MaxBytes    int64
	Language    string // Default language hint
}

// TranscribeHandler transcribes an uploaded voice note
func TranscribeHandler(engine Transcriber, opts TranscriptionSettings) gin.HandlerFunc {
	return func(c *gin.Context) {
		header, err := c.FormFile("audio_file") // Multipart field name
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
			return
		}
		if header.Size > opts.MaxBytes {
			writeError(c, fmt.Errorf("%w: %.1fMB exceeds %dMB", transcribe.ErrTooLarge,
				float64(header.Size)/1024/1024, opts.MaxBytes/1024/1024), "transcribe")
			return
		}
		f, err := header.Open()
		if err != nil {
			writeError(c, err, "transcribe")
			return
		}
		defer f.Close()
		audio, err := io.ReadAll(io.LimitReader(f, opts.MaxBytes+1))
		if err != nil {
			writeError(c, err, "transcribe")
			return
		}
		if int64(len(audio)) > opts.MaxBytes {
			writeError(c, transcribe.ErrTooLarge, "transcribe")
			return
		}
		if _, err := transcribe.CheckFormat(audio, header.Header.Get("Content-Type")); err != nil {
			writeError(c, err, "transcribe")
			return
		}

		language := c.DefaultPostForm("language", opts.Language)
		result, err := engine.Transcribe(c.Request.Context(), audio, opts.MaxDuration, language)
		if err != nil {
			logrus.WithFields(logrus.Fields{"user_id": currentUser(c), "error": err.Error()}).Warn("Transcription failed")
			writeError(c, err, "transcribe")
			return
		}
		logrus.WithFields(logrus.Fields{"user_id": currentUser(c), "duration": result.Duration}).Info("Transcription served")
		c.JSON(http.StatusOK, result)
	}
}

// SupportedFormatsHandler lists accepted audio MIME types
func SupportedFormatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, transcribe.SupportedFormats())
	}
}

// TranscriptionStatusHandler reports whether the engine is reachable and the limits in force
func TranscriptionStatusHandler(engine Transcriber, opts TranscriptionSettings) gin.HandlerFunc {
	return func(c *gin.Context) {
		available := engine.Ping(c.Request.Context()) == nil
		c.JSON(http.StatusOK, gin.H{
			"available":            available,
			"model":                opts.Model,
			"max_duration_seconds": int(opts.MaxDuration.Seconds()),
			"max_file_size_mb":     opts.MaxBytes / 1024 / 1024,
			"primary_language":     opts.Language,
			"supported_formats":    transcribe.SupportedFormats(),
		})
	}
}
