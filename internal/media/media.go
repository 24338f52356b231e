// Package media persists inbound media and extracts text from images via an
// external OCR engine. OCR is best-effort enrichment: every failure path
// degrades to a fixed sentinel instead of propagating.
package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/sigclaw/internal/bus"
)

// OCRSentinel replaces the OCR text whenever the engine fails or times out.
const OCRSentinel = "(could not read image)"

// maxOCRDimension bounds the longest image edge handed to the OCR engine.
// Oversized photos are downscaled; small images pass through untouched.
const maxOCRDimension = 2400

// Result describes a processed attachment. Text is non-empty only for images
// with a usable OCR result or the sentinel; non-image media yields no text.
type Result struct {
	Path         string
	Text         string
	OCRAttempted bool
}

// Preprocessor saves inbound media to a per-run directory and runs OCR on
// image payloads.
type Preprocessor struct {
	dir        string
	ocrCommand string
	ocrTimeout time.Duration
}

// NewPreprocessor creates a preprocessor writing into dir. An empty
// ocrCommand disables text extraction.
func NewPreprocessor(dir, ocrCommand string, ocrTimeout time.Duration) *Preprocessor {
	if ocrTimeout <= 0 {
		ocrTimeout = 30 * time.Second
	}
	return &Preprocessor{dir: dir, ocrCommand: ocrCommand, ocrTimeout: ocrTimeout}
}

// Process persists the attachment and, for images, extracts text. The only
// hard error is a persistence failure; OCR problems degrade to OCRSentinel.
func (p *Preprocessor) Process(ctx context.Context, conversationID string, att bus.MediaAttachment) (Result, error) {
	path, err := p.save(conversationID, att)
	if err != nil {
		return Result{}, err
	}

	res := Result{Path: path}
	if !isImage(att.ContentType) {
		// Non-image media is persisted but not enriched; the original
		// message body passes through unchanged.
		return res, nil
	}
	if p.ocrCommand == "" {
		return res, nil
	}

	res.OCRAttempted = true
	res.Text = p.runOCR(ctx, path)
	return res, nil
}

// save writes the payload to {conversationId}_{timestamp}.{ext} in the media
// directory. Nanosecond timestamps keep names collision-resistant.
func (p *Preprocessor) save(conversationID string, att bus.MediaAttachment) (string, error) {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	data := att.Data
	if data == nil && att.Path != "" {
		var err error
		data, err = os.ReadFile(att.Path)
		if err != nil {
			return "", fmt.Errorf("read bridge media file: %w", err)
		}
	}

	name := fmt.Sprintf("%s_%d%s", sanitizeID(conversationID), time.Now().UnixNano(), extFor(att.ContentType))
	path := filepath.Join(p.dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("persist media: %w", err)
	}
	return path, nil
}

// runOCR normalizes the image and invokes the OCR engine with a bounded
// timeout. Any failure returns the sentinel.
func (p *Preprocessor) runOCR(ctx context.Context, path string) string {
	ocrInput := p.normalize(path)

	ctx, cancel := context.WithTimeout(ctx, p.ocrTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ocrCommand, ocrInput)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		slog.Warn("ocr failed", "path", ocrInput, "error", err, "stderr", strings.TrimSpace(stderr.String()))
		return OCRSentinel
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return OCRSentinel
	}
	return text
}

// normalize decodes the image honoring EXIF orientation and downscales very
// large photos before OCR. On any decode trouble the original file is used.
func (p *Preprocessor) normalize(path string) string {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return path
	}

	bounds := img.Bounds()
	if bounds.Dx() <= maxOCRDimension && bounds.Dy() <= maxOCRDimension {
		return path
	}

	resized := imaging.Fit(img, maxOCRDimension, maxOCRDimension, imaging.Lanczos)
	out := strings.TrimSuffix(path, filepath.Ext(path)) + "_ocr.png"
	if err := imaging.Save(resized, out); err != nil {
		slog.Warn("image normalize failed, using original", "path", path, "error", err)
		return path
	}
	return out
}

func isImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "image/")
}

func extFor(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/ogg", "audio/ogg; codecs=opus":
		return ".ogg"
	case "video/mp4":
		return ".mp4"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}

// sanitizeID maps a conversation id onto filesystem-safe characters.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, id)
}
