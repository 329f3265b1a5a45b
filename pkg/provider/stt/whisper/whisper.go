// Package whisper provides an stt.Provider backed by the whisper.cpp CGO
// bindings, for fully local transcription. The whisper.cpp static library
// (libwhisper.a) and headers must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH.
//
// The model is loaded once at construction and shared across all segments;
// each Transcribe call creates its own whisper context, so concurrent calls
// are safe.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voxnote/voxnote/pkg/provider/stt"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

const defaultLanguage = "en"

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code for transcription (e.g., "en", "de").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// Provider implements stt.Provider using an in-process whisper.cpp model.
type Provider struct {
	model    whisperlib.Model
	language string
}

// New loads the whisper.cpp model from modelPath. The caller must Close the
// provider when done.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &Provider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the loaded model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp inference over the segment. Word timestamps are
// interpolated within each whisper segment span: the bindings expose timing
// per segment, not per word, so words share the span proportionally. That is
// coarse but sufficient for the downstream zero-duration check.
func (p *Provider) Transcribe(ctx context.Context, seg stt.Segment) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if len(seg.Samples) == 0 {
		return stt.Result{}, errors.New("whisper: empty segment")
	}

	// Each whisper context is not thread-safe; the model is.
	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using model default",
			"language", p.language, "error", err)
	}

	samples := seg.Samples
	if seg.SampleRate != stt.WhisperSampleRate {
		return stt.Result{}, fmt.Errorf("whisper: expects %d Hz input, got %d Hz",
			stt.WhisperSampleRate, seg.SampleRate)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts []string
		words []stt.Word
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		words = append(words, interpolateWords(text,
			segment.Start.Seconds(), segment.End.Seconds())...)
	}

	return stt.Result{
		Text:            strings.Join(parts, " "),
		Words:           words,
		DurationSeconds: seg.DurationSeconds(),
	}, nil
}

// interpolateWords splits text on whitespace and spreads the words evenly
// over [start, end].
func interpolateWords(text string, start, end float64) []stt.Word {
	fields := strings.Fields(text)
	if len(fields) == 0 || end <= start {
		return nil
	}
	span := (end - start) / float64(len(fields))
	words := make([]stt.Word, len(fields))
	for i, f := range fields {
		words[i] = stt.Word{
			Word:  f,
			Start: start + float64(i)*span,
			End:   start + float64(i+1)*span,
		}
	}
	return words
}
