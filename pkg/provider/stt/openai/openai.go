// Package openai provides an stt.Provider backed by the hosted OpenAI audio
// transcription API (whisper-1).
//
// Segments are submitted as WAV with verbose JSON output and word-level
// timestamp granularity, so the hallucination gate downstream gets real
// alignment data to inspect.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voxnote/voxnote/pkg/provider/stt"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel overrides the transcription model. Defaults to whisper-1.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the ISO-639-1 language hint (e.g., "en"). Empty lets the
// API auto-detect.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithBaseURL overrides the API endpoint, e.g. for an OpenAI-compatible
// gateway.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements stt.Provider against the OpenAI transcription API.
// Safe for concurrent use.
type Provider struct {
	client   openai.Client
	model    string
	language string
	baseURL  string
}

// New creates a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{model: string(openai.AudioModelWhisper1)}
	for _, o := range opts {
		o(p)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = openai.NewClient(clientOpts...)
	return p, nil
}

// verboseTranscription mirrors the verbose_json response shape. The SDK's
// typed Transcription only surfaces the text, so the word timing is decoded
// from the raw response JSON.
type verboseTranscription struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Words    []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

// Transcribe submits one segment and returns the transcription with
// word-level timestamps.
func (p *Provider) Transcribe(ctx context.Context, seg stt.Segment) (stt.Result, error) {
	if len(seg.Samples) == 0 {
		return stt.Result{}, errors.New("openai: empty segment")
	}

	wav := stt.EncodeWAV(seg.Samples, seg.SampleRate)
	params := openai.AudioTranscriptionNewParams{
		File:                   openai.File(bytes.NewReader(wav), "segment.wav", "audio/wav"),
		Model:                  openai.AudioModel(p.model),
		ResponseFormat:         openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"word"},
	}
	if p.language != "" {
		params.Language = openai.String(p.language)
	}

	tr, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai: transcribe segment: %w", err)
	}

	res := stt.Result{
		Text:            strings.TrimSpace(tr.Text),
		DurationSeconds: seg.DurationSeconds(),
	}

	var verbose verboseTranscription
	if err := json.Unmarshal([]byte(tr.RawJSON()), &verbose); err == nil {
		if verbose.Duration > 0 {
			res.DurationSeconds = verbose.Duration
		}
		for _, w := range verbose.Words {
			res.Words = append(res.Words, stt.Word{Word: w.Word, Start: w.Start, End: w.End})
		}
	}
	return res, nil
}
