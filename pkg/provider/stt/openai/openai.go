// Package openai provides a transcriber backed by the OpenAI audio
// transcription API (Whisper and the gpt-4o transcribe models).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

const providerName = "openai"

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = string(oai.AudioModelWhisper1)

// Ensure Transcriber implements the stt.Transcriber interface.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber implements stt.Transcriber using the OpenAI API.
type Transcriber struct {
	client oai.Client
	model  string
	prompt string
}

// config holds optional configuration for the transcriber.
type config struct {
	baseURL      string
	organization string
	prompt       string
	timeout      time.Duration
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithPrompt sets a text prompt that guides vocabulary and style.
func WithPrompt(prompt string) Option {
	return func(c *config) {
		c.prompt = prompt
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI Transcriber.
// If model is empty, DefaultModel (whisper-1) is used.
//
// The SDK's own retries are disabled: retrying is the pipeline's decision.
func New(apiKey string, model string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Transcriber{
		client: oai.NewClient(reqOpts...),
		model:  model,
		prompt: cfg.prompt,
	}, nil
}

// Model returns the configured transcription model.
func (t *Transcriber) Model() string { return t.model }

// Transcribe implements stt.Transcriber.
//
// API errors carrying an HTTP status and transport failures are reported as
// *stt.ServiceError. An empty transcript is stt.ErrUnintelligible.
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	wav := audio.EncodeWAV(req.Audio, req.SampleRate, 1)
	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model:          oai.AudioModel(t.model),
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if lang := stt.BaseLanguage(req.Language); lang != "" {
		params.Language = oai.String(lang)
	}
	if t.prompt != "" {
		params.Prompt = oai.String(t.prompt)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", classify(ctx, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", stt.ErrUnintelligible
	}
	return text, nil
}

// classify maps SDK errors onto the stt error taxonomy.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("openai stt: %w", ctx.Err())
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		// 4xx other than auth and rate limits means the request itself was
		// rejected, which retrying elsewhere will not fix.
		switch {
		case apiErr.StatusCode == http.StatusBadRequest,
			apiErr.StatusCode == http.StatusRequestEntityTooLarge,
			apiErr.StatusCode == http.StatusUnprocessableEntity:
			return fmt.Errorf("openai stt: request rejected: %w", err)
		default:
			return stt.Unavailable(providerName, apiErr.StatusCode, err)
		}
	}
	return stt.Unavailable(providerName, 0, err)
}
