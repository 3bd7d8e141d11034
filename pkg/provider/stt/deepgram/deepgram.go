// Package deepgram provides a Deepgram-backed transcriber using the Deepgram
// streaming WebSocket API. It implements the stt.Transcriber interface.
//
// Each Transcribe call opens a dedicated stream, sends the segment as a
// sequence of binary chunks followed by a CloseStream message, and collects
// every final result until Deepgram closes the stream.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	providerName     = "deepgram"
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"

	// chunkMs is the amount of audio sent per WebSocket message.
	chunkMs = 100
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring the Deepgram Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithDefaultLanguage sets the BCP-47 language used when a request carries
// none. Defaults to "en".
func WithDefaultLanguage(language string) Option {
	return func(t *Transcriber) {
		t.language = language
	}
}

// WithEndpoint overrides the streaming endpoint URL. Intended for tests and
// self-hosted deployments.
func WithEndpoint(endpoint string) Option {
	return func(t *Transcriber) {
		t.endpoint = endpoint
	}
}

// Transcriber implements stt.Transcriber backed by the Deepgram streaming API.
// It is safe for concurrent use; every call uses its own connection.
type Transcriber struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:   apiKey,
		model:    defaultModel,
		language: "en",
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe streams req.Audio to Deepgram and returns the joined final
// transcripts.
//
// Dial failures, Deepgram error messages and abnormal closes are reported as
// *stt.ServiceError. A stream that yields no words is reported as
// stt.ErrUnintelligible.
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	wsURL, err := t.buildURL(req)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.apiKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("deepgram: %w", ctx.Err())
		}
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return "", stt.Unavailable(providerName, status, fmt.Errorf("dial: %w", err))
	}
	defer conn.CloseNow()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- sendAudio(ctx, conn, req.Audio, req.SampleRate*req.SampleWidth*chunkMs/1000)
	}()

	var parts []string
readLoop:
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return "", fmt.Errorf("deepgram: %w", ctx.Err())
			}
			return "", stt.Unavailable(providerName, 0, fmt.Errorf("read: %w", err))
		}
		if typ != websocket.MessageText {
			continue
		}

		m, ok := parseMessage(msg)
		if !ok {
			continue
		}
		switch m.kind {
		case kindError:
			return "", stt.Unavailable(providerName, 0, errors.New(m.text))
		case kindMetadata:
			// Deepgram sends Metadata last, after flushing every result.
			break readLoop
		case kindFinal:
			if m.text != "" {
				parts = append(parts, m.text)
			}
		}
	}

	if err := <-writeErr; err != nil {
		return "", stt.Unavailable(providerName, 0, fmt.Errorf("write: %w", err))
	}
	conn.Close(websocket.StatusNormalClosure, "segment complete")

	if len(parts) == 0 {
		return "", stt.ErrUnintelligible
	}
	return strings.Join(parts, " "), nil
}

// sendAudio writes pcm in chunkBytes pieces and then asks Deepgram to flush.
func sendAudio(ctx context.Context, conn *websocket.Conn, pcm []byte, chunkBytes int) error {
	if chunkBytes <= 0 {
		chunkBytes = len(pcm)
	}
	for off := 0; off < len(pcm); off += chunkBytes {
		end := min(off+chunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return err
		}
	}
	return conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
}

// buildURL constructs the Deepgram streaming endpoint URL for the request.
func (t *Transcriber) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}

	lang := req.Language
	if lang == "" {
		lang = t.language
	}

	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(req.SampleRate))
	q.Set("channels", "1")

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- message parsing ----

type messageKind int

const (
	kindIgnored messageKind = iota
	kindInterim
	kindFinal
	kindMetadata
	kindError
)

type message struct {
	kind messageKind
	text string
}

// deepgramResponse covers the fields of the Results, Metadata and Error
// events that matter here.
type deepgramResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	Description string `json:"description"`
	Message     string `json:"message"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseMessage classifies a raw Deepgram WebSocket message. It returns false
// for messages that are not JSON.
func parseMessage(data []byte) (message, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return message{}, false
	}
	switch resp.Type {
	case "Results":
		if len(resp.Channel.Alternatives) == 0 {
			return message{kind: kindIgnored}, true
		}
		text := strings.TrimSpace(resp.Channel.Alternatives[0].Transcript)
		if !resp.IsFinal {
			return message{kind: kindInterim, text: text}, true
		}
		return message{kind: kindFinal, text: text}, true
	case "Metadata":
		return message{kind: kindMetadata}, true
	case "Error":
		detail := resp.Description
		if detail == "" {
			detail = resp.Message
		}
		if detail == "" {
			detail = "unspecified error"
		}
		return message{kind: kindError, text: detail}, true
	default:
		return message{kind: kindIgnored}, true
	}
}
