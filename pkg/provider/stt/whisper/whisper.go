// Package whisper provides whisper.cpp-backed STT providers.
//
// [Provider] talks to a running whisper-server binary, which exposes a REST
// API at POST /inference and decodes the uploaded file itself.
// [NativeProvider] runs the model in-process through the cgo bindings; it is
// the heavyweight model the resident-model manager loads and unloads.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8081", whisper.WithLanguage("en"))
//	tr, err := p.Transcribe(ctx, stt.Audio{Data: wav, Filename: "question.wav"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/cluekeeper/pkg/provider/stt"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 2 * time.Minute
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language code sent to the server. Defaults
// to "en". A per-request Audio.Language takes precedence.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider is an stt.Provider that submits each clip to a whisper.cpp server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider for the whisper-server listening at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider. The clip is uploaded unchanged as
// multipart/form-data; the server is responsible for decoding it.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio) (*stt.Transcript, error) {
	if len(audio.Data) == 0 {
		return nil, fmt.Errorf("whisper: %w: empty audio", stt.ErrAudioDecode)
	}
	lang := audio.Language
	if lang == "" {
		lang = p.language
	}

	start := time.Now()
	text, err := p.infer(ctx, audio, lang)
	if err != nil {
		return nil, err
	}
	return &stt.Transcript{Text: text, Language: lang, Duration: time.Since(start)}, nil
}

func (p *Provider) infer(ctx context.Context, audio stt.Audio, lang string) (string, error) {
	filename := audio.Filename
	if filename == "" {
		filename = "audio.wav"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.Data); err != nil {
		return "", fmt.Errorf("whisper: write audio data: %w", err)
	}
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("whisper: write response_format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	jsonErr := json.Unmarshal(data, &result)

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// whisper-server answers 4xx when it cannot read the uploaded file.
		return "", fmt.Errorf("whisper: %w: server returned HTTP %d: %s", stt.ErrAudioDecode, resp.StatusCode, result.Error)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	case jsonErr != nil:
		return "", fmt.Errorf("whisper: parse JSON response: %w", jsonErr)
	case result.Error != "":
		return "", fmt.Errorf("whisper: server error: %s", result.Error)
	}

	return strings.TrimSpace(result.Text), nil
}
