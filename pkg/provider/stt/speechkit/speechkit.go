// Package speechkit provides an STT provider backed by Yandex SpeechKit v3
// streaming recognition over gRPC.
//
// The whole clip is streamed in fixed-size chunks and the final alternatives
// are joined into one transcript.
package speechkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	sttv3 "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/stt/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/MrWong99/cluekeeper/pkg/provider/stt"
)

const (
	// DefaultTarget is the public SpeechKit endpoint.
	DefaultTarget = "stt.api.cloud.yandex.net:443"

	chunkSize       = 4096
	defaultLanguage = "en-US"
)

var _ stt.Provider = (*Provider)(nil)

// Provider is an stt.Provider talking to SpeechKit.
type Provider struct {
	apiKey     string
	folderID   string
	language   string
	sampleRate int
	pace       time.Duration
	conn       *grpc.ClientConn
	client     sttv3.RecognizerClient
}

type config struct {
	target     string
	language   string
	sampleRate int
	pace       time.Duration
	dialOpts   []grpc.DialOption
}

// Option is a functional option for configuring a Provider.
type Option func(*config)

// WithTarget overrides the gRPC target. Defaults to [DefaultTarget].
func WithTarget(target string) Option {
	return func(c *config) { c.target = target }
}

// WithLanguage sets the recognition language restriction. Defaults to "en-US".
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithSampleRate sets the sample rate announced for raw PCM uploads.
// Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(c *config) { c.sampleRate = rate }
}

// WithPace inserts a pause between audio chunks. Real-time endpoints reject
// uploads that arrive much faster than the audio plays.
func WithPace(d time.Duration) Option {
	return func(c *config) { c.pace = d }
}

// WithDialOptions replaces the default TLS dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *config) { c.dialOpts = opts }
}

// New creates a Provider. The connection is established lazily by gRPC.
func New(apiKey, folderID string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("speechkit: apiKey must not be empty")
	}

	cfg := &config{
		target:     DefaultTarget,
		language:   defaultLanguage,
		sampleRate: 16000,
	}
	for _, o := range opts {
		o(cfg)
	}
	if len(cfg.dialOpts) == 0 {
		cfg.dialOpts = []grpc.DialOption{grpc.WithTransportCredentials(credentials.NewTLS(nil))}
	}

	conn, err := grpc.NewClient(cfg.target, cfg.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("speechkit: create grpc client: %w", err)
	}

	return &Provider{
		apiKey:     apiKey,
		folderID:   folderID,
		language:   cfg.language,
		sampleRate: cfg.sampleRate,
		pace:       cfg.pace,
		conn:       conn,
		client:     sttv3.NewRecognizerClient(conn),
	}, nil
}

// Close closes the gRPC connection.
func (p *Provider) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio) (*stt.Transcript, error) {
	if len(audio.Data) == 0 {
		return nil, fmt.Errorf("speechkit: %w: empty audio", stt.ErrAudioDecode)
	}
	lang := audio.Language
	if lang == "" {
		lang = p.language
	}

	md := metadata.New(map[string]string{"authorization": "Api-Key " + p.apiKey})
	if p.folderID != "" {
		md.Set("x-folder-id", p.folderID)
	}
	ctx = metadata.NewOutgoingContext(ctx, md)

	start := time.Now()
	stream, err := p.client.RecognizeStreaming(ctx)
	if err != nil {
		return nil, fmt.Errorf("speechkit: open stream: %w", err)
	}

	err = stream.Send(&sttv3.StreamingRequest{
		Event: &sttv3.StreamingRequest_SessionOptions{
			SessionOptions: &sttv3.StreamingOptions{
				RecognitionModel: &sttv3.RecognitionModelOptions{
					AudioFormat: p.audioFormat(audio.Filename),
					TextNormalization: &sttv3.TextNormalizationOptions{
						TextNormalization: sttv3.TextNormalizationOptions_TEXT_NORMALIZATION_ENABLED,
					},
					LanguageRestriction: &sttv3.LanguageRestrictionOptions{
						RestrictionType: sttv3.LanguageRestrictionOptions_WHITELIST,
						LanguageCode:    []string{lang},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("speechkit: send session options: %w", err)
	}

	for i := 0; i < len(audio.Data); i += chunkSize {
		end := min(i+chunkSize, len(audio.Data))
		err := stream.Send(&sttv3.StreamingRequest{
			Event: &sttv3.StreamingRequest_Chunk{
				Chunk: &sttv3.AudioChunk{Data: audio.Data[i:end]},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("speechkit: send audio chunk: %w", err)
		}
		if p.pace > 0 {
			select {
			case <-time.After(p.pace):
			case <-ctx.Done():
				return nil, fmt.Errorf("speechkit: %w", ctx.Err())
			}
		}
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("speechkit: close send: %w", err)
	}

	var finals []string
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if status.Code(err) == codes.InvalidArgument {
				return nil, fmt.Errorf("speechkit: %w: %v", stt.ErrAudioDecode, err)
			}
			return nil, fmt.Errorf("speechkit: receive: %w", err)
		}
		if final := resp.GetFinal(); final != nil && len(final.GetAlternatives()) > 0 {
			if text := strings.TrimSpace(final.GetAlternatives()[0].GetText()); text != "" {
				finals = append(finals, text)
			}
		} else if partial := resp.GetPartial(); partial != nil && len(partial.GetAlternatives()) > 0 {
			slog.Debug("speechkit partial", "text", partial.GetAlternatives()[0].GetText())
		}
	}

	return &stt.Transcript{
		Text:     strings.Join(finals, " "),
		Language: lang,
		Duration: time.Since(start),
	}, nil
}

// audioFormat picks the container from the file extension. Unknown or
// missing extensions are sent as raw 16-bit PCM at the configured rate.
func (p *Provider) audioFormat(filename string) *sttv3.AudioFormatOptions {
	var container sttv3.ContainerAudio_ContainerAudioType
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".wav":
		container = sttv3.ContainerAudio_WAV
	case ".ogg", ".opus", ".oga":
		container = sttv3.ContainerAudio_OGG_OPUS
	case ".mp3":
		container = sttv3.ContainerAudio_MP3
	default:
		return &sttv3.AudioFormatOptions{
			AudioFormat: &sttv3.AudioFormatOptions_RawAudio{
				RawAudio: &sttv3.RawAudio{
					AudioEncoding:     sttv3.RawAudio_LINEAR16_PCM,
					SampleRateHertz:   int64(p.sampleRate),
					AudioChannelCount: 1,
				},
			},
		}
	}
	return &sttv3.AudioFormatOptions{
		AudioFormat: &sttv3.AudioFormatOptions_ContainerAudio{
			ContainerAudio: &sttv3.ContainerAudio{ContainerAudioType: container},
		},
	}
}
