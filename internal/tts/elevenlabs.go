// Package tts streams ElevenLabs synthesis in the telephony-native mu-law
// encoding. Requesting ulaw_8000 means no local transcode on the happy
// path; pcm_* output formats are companded through the codec package.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/codec"
)

const (
	defaultOutputFormat = "ulaw_8000"
	modelID             = "eleven_flash_v2_5"
)

// ElevenLabsClient streams synthesis over the HTTP streaming endpoint.
type ElevenLabsClient struct {
	APIKey       string
	VoiceID      string
	OutputFormat string
	HTTPClient   *http.Client
	BaseURL      string
}

func NewElevenLabsClient(apiKey, voiceID string) *ElevenLabsClient {
	return &ElevenLabsClient{
		APIKey:       apiKey,
		VoiceID:      voiceID,
		OutputFormat: defaultOutputFormat,
		HTTPClient:   &http.Client{Timeout: 0},
		BaseURL:      "https://api.elevenlabs.io",
	}
}

// StreamULaw8k synthesizes text and streams mu-law 8 kHz audio chunks.
// The stream is lazy and finite; cancelling ctx stops production promptly
// and the channels are always closed when the stream ends.
func (e *ElevenLabsClient) StreamULaw8k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	audioCh := make(chan []byte, 256)
	errCh := make(chan error, 1)
	go func() {
		defer close(audioCh)
		defer close(errCh)
		if e.APIKey == "" || e.VoiceID == "" {
			errCh <- fmt.Errorf("elevenlabs: api key or voice id missing")
			return
		}
		if err := e.httpStream(ctx, text, audioCh); err != nil {
			errCh <- err
		}
	}()
	return audioCh, errCh
}

func (e *ElevenLabsClient) httpStream(ctx context.Context, text string, audioCh chan<- []byte) error {
	format := e.OutputFormat
	if format == "" {
		format = defaultOutputFormat
	}

	u, err := url.Parse(e.BaseURL + "/v1/text-to-speech/" + e.VoiceID + "/stream")
	if err != nil {
		return fmt.Errorf("elevenlabs: bad base url: %w", err)
	}
	q := u.Query()
	q.Set("output_format", format)
	u.RawQuery = q.Encode()

	body := map[string]any{
		"text":     text,
		"model_id": modelID,
		"voice_settings": map[string]any{
			"stability":         0.5,
			"similarity_boost":  0.75,
			"style":             0.0,
			"use_speaker_boost": true,
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: stream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, string(b))
	}

	transcode := strings.HasPrefix(format, "pcm_")
	var carry []byte // odd PCM byte held until its pair arrives
	chunk := make([]byte, 4096)
	logged := false
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			if !logged {
				log.Debugf("elevenlabs: receiving audio stream (%d bytes first chunk)", n)
				logged = true
			}
			out := make([]byte, n)
			copy(out, chunk[:n])
			if transcode {
				out = append(carry, out...)
				if len(out)%2 == 1 {
					carry = []byte{out[len(out)-1]}
					out = out[:len(out)-1]
				} else {
					carry = nil
				}
				out = codec.PCM16ToMuLaw(out)
			}
			if len(out) > 0 {
				select {
				case audioCh <- out:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("elevenlabs: stream read: %w", rerr)
		}
	}
}
