package tts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/codec"
)

func collect(t *testing.T, audioCh <-chan []byte, errCh <-chan error) ([]byte, error) {
	t.Helper()
	var out []byte
	for audioCh != nil || errCh != nil {
		select {
		case b, ok := <-audioCh:
			if !ok {
				audioCh = nil
				continue
			}
			out = append(out, b...)
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return out, err
			}
		case <-time.After(2 * time.Second):
			t.Fatal("stream did not finish")
		}
	}
	return out, nil
}

func TestStreamULaw8kPassesThrough(t *testing.T) {
	payload := []byte{0x7F, 0xFF, 0x00, 0x80, 0xAB}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("output_format") != "ulaw_8000" {
			t.Errorf("output_format = %q", r.URL.Query().Get("output_format"))
		}
		if r.Header.Get("xi-api-key") != "k" {
			t.Errorf("missing api key header")
		}
		var body map[string]any
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)
		if body["model_id"] != "eleven_flash_v2_5" {
			t.Errorf("model_id = %v", body["model_id"])
		}
		if body["text"] != "hello" {
			t.Errorf("text = %v", body["text"])
		}
		w.Write(payload)
	}))
	defer srv.Close()

	c := NewElevenLabsClient("k", "voice1")
	c.BaseURL = srv.URL

	audioCh, errCh := c.StreamULaw8k(context.Background(), "hello")
	got, err := collect(t, audioCh, errCh)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("audio = %v, want %v", got, payload)
	}
}

func TestStreamTranscodesPCMFormats(t *testing.T) {
	// Silence in 16-bit PCM, with the chunk split at an odd byte boundary
	// so the carry path is exercised.
	pcm := make([]byte, 9)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, _ := w.(http.Flusher)
		w.Write(pcm[:5])
		if f != nil {
			f.Flush()
		}
		w.Write(pcm[5:])
	}))
	defer srv.Close()

	c := NewElevenLabsClient("k", "voice1")
	c.BaseURL = srv.URL
	c.OutputFormat = "pcm_8000"

	audioCh, errCh := c.StreamULaw8k(context.Background(), "hi")
	got, err := collect(t, audioCh, errCh)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	// 9 PCM bytes = 4 complete samples; the dangling byte is dropped.
	if len(got) != 4 {
		t.Fatalf("got %d mu-law bytes, want 4", len(got))
	}
	for _, b := range got {
		if b != codec.Silence {
			t.Errorf("byte %#x, want silence", b)
		}
	}
}

func TestStreamCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, _ := w.(http.Flusher)
		for i := 0; i < 100; i++ {
			if _, err := w.Write(make([]byte, 1024)); err != nil {
				return
			}
			if f != nil {
				f.Flush()
			}
			time.Sleep(10 * time.Millisecond)
		}
	}))
	defer srv.Close()

	c := NewElevenLabsClient("k", "voice1")
	c.BaseURL = srv.URL

	ctx, cancel := context.WithCancel(context.Background())
	audioCh, errCh := c.StreamULaw8k(ctx, "long text")

	<-audioCh
	cancel()

	deadline := time.After(500 * time.Millisecond)
	for audioCh != nil || errCh != nil {
		select {
		case _, ok := <-audioCh:
			if !ok {
				audioCh = nil
			}
		case _, ok := <-errCh:
			if !ok {
				errCh = nil
			}
		case <-deadline:
			t.Fatal("stream did not stop promptly after cancellation")
		}
	}
}

func TestStreamErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad voice", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewElevenLabsClient("k", "voice1")
	c.BaseURL = srv.URL
	_, errCh := c.StreamULaw8k(context.Background(), "x")
	if err := <-errCh; err == nil {
		t.Fatal("expected error on non-2xx status")
	}

	c2 := NewElevenLabsClient("", "")
	_, errCh2 := c2.StreamULaw8k(context.Background(), "x")
	if err := <-errCh2; err == nil {
		t.Fatal("expected error with missing credentials")
	}
}
