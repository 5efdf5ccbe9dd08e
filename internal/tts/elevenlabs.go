package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const readChunkSize = 32 * 1024

// ElevenLabsOptions configures the hosted speech backend.
type ElevenLabsOptions struct {
	Endpoint        string
	APIKey          string
	ModelID         string
	Stability       float64
	SimilarityBoost float64
	OutputFormat    string
	Timeout         time.Duration
}

type elevenLabsSynth struct {
	base *url.URL
	opts ElevenLabsOptions
	http *http.Client
}

type elevenLabsRequest struct {
	Text          string             `json:"text"`
	ModelID       string             `json:"model_id"`
	VoiceSettings elevenLabsSettings `json:"voice_settings"`
	OutputFormat  string             `json:"output_format,omitempty"`
}

type elevenLabsSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func NewElevenLabsSynth(opts ElevenLabsOptions) (Synthesizer, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("elevenlabs endpoint empty")
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse elevenlabs endpoint: %w", err)
	}
	return &elevenLabsSynth{
		base: base,
		opts: opts,
		http: &http.Client{Timeout: opts.Timeout},
	}, nil
}

func (e *elevenLabsSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if err := e.stream(ctx, req, chunks); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (e *elevenLabsSynth) stream(ctx context.Context, req SynthRequest, out chan<- SynthChunk) error {
	if strings.TrimSpace(req.Voice) == "" {
		return errors.New("voice id required")
	}
	body, err := json.Marshal(elevenLabsRequest{
		Text:    req.Text,
		ModelID: e.opts.ModelID,
		VoiceSettings: elevenLabsSettings{
			Stability:       e.opts.Stability,
			SimilarityBoost: e.opts.SimilarityBoost,
		},
		OutputFormat: e.opts.OutputFormat,
	})
	if err != nil {
		return err
	}

	rel := &url.URL{Path: "/v1/text-to-speech/" + url.PathEscape(req.Voice)}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.base.ResolveReference(rel).String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", e.opts.APIKey)

	resp, err := e.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	sequence := 0
	buf := make([]byte, readChunkSize)
	for {
		n, readErr := io.ReadFull(resp.Body, buf)
		final := readErr == io.EOF || readErr == io.ErrUnexpectedEOF
		if readErr != nil && !final {
			return fmt.Errorf("read audio: %w", readErr)
		}
		if n > 0 || final {
			chunk := SynthChunk{Sequence: sequence, Audio: append([]byte(nil), buf[:n]...), Final: final}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
			sequence++
		}
		if final {
			return nil
		}
	}
}
