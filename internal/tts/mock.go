package tts

import (
	"context"
	"time"
)

type mockSynth struct {
	audio []byte
}

// NewMockSynth returns a synthesizer that answers every request with audio.
func NewMockSynth(audio []byte) Synthesizer {
	if len(audio) == 0 {
		audio = []byte("mock-intro")
	}
	return &mockSynth{audio: audio}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(50 * time.Millisecond):
		}
		chunks <- SynthChunk{
			Sequence: 0,
			Audio:    append([]byte(nil), m.audio...),
			Final:    true,
		}
	}()
	return chunks, errs
}
