package tts

import (
	"context"
	"fmt"
)

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	Text  string
	Voice string
}

// SynthChunk carries a slice of the encoded audio stream.
type SynthChunk struct {
	Sequence int
	Audio    []byte
	Final    bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// StatusError reports a non-2xx answer from a speech provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("speech provider returned status %d", e.Code)
	}
	return fmt.Sprintf("speech provider returned status %d: %s", e.Code, e.Body)
}
