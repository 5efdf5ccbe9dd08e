package tts

import (
	"bytes"
	"context"
	"errors"
)

var ErrEmptyAudio = errors.New("speech provider returned no audio")

// Collect drains a synthesis into a single buffer.
func Collect(ctx context.Context, synth Synthesizer, req SynthRequest) ([]byte, error) {
	chunks, errs := synth.Synthesize(ctx, req)
	var buf bytes.Buffer
	var synthErr error
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			buf.Write(chunk.Audio)
		case err, ok := <-errs:
			if ok && err != nil && synthErr == nil {
				synthErr = err
			}
			if !ok {
				errs = nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if synthErr != nil {
		return nil, synthErr
	}
	if buf.Len() == 0 {
		return nil, ErrEmptyAudio
	}
	return buf.Bytes(), nil
}
