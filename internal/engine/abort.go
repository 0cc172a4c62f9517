package engine

import "context"

// encoderGate returns a whisper encoder-begin callback that refuses to start
// the encoder once ctx is done, aborting the pass.
func encoderGate(ctx context.Context) func() bool {
	return func() bool {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
}
