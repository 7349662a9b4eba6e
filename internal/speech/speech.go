// Package speech defines the recognition and synthesis boundaries of
// the daemon. The pipeline consumes transcripts and emits spoken
// feedback through these interfaces; concrete engines live outside the
// process and connect over the IPC socket.
package speech

import (
	"context"

	"github.com/voxgate/voxgate/internal/model"
)

// Transcriber delivers recognition results. Transcripts returns a
// channel closed when the source shuts down.
type Transcriber interface {
	Transcripts() <-chan model.Transcript
	Close() error
}

// Speaker voices feedback to the user. Say must not block the caller
// for the duration of playback.
type Speaker interface {
	Say(ctx context.Context, text string) error
}
