package speech

import (
	"context"
	"sync"
	"time"

	"github.com/voxgate/voxgate/internal/model"
)

// ChanTranscriber is a Transcriber fed by hand. Used by tests and by
// the IPC bridge, which injects transcripts received over the socket.
type ChanTranscriber struct {
	ch   chan model.Transcript
	once sync.Once
}

// NewChanTranscriber creates a transcriber with the given buffer.
func NewChanTranscriber(buffer int) *ChanTranscriber {
	return &ChanTranscriber{ch: make(chan model.Transcript, buffer)}
}

// Inject offers a transcript to the pipeline. Returns false if the
// buffer is full or the transcriber is closed.
func (c *ChanTranscriber) Inject(tr model.Transcript) bool {
	if tr.Timestamp.IsZero() {
		tr.Timestamp = time.Now()
	}
	select {
	case c.ch <- tr:
		return true
	default:
		return false
	}
}

func (c *ChanTranscriber) Transcripts() <-chan model.Transcript { return c.ch }

func (c *ChanTranscriber) Close() error {
	c.once.Do(func() { close(c.ch) })
	return nil
}

// RecordingSpeaker captures spoken feedback for assertions.
type RecordingSpeaker struct {
	mu    sync.Mutex
	lines []string
}

func (s *RecordingSpeaker) Say(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
	return nil
}

// Lines returns a copy of everything spoken so far.
func (s *RecordingSpeaker) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}
