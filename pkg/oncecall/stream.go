package oncecall

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// trackedReader reports the start and end of a request body upload.
type trackedReader struct {
	r       io.Reader
	started atomic.Bool
	start   sync.Once
	end     sync.Once

	onStart func()
	onEnd   func(err error)
}

func newTrackedReader(r io.Reader, onStart func(), onEnd func(error)) *trackedReader {
	return &trackedReader{r: r, onStart: onStart, onEnd: onEnd}
}

func (t *trackedReader) Read(p []byte) (int, error) {
	t.start.Do(func() {
		t.started.Store(true)
		if t.onStart != nil {
			t.onStart()
		}
	})
	n, err := t.r.Read(p)
	if err != nil {
		if errors.Is(err, io.EOF) {
			t.finish(nil)
		} else {
			t.finish(err)
		}
	}
	return n, err
}

// finish fires the end event once, and only if the upload began.
func (t *trackedReader) finish(err error) {
	if !t.started.Load() {
		return
	}
	t.end.Do(func() {
		if t.onEnd != nil {
			t.onEnd(err)
		}
	})
}
