package indexer

import (
	"io"
	"sync"
	"time"
)

type readResult struct {
	data []byte
	err  error
}

// inactivityReader wraps a blob stream and turns a stall into a clean
// end of stream. Peers serve partial blobs while still syncing, so a
// quiet stream means "that is all there is for now", not a failure.
type inactivityReader struct {
	results  chan readResult
	done     chan struct{}
	stop     sync.Once
	timeout  time.Duration
	leftover []byte
	err      error
	timedOut bool
}

func newInactivityReader(r io.Reader, timeout time.Duration) *inactivityReader {
	ir := &inactivityReader{
		results: make(chan readResult, 1),
		done:    make(chan struct{}),
		timeout: timeout,
	}
	go ir.pump(r)
	return ir
}

// pump feeds chunks into results until the stream ends or the consumer
// closes the reader. Without the done case a consumer that gave up
// would strand this goroutine on the send forever.
func (ir *inactivityReader) pump(r io.Reader) {
	for {
		buf := make([]byte, 4096)
		n, err := r.Read(buf)
		select {
		case ir.results <- readResult{data: buf[:n], err: err}:
		case <-ir.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (ir *inactivityReader) Read(p []byte) (int, error) {
	if len(ir.leftover) > 0 {
		n := copy(p, ir.leftover)
		ir.leftover = ir.leftover[n:]
		return n, nil
	}
	if ir.err != nil {
		return 0, ir.err
	}

	timer := time.NewTimer(ir.timeout)
	defer timer.Stop()

	select {
	case res := <-ir.results:
		if res.err != nil {
			ir.err = res.err
		}
		n := copy(p, res.data)
		ir.leftover = res.data[n:]
		if n > 0 {
			return n, nil
		}
		return 0, ir.err
	case <-timer.C:
		ir.err = io.EOF
		ir.timedOut = true
		return 0, io.EOF
	}
}

// Close releases the pump goroutine. The underlying stream is closed by
// its owner; closing that stream unblocks a pump parked in Read.
func (ir *inactivityReader) Close() error {
	ir.stop.Do(func() { close(ir.done) })
	return nil
}

// TimedOut reports whether the stream went quiet before it ended on its
// own. A record cut off by a stall is an incomplete sync, not corruption.
func (ir *inactivityReader) TimedOut() bool { return ir.timedOut }
