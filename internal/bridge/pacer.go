package bridge

import (
	"sync"
	"time"

	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/codec"
)

// Direction tags which way a frame travelled.
type Direction string

const (
	DirInbound  Direction = "inbound"
	DirOutbound Direction = "outbound"
)

// Frame is one fixed-duration mu-law audio chunk. Immutable after creation.
type Frame struct {
	Seq     uint64
	Dir     Direction
	Payload []byte
}

// PacedWriter buffers mu-law audio and emits exactly one 20ms frame per
// tick through the write callback, so Twilio receives audio at real-time
// rate instead of a burst.
type PacedWriter struct {
	writeFrame func(Frame) error

	mu      sync.Mutex
	buf     []byte
	frames  chan []byte
	stopCh  chan struct{}
	stopped bool
	seq     uint64
}

// NewPacedWriter starts a writer delivering frames via writeFrame from the
// pacer goroutine.
func NewPacedWriter(writeFrame func(Frame) error) *PacedWriter {
	w := &PacedWriter{
		writeFrame: writeFrame,
		frames:     make(chan []byte, 512),
		stopCh:     make(chan struct{}),
	}
	go w.pacer()
	return w
}

// Write buffers audio and enqueues every complete frame.
func (w *PacedWriter) Write(mu []byte) {
	if len(mu) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.buf = append(w.buf, mu...)
	for len(w.buf) >= codec.FrameBytes {
		frame := make([]byte, codec.FrameBytes)
		copy(frame, w.buf[:codec.FrameBytes])
		w.pushFrame(frame)
		w.buf = w.buf[codec.FrameBytes:]
	}
}

// FlushTail pads any buffered remainder with silence so the final partial
// frame is not lost.
func (w *PacedWriter) FlushTail() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || len(w.buf) == 0 {
		return
	}
	frame := make([]byte, codec.FrameBytes)
	for i := range frame {
		frame[i] = codec.Silence
	}
	copy(frame, w.buf)
	w.pushFrame(frame)
	w.buf = w.buf[:0]
}

// Reset drops all queued and buffered audio immediately. Used on barge-in.
func (w *PacedWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		select {
		case <-w.frames:
		default:
			w.buf = w.buf[:0]
			return
		}
	}
}

// Pending reports how many frames are queued but not yet written.
func (w *PacedWriter) Pending() int {
	return len(w.frames)
}

// Close stops the pacer goroutine.
func (w *PacedWriter) Close() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	w.mu.Unlock()
}

func (w *PacedWriter) pushFrame(frame []byte) {
	select {
	case w.frames <- frame:
	case <-w.stopCh:
	}
}

func (w *PacedWriter) pacer() {
	ticker := time.NewTicker(codec.FrameDurationMs * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				w.seq++
				_ = w.writeFrame(Frame{Seq: w.seq, Dir: DirOutbound, Payload: frame})
			default:
			}
		}
	}
}
