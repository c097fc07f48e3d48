package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultQueueFrames bounds the downlink queue at ~8s of audio.
	DefaultQueueFrames = 400

	// DefaultPollTimeout is how long ReadFrame waits for a frame before
	// substituting silence. Must stay well under the 20ms frame tick.
	DefaultPollTimeout = 10 * time.Millisecond

	// MinSquelch is the floor for the post-interrupt squelch window.
	MinSquelch = 50 * time.Millisecond
)

// DownlinkBuffer converts model PCM chunks into a steady stream of
// exact μ-law frames for the RTP transmitter.
//
// One producer (the model event dispatcher) calls Append; one consumer
// (the paced RTP sender) calls ReadFrame once per frame tick. The queue
// is bounded: on overflow the oldest frame is dropped so playback stays
// close to real time.
type DownlinkBuffer struct {
	logger *slog.Logger

	frames chan []byte

	mu  sync.Mutex // guards acc
	acc []byte

	squelchUntil atomic.Int64 // unix nanos

	pollTimeout time.Duration
	dropped     atomic.Int64
}

// NewDownlinkBuffer creates a buffer with the given queue capacity in
// frames. capFrames <= 0 selects DefaultQueueFrames.
func NewDownlinkBuffer(logger *slog.Logger, capFrames int) *DownlinkBuffer {
	if logger == nil {
		logger = slog.Default()
	}
	if capFrames <= 0 {
		capFrames = DefaultQueueFrames
	}
	return &DownlinkBuffer{
		logger:      logger,
		frames:      make(chan []byte, capFrames),
		pollTimeout: DefaultPollTimeout,
	}
}

// Append transcodes a chunk of 16-bit LE mono PCM to μ-law and enqueues
// complete frames. Any sub-frame remainder is held until the next
// Append or EndOfTurn. Never returns an error to the caller: a bad
// chunk is logged and dropped so the telephony reader is unaffected.
func (b *DownlinkBuffer) Append(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	if len(pcm)%2 != 0 {
		b.logger.Warn("dropping trailing odd byte in PCM chunk", "len", len(pcm))
		pcm = pcm[:len(pcm)-1]
		if len(pcm) == 0 {
			return
		}
	}

	ulaw := EncodeUlaw(pcm)

	b.mu.Lock()
	b.acc = append(b.acc, ulaw...)
	for len(b.acc) >= FrameBytes {
		frame := make([]byte, FrameBytes)
		copy(frame, b.acc[:FrameBytes])
		b.acc = b.acc[FrameBytes:]
		b.enqueue(frame)
	}
	if len(b.acc) == 0 {
		b.acc = nil
	}
	b.mu.Unlock()
}

// enqueue adds a frame, evicting the oldest on overflow.
func (b *DownlinkBuffer) enqueue(frame []byte) {
	for {
		select {
		case b.frames <- frame:
			return
		default:
		}
		select {
		case <-b.frames:
			if n := b.dropped.Add(1); n%50 == 1 {
				b.logger.Debug("downlink backpressure, dropping oldest frame", "dropped_total", n)
			}
		default:
		}
	}
}

// ReadFrame returns the next queued frame, or a silence frame if none
// arrives within the poll window or the squelch window is active. It
// never blocks past the poll timeout.
func (b *DownlinkBuffer) ReadFrame() []byte {
	if b.squelched() {
		return SilenceFrame()
	}

	select {
	case frame := <-b.frames:
		return frame
	default:
	}

	timer := time.NewTimer(b.pollTimeout)
	defer timer.Stop()
	select {
	case frame := <-b.frames:
		if b.squelched() {
			return SilenceFrame()
		}
		return frame
	case <-timer.C:
		return SilenceFrame()
	}
}

// Clear discards all queued frames and the partial accumulator. Used
// for barge-in.
func (b *DownlinkBuffer) Clear() {
	discarded := 0
	for {
		select {
		case <-b.frames:
			discarded++
		default:
			b.mu.Lock()
			b.acc = nil
			b.mu.Unlock()

			b.logger.Info("cleared downlink queue", "frames_discarded", discarded)
			return
		}
	}
}

// InterruptNow clears the buffer and forces silence for at least d,
// masking any frame already handed to the transmitter.
func (b *DownlinkBuffer) InterruptNow(d time.Duration) {
	if d < MinSquelch {
		d = MinSquelch
	}
	b.squelchUntil.Store(time.Now().Add(d).UnixNano())
	b.Clear()
}

// EndOfTurn pads any held remainder to a full frame of silence and
// appends one extra silence frame as a comfort pause, marking a clean
// turn boundary.
func (b *DownlinkBuffer) EndOfTurn() {
	b.mu.Lock()
	if len(b.acc) > 0 {
		padded := SilenceFrame()
		copy(padded, b.acc)
		b.acc = nil
		b.enqueue(padded)
	}
	b.mu.Unlock()

	b.enqueue(SilenceFrame())
}

// Len returns the number of queued frames.
func (b *DownlinkBuffer) Len() int {
	return len(b.frames)
}

// PendingBytes returns the size of the sub-frame remainder held back
// for the next Append.
func (b *DownlinkBuffer) PendingBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.acc)
}

// Dropped returns the total frames evicted under backpressure.
func (b *DownlinkBuffer) Dropped() int64 {
	return b.dropped.Load()
}

func (b *DownlinkBuffer) squelched() bool {
	return time.Now().UnixNano() < b.squelchUntil.Load()
}
