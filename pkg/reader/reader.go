// Package reader implements the shared fan-out byte reader (spec.md
// §4.3, C3): a byte source is read exactly once, and every chunk is
// broadcast to N independent subscribers as an ordered sequence of
// immutable buffers, so that a generate task (pkg/task) can drive one
// digest primitive per subscriber without re-reading the source.
package reader

import (
	"context"
	"io"

	"github.com/uber-go/atomic"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultChunkSize is used when a caller does not pick one explicitly.
// spec.md §4.3 leaves the exact size implementation-defined within
// 64 KiB-1 MiB; 1 MiB balances syscall overhead against per-subscriber
// buffering cost for the typical large-object case this system targets.
const DefaultChunkSize = 1 << 20

// Chunk is one unit of the broadcast sequence. Data is nil and Err is
// set exactly once, as the final value a subscriber ever receives,
// when the source failed or the read was cancelled (on cancellation,
// only to subscribers whose queue has room for it); a clean EOF is
// represented by the channel closing with no such terminal Chunk.
type Chunk struct {
	Data []byte
	Err  error
}

// Reader reads a byte source once and fans its chunks out to every
// subscriber registered before Run starts.
type Reader struct {
	src             io.Reader
	chunkSize       int
	channelCapacity int

	subs    []chan Chunk
	started bool

	totalBytes *atomic.Uint64
}

// New constructs a Reader over src. chunkSize and channelCapacity fall
// back to DefaultChunkSize and 1 respectively when non-positive.
// channelCapacity is the single tunable named in spec.md §6
// ("channel capacity"): it bounds how far a slow subscriber may lag
// behind the fastest one before the reader blocks.
func New(src io.Reader, chunkSize, channelCapacity int) *Reader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if channelCapacity <= 0 {
		channelCapacity = 1
	}
	return &Reader{
		src:             src,
		chunkSize:       chunkSize,
		channelCapacity: channelCapacity,
		totalBytes:      atomic.NewUint64(0),
	}
}

// Subscribe registers a new consumer of the chunk stream. All
// subscribers must subscribe before Run is called; subscribing after
// Run has started is rejected, per spec.md §4.3.
func (r *Reader) Subscribe() (<-chan Chunk, error) {
	if r.started {
		return nil, status.Error(codes.FailedPrecondition, "all subscribers must subscribe before the reader starts running")
	}
	ch := make(chan Chunk, r.channelCapacity)
	r.subs = append(r.subs, ch)
	return ch, nil
}

// Run reads the source to EOF (or until ctx is cancelled, or the
// source errors), enqueuing each chunk onto every subscriber's channel
// in lockstep, and returns the total number of bytes read. Every
// subscriber channel is closed exactly once, after any terminal error
// chunk has been delivered.
func (r *Reader) Run(ctx context.Context) (uint64, error) {
	r.started = true
	defer func() {
		for _, ch := range r.subs {
			close(ch)
		}
	}()

	buf := make([]byte, r.chunkSize)
	for {
		select {
		case <-ctx.Done():
			err := status.FromContextError(ctx.Err()).Err()
			r.broadcastTerminal(ctx, err)
			return r.totalBytes.Load(), err
		default:
		}

		n, readErr := r.src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			r.totalBytes.Add(uint64(n))
			if err := r.broadcast(ctx, Chunk{Data: chunk}); err != nil {
				r.broadcastTerminal(ctx, err)
				return r.totalBytes.Load(), err
			}
		}

		if readErr == io.EOF {
			return r.totalBytes.Load(), nil
		}
		if readErr != nil {
			wrapped := status.Errorf(codes.Unavailable, "reading source: %s", readErr)
			r.broadcastTerminal(ctx, wrapped)
			return r.totalBytes.Load(), wrapped
		}
	}
}

// broadcast enqueues chunk onto every subscriber, in subscription
// order. Because each channel is bounded, a slow subscriber's full
// queue blocks the whole broadcast, which is the reader's backpressure
// contract: the effective rate is that of the slowest consumer.
func (r *Reader) broadcast(ctx context.Context, chunk Chunk) error {
	for _, ch := range r.subs {
		select {
		case ch <- chunk:
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		}
	}
	return nil
}

// broadcastTerminal delivers a terminal error chunk to every
// subscriber, waiting on a full queue like broadcast does. Once ctx is
// cancelled it stops waiting: a subscriber whose queue is still full
// then gets no terminal chunk and only sees its channel close.
func (r *Reader) broadcastTerminal(ctx context.Context, err error) {
	for _, ch := range r.subs {
		select {
		case ch <- Chunk{Err: err}:
		case <-ctx.Done():
			select {
			case ch <- Chunk{Err: err}:
			default:
			}
		}
	}
}
