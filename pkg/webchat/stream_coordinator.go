package webchat

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/healthchat/pkg/events"
)

type StreamCursor struct {
	StreamID string
	Seq      uint64
}

// StreamCoordinator owns the subscriber that feeds a conversation topic,
// stamps each frame with a sequence number and dispatches it in order.
type StreamCoordinator struct {
	convID     string
	subscriber message.Subscriber

	onFrame func(events.Frame, StreamCursor)

	seq atomic.Uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	gen     uint64
}

func NewStreamCoordinator(
	convID string,
	subscriber message.Subscriber,
	onFrame func(events.Frame, StreamCursor),
) *StreamCoordinator {
	return &StreamCoordinator{
		convID:     convID,
		subscriber: subscriber,
		onFrame:    onFrame,
	}
}

// Start subscribes before returning, so frames published after Start are
// never missed.
func (sc *StreamCoordinator) Start(ctx context.Context) error {
	if sc == nil || sc.subscriber == nil {
		return nil
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.running {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	ch, err := sc.subscriber.Subscribe(runCtx, events.TopicForConv(sc.convID))
	if err != nil {
		cancel()
		return errors.Wrap(err, "stream coordinator: subscribe")
	}
	sc.cancel = cancel
	sc.running = true
	sc.gen++

	log.Info().Str("component", "webchat").Str("conv_id", sc.convID).Msg("stream coordinator: started")
	go sc.consume(ch, cancel, sc.gen)
	return nil
}

func (sc *StreamCoordinator) Stop() {
	if sc == nil {
		return
	}
	sc.mu.Lock()
	if sc.cancel != nil {
		sc.cancel()
	}
	sc.cancel = nil
	sc.running = false
	sc.mu.Unlock()
}

func (sc *StreamCoordinator) Close() {
	if sc == nil {
		return
	}
	sc.Stop()
	if sc.subscriber != nil {
		if err := sc.subscriber.Close(); err != nil {
			log.Warn().Err(err).Str("component", "webchat").Str("conv_id", sc.convID).Msg("stream coordinator: subscriber close failed")
		}
	}
}

func (sc *StreamCoordinator) IsRunning() bool {
	if sc == nil {
		return false
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.running
}

func (sc *StreamCoordinator) consume(ch <-chan *message.Message, cancel context.CancelFunc, gen uint64) {
	for msg := range ch {
		frame, err := events.DecodeFrame(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("component", "webchat").Str("conv_id", sc.convID).Msg("stream coordinator: failed to decode frame")
			msg.Ack()
			continue
		}

		streamID := extractStreamID(msg)
		cur := StreamCursor{
			StreamID: streamID,
			Seq:      sc.nextSeq(streamID),
		}
		frame.Seq = cur.Seq

		if sc.onFrame != nil {
			sc.onFrame(frame, cur)
		}
		msg.Ack()
	}
	log.Info().Str("component", "webchat").Str("conv_id", sc.convID).Msg("stream coordinator: stopped")
	cancel()
	sc.mu.Lock()
	// a restart may already own the coordinator
	if sc.gen == gen {
		sc.cancel = nil
		sc.running = false
	}
	sc.mu.Unlock()
}

func (sc *StreamCoordinator) nextSeq(streamID string) uint64 {
	if streamID != "" {
		if derived, ok := deriveSeqFromStreamID(streamID); ok {
			for {
				current := sc.seq.Load()
				next := derived
				if next <= current {
					next = current + 1
				}
				if sc.seq.CompareAndSwap(current, next) {
					return next
				}
			}
		}
	}
	for {
		current := sc.seq.Load()
		now := uint64(time.Now().UnixMilli()) * 1_000_000
		next := now
		if next <= current {
			next = current + 1
		}
		if sc.seq.CompareAndSwap(current, next) {
			return next
		}
	}
}

func extractStreamID(msg *message.Message) string {
	if msg == nil || msg.Metadata == nil {
		return ""
	}
	keys := []string{"xid", "redis_xid"}
	for _, k := range keys {
		if v := msg.Metadata.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// deriveSeqFromStreamID maps a Redis stream id "<ms>-<n>" onto the same
// scale as the local clock based sequence.
func deriveSeqFromStreamID(streamID string) (uint64, bool) {
	parts := strings.Split(streamID, "-")
	if len(parts) != 2 {
		return 0, false
	}
	ms, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, false
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return ms*1_000_000 + seq, true
}
