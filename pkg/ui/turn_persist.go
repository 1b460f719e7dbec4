package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/healthchat/pkg/events"
	chatstore "github.com/go-go-golems/healthchat/pkg/persistence/chatstore"
)

// StepTurnPersistFunc stores committed turns from transcript frames on the UI
// topic into the configured TurnStore. Persistence is best-effort:
// storage errors are logged but do not fail chat execution.
func StepTurnPersistFunc(store chatstore.TurnStore, convID string) func(msg *message.Message) error {
	var (
		mu        sync.Mutex
		persisted int
	)

	return func(msg *message.Message) error {
		msg.Ack()
		if store == nil || strings.TrimSpace(convID) == "" {
			return nil
		}

		f, err := events.DecodeFrame(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("component", "turn_persist").Msg("failed to decode frame payload")
			return nil
		}
		if f.Type != events.FrameTranscript {
			return nil
		}

		ctx := msg.Context()
		if ctx == nil || ctx.Err() != nil {
			// Message contexts can be canceled during shutdown before the
			// queue drains; let the final turns land anyway.
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(context.Background(), 250*time.Millisecond)
			defer cancel()
		}

		mu.Lock()
		defer mu.Unlock()
		now := time.Now().UnixMilli()
		for i := persisted; i < len(f.Turns); i++ {
			t := f.Turns[i]
			err := store.Save(ctx, chatstore.TurnRecord{
				ConvID:      convID,
				Index:       i,
				Role:        t.Role.String(),
				Content:     t.Content,
				CreatedAtMs: now,
			})
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				log.Warn().Err(err).
					Str("component", "turn_persist").
					Str("conv_id", convID).
					Int("index", i).
					Str("role", t.Role.String()).
					Msg("turn save failed")
				return nil
			}
			persisted = i + 1
		}
		return nil
	}
}
