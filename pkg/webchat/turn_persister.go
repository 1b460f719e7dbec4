package webchat

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	chatstore "github.com/go-go-golems/healthchat/pkg/persistence/chatstore"
	"github.com/go-go-golems/healthchat/pkg/transcript"
)

const turnSaveTimeout = 2 * time.Second

// newTurnPersister returns a transcript observer that mirrors committed
// turns into the debug turn log.
func newTurnPersister(store chatstore.TurnStore, convID string) transcript.Observer {
	if store == nil {
		return nil
	}
	return func(index int, t transcript.Turn) {
		ctx, cancel := context.WithTimeout(context.Background(), turnSaveTimeout)
		defer cancel()
		err := store.Save(ctx, chatstore.TurnRecord{
			ConvID:      convID,
			Index:       index,
			Role:        t.Role.String(),
			Content:     t.Content,
			CreatedAtMs: time.Now().UnixMilli(),
		})
		if err != nil {
			log.Warn().Err(err).Str("component", "webchat").Str("conv_id", convID).Int("index", index).Msg("turn log save failed")
		}
	}
}
