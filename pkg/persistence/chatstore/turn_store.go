package chatstore

import "context"

// TurnRecord is one committed transcript turn as written to the debug log.
type TurnRecord struct {
	ConvID      string `json:"conv_id"`
	Index       int    `json:"index"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// TurnQuery describes filters for loading stored turns.
type TurnQuery struct {
	ConvID  string
	Role    string
	SinceMs int64
	Limit   int
}

const defaultListLimit = 200

// TurnStore persists committed turns for inspection/debugging. It is never
// read back into a conversation.
type TurnStore interface {
	Save(ctx context.Context, rec TurnRecord) error
	List(ctx context.Context, q TurnQuery) ([]TurnRecord, error)
	Close() error
}
