package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/wager-settlement/internal/money"
)

// BalanceCredited is the domain event emitted after a settlement credits an
// account. External notifiers (push fan-out, game-room feeds) subscribe to
// it; delivery is best-effort and never blocks settlement.
type BalanceCredited struct {
	AccountID     string       `json:"account_id"`
	Amount        money.Amount `json:"amount"`
	NewBalance    money.Amount `json:"new_balance"`
	OrderID       string       `json:"order_id"`
	TransactionID string       `json:"transaction_id"`
	OccurredAt    time.Time    `json:"occurred_at"`
}

// Publisher delivers domain events. Implementations must not block the
// caller beyond a short internal timeout and must swallow delivery errors.
type Publisher interface {
	BalanceCredited(evt BalanceCredited)
}

// NopPublisher drops all events.
type NopPublisher struct{}

func (NopPublisher) BalanceCredited(BalanceCredited) {}

const balanceCreditedChannel = "settlement.balance_credited"

// RedisPublisher fans events out over Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisPublisher(client *redis.Client, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{client: client, logger: logger}
}

func (p *RedisPublisher) BalanceCredited(evt BalanceCredited) {
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn("event marshal failed", "error", err)
		return
	}

	// Fire and forget; a slow or absent broker must not hold up the
	// settlement path.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := p.client.Publish(ctx, balanceCreditedChannel, payload).Err(); err != nil {
			p.logger.Warn("event publish failed",
				"channel", balanceCreditedChannel,
				"order_id", evt.OrderID,
				"error", err,
			)
		}
	}()
}
