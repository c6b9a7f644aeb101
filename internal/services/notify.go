package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// Notifier queues account notifications (email/push) for the delivery
// worker. Strictly fire-and-forget: failures are logged and never unwind
// a settlement or a withdrawal transition. A nil Redis client disables
// queueing entirely.
type Notifier struct {
	redis *redis.Client
	queue string
}

func NewNotifier(redisClient *redis.Client, queue string) *Notifier {
	if queue == "" {
		queue = "notification_queue"
	}
	return &Notifier{redis: redisClient, queue: queue}
}

func (n *Notifier) enqueue(ctx context.Context, event string, payload map[string]any) {
	payload["event"] = event
	payload["queued_at"] = time.Now().Unix()

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[NOTIFY] Failed to marshal %s notification: %v", event, err)
		return
	}

	if n.redis == nil {
		log.Printf("[NOTIFY] %s: %s", event, string(data))
		return
	}

	if err := n.redis.RPush(ctx, n.queue, data).Err(); err != nil {
		log.Printf("[NOTIFY] Failed to queue %s notification: %v", event, err)
	}
}

// DepositSettled notifies the account holder that a deposit landed.
func (n *Notifier) DepositSettled(ctx context.Context, accountID, externalID string, amount int64) {
	n.enqueue(ctx, "deposit.settled", map[string]any{
		"account_id":  accountID,
		"external_id": externalID,
		"amount":      amount,
	})
}

// WithdrawalStatusChanged notifies the account holder of a workflow
// transition.
func (n *Notifier) WithdrawalStatusChanged(ctx context.Context, accountID, requestID, status string) {
	n.enqueue(ctx, "withdrawal."+status, map[string]any{
		"account_id": accountID,
		"request_id": requestID,
		"status":     status,
	})
}
