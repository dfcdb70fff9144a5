package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/supportbridge/whatsapp-chatwoot-bridge/pkg/logging"
)

// dedupTTL covers Twilio's webhook retry window with room to spare.
const dedupTTL = 24 * time.Hour

// Deduper drops replayed webhook deliveries. Twilio re-posts a webhook when
// the previous response was slow, so a MessageSid can arrive more than once.
type Deduper struct {
	client *redis.Client
	logger *logging.Logger
}

// NewDeduper builds a Redis-backed deduper.
func NewDeduper(client *redis.Client, logger *logging.Logger) *Deduper {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Deduper{client: client, logger: logger}
}

// Seen records the message sid and reports whether it was already recorded.
// On Redis failure it reports false: processing a duplicate beats dropping a
// first delivery.
func (d *Deduper) Seen(ctx context.Context, messageSID string) bool {
	if d == nil || messageSID == "" {
		return false
	}
	created, err := d.client.SetNX(ctx, dedupKey(messageSID), 1, dedupTTL).Result()
	if err != nil {
		d.logger.Warn("webhook dedup unavailable", "error", err, "message_sid", messageSID)
		return false
	}
	return !created
}

// Forget clears a recorded sid so that a provider retry or a manual replay of
// a failed message is processed instead of dropped.
func (d *Deduper) Forget(ctx context.Context, messageSID string) {
	if d == nil || messageSID == "" {
		return
	}
	if err := d.client.Del(ctx, dedupKey(messageSID)).Err(); err != nil {
		d.logger.Warn("failed to clear webhook dedup key", "error", err, "message_sid", messageSID)
	}
}

func dedupKey(messageSID string) string {
	return fmt.Sprintf("webhook:twilio:sid:%s", messageSID)
}
