package notification_handler

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/types"
)

const defaultDedupTTL = 72 * time.Hour

// Deduper remembers delivered notification ids so vendor redeliveries are acknowledged without reprocessing.
type Deduper struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewDeduper(cfg *config.Config, client *goredis.Client) *Deduper {
	ttl := cfg.Webhook.DedupTTL
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &Deduper{client: client, ttl: ttl}
}

func dedupKey(provider types.PaymentProvider, id string) string {
	return fmt.Sprintf("webhook:%s:%s", provider, id)
}

// Claim reports whether id is seen for the first time. Without a client or id every delivery is claimed.
func (d *Deduper) Claim(ctx context.Context, provider types.PaymentProvider, id string) (bool, error) {
	if d == nil || d.client == nil || id == "" {
		return true, nil
	}
	ok, err := d.client.SetNX(ctx, dedupKey(provider, id), time.Now().Unix(), d.ttl).Result()
	if err != nil {
		return true, fmt.Errorf("claim notification %s: %w", id, err)
	}
	return ok, nil
}

// Release forgets id so the next redelivery is processed.
func (d *Deduper) Release(ctx context.Context, provider types.PaymentProvider, id string) error {
	if d == nil || d.client == nil || id == "" {
		return nil
	}
	return d.client.Del(ctx, dedupKey(provider, id)).Err()
}
