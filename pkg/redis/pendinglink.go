package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"

	"github.com/howkawgew/PlasmoSyncBot/pkg/tracing"
)

const (
	// DefaultPendingLinkKey is the sorted-set key holding unresolved events
	DefaultPendingLinkKey = "plasmosync:pendinglink"

	// DefaultPendingLinkMax bounds retention; the oldest entries are evicted
	// when the set grows past this size.
	DefaultPendingLinkMax = 5000
)

// PendingLink holds change notifications whose identity could not be resolved
// to a linked entity yet. Entries are scored by their drop deadline; a janitor
// sweeps expired entries and drops them with a logged warning.
type PendingLink struct {
	client *Client
	key    string
	max    int64
	logger ectologger.Logger
}

// PendingEntry is one parked notification.
type PendingEntry struct {
	Identity   string    `json:"identity"`
	GuildID    string    `json:"guild_id"`
	Origin     string    `json:"origin"`
	ObservedAt time.Time `json:"observed_at"`
}

// NewPendingLink creates a pending-link set handler.
func NewPendingLink(client *Client, key string, max int64, logger ectologger.Logger) *PendingLink {
	if key == "" {
		key = DefaultPendingLinkKey
	}
	if max <= 0 {
		max = DefaultPendingLinkMax
	}
	return &PendingLink{
		client: client,
		key:    key,
		max:    max,
		logger: logger,
	}
}

// Park stores an unresolved notification until the given TTL elapses.
func (p *PendingLink) Park(ctx context.Context, entry PendingEntry, ttl time.Duration) error {
	ctx, span := tracing.StartSpan(ctx, "PendingLink.Park")
	defer span.End()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal pending entry: %w", err)
	}

	deadline := time.Now().Add(ttl)
	pipe := p.client.rdb.Pipeline()
	pipe.ZAdd(ctx, p.key, redis.Z{Score: float64(deadline.UnixMilli()), Member: string(data)})
	// Bounded retention: evict the soonest-to-expire overflow.
	pipe.ZRemRangeByRank(ctx, p.key, 0, -p.max-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to park pending link: %w", err)
	}

	p.logger.WithContext(ctx).Debugf("Parked unresolved notification for %s until %s", entry.Identity, deadline.Format(time.RFC3339))
	return nil
}

// Take removes and returns every parked notification for an identity. Called
// when the identity becomes linked.
func (p *PendingLink) Take(ctx context.Context, identity string) ([]PendingEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "PendingLink.Take")
	defer span.End()

	members, err := p.client.rdb.ZRange(ctx, p.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var taken []PendingEntry
	for _, member := range members {
		var entry PendingEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			continue
		}
		if entry.Identity != identity {
			continue
		}
		if err := p.client.rdb.ZRem(ctx, p.key, member).Err(); err != nil {
			return taken, err
		}
		taken = append(taken, entry)
	}

	return taken, nil
}

// DropExpired removes every entry whose deadline has passed and returns them
// so the caller can log the drop.
func (p *PendingLink) DropExpired(ctx context.Context, now time.Time) ([]PendingEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "PendingLink.DropExpired")
	defer span.End()

	max := strconv.FormatInt(now.UnixMilli(), 10)
	members, err := p.client.rdb.ZRangeByScore(ctx, p.key, &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	if err := p.client.rdb.ZRemRangeByScore(ctx, p.key, "-inf", max).Err(); err != nil {
		return nil, err
	}

	expired := make([]PendingEntry, 0, len(members))
	for _, member := range members {
		var entry PendingEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			continue
		}
		expired = append(expired, entry)
	}

	return expired, nil
}

// Count returns the number of parked notifications.
func (p *PendingLink) Count(ctx context.Context) (int64, error) {
	return p.client.rdb.ZCard(ctx, p.key).Result()
}
