// Package ingress consumes raw change notifications from both platforms,
// normalizes them and feeds the reconcile job queue. Notifications that
// reference an entity with no link yet are parked for a grace period and
// replayed when the link completes.
package ingress

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/howkawgew/PlasmoSyncBot/internal/repositories/syncrecord"
	"github.com/howkawgew/PlasmoSyncBot/pkg/metrics"
	"github.com/howkawgew/PlasmoSyncBot/pkg/models"
	"github.com/howkawgew/PlasmoSyncBot/pkg/platform"
	"github.com/howkawgew/PlasmoSyncBot/pkg/queue"
	"github.com/howkawgew/PlasmoSyncBot/pkg/redis"
	"github.com/howkawgew/PlasmoSyncBot/pkg/tracing"
)

// Notification is the wire form of a change notification from either
// platform. Guild notifications carry the platform-native member id; donor
// notifications carry the shared identity directly.
type Notification struct {
	Origin     string   `json:"origin"`
	Identity   string   `json:"identity,omitempty"`
	GuildID    string   `json:"guild_id,omitempty"`
	MemberID   string   `json:"member_id,omitempty"`
	Categories []string `json:"categories,omitempty"`
	ObservedAt int64    `json:"observed_at,omitempty"`
}

// Config holds ingress configuration
type Config struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string

	// JobStream is the Redis stream reconcile jobs are published to.
	JobStream string

	// PendingTTL is how long an unresolved notification is parked before it
	// is dropped.
	PendingTTL time.Duration

	// JanitorInterval is how often expired parked notifications are swept.
	JanitorInterval time.Duration
}

// DefaultConfig returns ingress defaults
func DefaultConfig() Config {
	return Config{
		PendingTTL:      15 * time.Minute,
		JanitorInterval: time.Minute,
	}
}

// Ingress normalizes change notifications into reconcile jobs
type Ingress struct {
	cfg     Config
	reader  *kafka.Reader
	donor   platform.DonorAdapter
	records *syncrecord.Repository
	streams *redis.Streams
	pending *redis.PendingLink
	logger  ectologger.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a new ingress consumer
func New(
	cfg Config,
	donor platform.DonorAdapter,
	records *syncrecord.Repository,
	streams *redis.Streams,
	pending *redis.PendingLink,
	logger ectologger.Logger,
) *Ingress {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 15 * time.Minute
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = time.Minute
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})

	return &Ingress{
		cfg:     cfg,
		reader:  reader,
		donor:   donor,
		records: records,
		streams: streams,
		pending: pending,
		logger:  logger,
	}
}

// Start begins consuming notifications and sweeping parked entries
func (i *Ingress) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	i.cancel = cancel

	i.wg.Add(1)
	go i.consumeLoop(ctx)

	i.wg.Add(1)
	go i.janitorLoop(ctx)

	i.logger.WithContext(ctx).WithFields(map[string]any{
		"topic": i.reader.Config().Topic,
	}).Info("Ingress consumer started")
	return nil
}

// Stop gracefully stops the ingress
func (i *Ingress) Stop() error {
	if i.cancel != nil {
		i.cancel()
	}
	i.wg.Wait()
	return i.reader.Close()
}

func (i *Ingress) consumeLoop(ctx context.Context) {
	defer i.wg.Done()

	for {
		select {
		case <-ctx.Done():
			i.logger.WithContext(ctx).Info("Ingress loop stopping")
			return
		default:
			msg, err := i.reader.FetchMessage(ctx)
			if err != nil {
				if err == context.Canceled || err == io.EOF {
					return
				}
				i.logger.WithContext(ctx).WithError(err).Error("Failed to fetch notification")
				continue
			}

			i.processMessage(ctx, msg)
		}
	}
}

func (i *Ingress) processMessage(ctx context.Context, msg kafka.Message) {
	ctx, span := tracing.StartSpan(ctx, "Ingress.processMessage")
	defer span.End()

	log := i.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	var notif Notification
	if err := json.Unmarshal(msg.Value, &notif); err != nil {
		log.WithError(err).Error("Failed to parse notification")
		metrics.RecordIngressEvent("unknown", "invalid")
		// Commit malformed messages so the partition never sticks
		if err := i.reader.CommitMessages(ctx, msg); err != nil {
			log.WithError(err).Error("Failed to commit notification")
		}
		return
	}

	if err := i.handle(ctx, notif); err != nil {
		// No commit: redelivery keeps ingestion at-least-once and the
		// idempotent reconcile pass absorbs the duplicates.
		log.WithError(err).Error("Failed to handle notification (not committing)")
		return
	}

	if err := i.reader.CommitMessages(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to commit notification")
	}
}

// handle normalizes one notification and enqueues the reconcile jobs it
// implies.
func (i *Ingress) handle(ctx context.Context, notif Notification) error {
	ctx, span := tracing.StartSpan(ctx, "Ingress.handle")
	defer span.End()

	switch models.Origin(notif.Origin) {
	case models.OriginDonor:
		return i.handleDonor(ctx, notif)
	case models.OriginGuild:
		return i.handleGuild(ctx, notif)
	default:
		// drop unknown origins; there is nothing to reconcile against
		metrics.RecordIngressEvent(notif.Origin, "invalid")
		i.logger.WithContext(ctx).Warnf("Dropping notification with unknown origin %q", notif.Origin)
		return nil
	}
}

// handleDonor fans a donor-side change out to every guild the entity is
// linked in.
func (i *Ingress) handleDonor(ctx context.Context, notif Notification) error {
	if notif.Identity == "" {
		metrics.RecordIngressEvent(notif.Origin, "invalid")
		return nil
	}

	guilds, err := i.records.ListGuildsForIdentity(ctx, notif.Identity)
	if err != nil {
		return err
	}

	if len(guilds) == 0 {
		metrics.RecordIngressEvent(notif.Origin, "unlinked")
		i.logger.WithContext(ctx).Debugf("Donor change for unlinked identity %s, ignoring", notif.Identity)
		return nil
	}

	for _, guildID := range guilds {
		if err := i.enqueue(ctx, notif.Identity, guildID, notif.Origin); err != nil {
			return err
		}
	}

	metrics.RecordIngressEvent(notif.Origin, "enqueued")
	return nil
}

// handleGuild resolves the guild member to the shared identity, parking the
// notification when no link exists yet.
func (i *Ingress) handleGuild(ctx context.Context, notif Notification) error {
	if notif.GuildID == "" || notif.MemberID == "" {
		metrics.RecordIngressEvent(notif.Origin, "invalid")
		return nil
	}

	// The local checkpoint resolves linked members without a donor call.
	rec, err := i.records.GetByGuildMember(ctx, notif.GuildID, notif.MemberID)
	if err != nil {
		return err
	}
	if rec != nil {
		metrics.RecordIngressEvent(notif.Origin, "enqueued")
		return i.enqueue(ctx, rec.Identity, rec.GuildID, notif.Origin)
	}

	identity, err := i.donor.ResolveIdentity(ctx, notif.MemberID)
	if err != nil {
		if err == platform.ErrEntityNotLinked {
			return i.park(ctx, notif)
		}
		return err
	}

	metrics.RecordIngressEvent(notif.Origin, "enqueued")
	return i.enqueue(ctx, string(identity), notif.GuildID, notif.Origin)
}

// park holds an unresolved notification until its TTL elapses. The entry is
// keyed by the platform member reference, the only handle we have for it.
func (i *Ingress) park(ctx context.Context, notif Notification) error {
	entry := redis.PendingEntry{
		Identity:   notif.MemberID,
		GuildID:    notif.GuildID,
		Origin:     notif.Origin,
		ObservedAt: time.UnixMilli(notif.ObservedAt),
	}

	if err := i.pending.Park(ctx, entry, i.cfg.PendingTTL); err != nil {
		return err
	}

	metrics.RecordIngressEvent(notif.Origin, "parked")
	i.logger.WithContext(ctx).WithFields(map[string]any{
		"member_id": notif.MemberID,
		"guild_id":  notif.GuildID,
	}).Debug("Parked notification for unlinked member")
	return nil
}

// ReplayPending re-enqueues notifications parked under a member reference.
// Called after a link completes.
func (i *Ingress) ReplayPending(ctx context.Context, memberID string, identity models.Identity) error {
	ctx, span := tracing.StartSpan(ctx, "Ingress.ReplayPending")
	defer span.End()

	entries, err := i.pending.Take(ctx, memberID)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := i.enqueue(ctx, string(identity), entry.GuildID, entry.Origin); err != nil {
			return err
		}
	}

	if len(entries) > 0 {
		i.logger.WithContext(ctx).Infof("Replayed %d parked notifications for %s", len(entries), identity)
	}
	return nil
}

func (i *Ingress) enqueue(ctx context.Context, identity, guildID, origin string) error {
	_, err := queue.PublishReconcile(ctx, i.streams, i.cfg.JobStream, queue.ReconcileJob{
		Identity: identity,
		GuildID:  guildID,
		Origin:   origin,
		Reason:   "change_notification",
	})
	return err
}

// janitorLoop drops parked notifications whose grace period elapsed.
func (i *Ingress) janitorLoop(ctx context.Context) {
	defer i.wg.Done()

	ticker := time.NewTicker(i.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dropped, err := i.pending.DropExpired(ctx, time.Now())
			if err != nil {
				i.logger.WithContext(ctx).WithError(err).Warn("Failed to sweep parked notifications")
				continue
			}
			for _, entry := range dropped {
				metrics.PendingLinkDropped.Inc()
				i.logger.WithContext(ctx).WithFields(map[string]any{
					"member_id": entry.Identity,
					"guild_id":  entry.GuildID,
					"origin":    entry.Origin,
				}).Warn("Dropped parked notification: entity was never linked")
			}
		}
	}
}

// Health returns the ingress health status
func (i *Ingress) Health() bool {
	return i.reader != nil
}
