package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/fedutinova/starq/internal/metrics"
	"github.com/fedutinova/starq/internal/models"
	rediskeys "github.com/fedutinova/starq/internal/redis"
	"github.com/redis/go-redis/v9"
)

// sweepBatch bounds how many pending entries one sweep inspects per queue.
const sweepBatch = 100

// Reclaimer is the background sweep that rescues stalled in-flight jobs.
// Entries idle past the queue's claim timeout are either reset to pending
// (so the next claim's stale leg can reassign them and bump retries) or
// dead-lettered when the retry budget is spent.
//
// Best-effort and idempotent: a crash mid-sweep is caught up by the next
// iteration, and per-queue failures are logged, never propagated.
type Reclaimer struct {
	svc      *Service
	interval time.Duration
}

func NewReclaimer(svc *Service, interval time.Duration) *Reclaimer {
	return &Reclaimer{svc: svc, interval: interval}
}

// Run loops until the context is cancelled. No final sweep on shutdown.
func (r *Reclaimer) Run(ctx context.Context) {
	slog.Info("reclaimer started", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reclaimer shutting down")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reclaimer) sweep(ctx context.Context) {
	names, err := r.svc.client.SMembers(ctx, rediskeys.QueueSetKey()).Result()
	if err != nil {
		slog.Error("reclaimer failed to list queues", "error", err)
		return
	}

	for _, name := range names {
		if err := r.sweepQueue(ctx, name); err != nil {
			// One broken queue must not starve the others.
			slog.Error("reclaimer sweep failed", "queue", name, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
	metrics.ReclaimerSweeps.Inc()
}

func (r *Reclaimer) sweepQueue(ctx context.Context, name string) error {
	meta, err := r.svc.loadQueueMeta(ctx, name)
	if err != nil {
		return err
	}
	claimTimeout := time.Duration(meta.claimTimeout) * time.Second

	pending, err := r.svc.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: rediskeys.StreamKey(name),
		Group:  rediskeys.ConsumerGroup(name),
		Start:  "-",
		End:    "+",
		Count:  sweepBatch,
	}).Result()
	if err != nil {
		return err
	}

	for _, entry := range pending {
		if entry.Idle < claimTimeout {
			continue
		}

		jmk := rediskeys.JobMetaKey(name, entry.ID)
		retries, err := r.svc.jobRetries(ctx, jmk)
		if err != nil {
			slog.Error("reclaimer failed to read retries", "queue", name, "job_id", entry.ID, "error", err)
			continue
		}

		if retries >= meta.maxRetries {
			if err := r.svc.deadLetter(ctx, name, entry.ID, "max retries exceeded (stale reclaim)"); err != nil {
				slog.Error("reclaimer failed to dead-letter", "queue", name, "job_id", entry.ID, "error", err)
			}
			continue
		}

		// Back to pending; the entry stays in the group's pending list and
		// becomes visible to the next claimer's stale leg.
		err = r.svc.client.HSet(ctx, jmk, map[string]any{
			"status":     models.StatusPending,
			"claimed_by": "",
			"claimed_at": "",
		}).Err()
		if err != nil {
			slog.Error("reclaimer failed to reset job", "queue", name, "job_id", entry.ID, "error", err)
			continue
		}
		slog.Warn("reset stale job", "queue", name, "job_id", entry.ID,
			"idle", entry.Idle, "retries", retries)
	}
	return nil
}
