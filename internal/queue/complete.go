package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fedutinova/starq/internal/common"
	"github.com/fedutinova/starq/internal/metrics"
	"github.com/fedutinova/starq/internal/models"
	rediskeys "github.com/fedutinova/starq/internal/redis"
	"github.com/redis/go-redis/v9"
)

// Complete marks a claimed job done: terminal status, result, metadata TTL,
// ack on the stream, counter bump. One pipeline, so a half-applied
// transition cannot be observed between the hash and the pending list.
func (s *Service) Complete(ctx context.Context, name, jobID string, result map[string]any) error {
	if err := s.ensureQueue(ctx, name); err != nil {
		return err
	}

	jmk := rediskeys.JobMetaKey(name, jobID)
	exists, err := s.client.Exists(ctx, jmk).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return common.ErrJobNotFound
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, jmk, map[string]any{
		"status":       models.StatusCompleted,
		"result":       string(encoded),
		"completed_at": nowUnix(),
	})
	pipe.Expire(ctx, jmk, s.cfg.JobMetaTTL)
	pipe.XAck(ctx, rediskeys.StreamKey(name), rediskeys.ConsumerGroup(name), jobID)
	pipe.Incr(ctx, rediskeys.StatsCompletedKey(name))
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	metrics.JobsCompleted.WithLabelValues(name).Inc()
	slog.Debug("job completed", "queue", name, "job_id", jobID)
	return nil
}

// Fail records a failure. Under the retry budget the job goes back to
// pending without an ack, so the entry stays in the pending list and the
// next claim's stale leg picks it up once idle long enough. At or over the
// budget it is dead-lettered. Returns the retry count at the fail event.
func (s *Service) Fail(ctx context.Context, name, jobID, errMsg string) (int, error) {
	if err := s.ensureQueue(ctx, name); err != nil {
		return 0, err
	}

	jmk := rediskeys.JobMetaKey(name, jobID)
	exists, err := s.client.Exists(ctx, jmk).Result()
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, common.ErrJobNotFound
	}

	meta, err := s.loadQueueMeta(ctx, name)
	if err != nil {
		return 0, err
	}
	retries, err := s.jobRetries(ctx, jmk)
	if err != nil {
		return 0, err
	}

	if retries < meta.maxRetries {
		// No ack and no retry bump here: the stale-reclaim leg owns the
		// counter, so retries means "times reassigned".
		err := s.client.HSet(ctx, jmk, map[string]any{
			"status":     models.StatusPending,
			"error":      errMsg,
			"claimed_at": "",
		}).Err()
		if err != nil {
			return 0, err
		}
		metrics.JobsRetried.WithLabelValues(name).Inc()
		slog.Debug("job failed, will retry", "queue", name, "job_id", jobID, "retries", retries)
		return retries, nil
	}

	if err := s.deadLetter(ctx, name, jobID, errMsg); err != nil {
		return 0, err
	}
	return retries, nil
}

// deadLetter performs the terminal failure transition: status failed, TTL,
// ack, failed counter, dedupe-hash removal so the payload can be
// resubmitted. Shared by Fail and the reclaimer.
func (s *Service) deadLetter(ctx context.Context, name, jobID, errMsg string) error {
	jmk := rediskeys.JobMetaKey(name, jobID)

	dedupeHash, err := s.client.HGet(ctx, jmk, "dedupe_hash").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, jmk, map[string]any{
		"status":       models.StatusFailed,
		"error":        errMsg,
		"completed_at": nowUnix(),
	})
	pipe.Expire(ctx, jmk, s.cfg.JobMetaTTL)
	pipe.XAck(ctx, rediskeys.StreamKey(name), rediskeys.ConsumerGroup(name), jobID)
	pipe.Incr(ctx, rediskeys.StatsFailedKey(name))
	if dedupeHash != "" {
		pipe.SRem(ctx, rediskeys.DedupeKey(name), dedupeHash)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	metrics.JobsDeadLettered.WithLabelValues(name).Inc()
	slog.Warn("job dead-lettered", "queue", name, "job_id", jobID, "error", errMsg)
	return nil
}
