package queue

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/fedutinova/starq/internal/metrics"
	"github.com/fedutinova/starq/internal/models"
	rediskeys "github.com/fedutinova/starq/internal/redis"
	"github.com/redis/go-redis/v9"
)

// Claim hands up to count jobs to the caller, marking each claimed. Two
// legs, concatenated: first reassign stale pending entries (idle past the
// queue's claim timeout), then read never-delivered entries from the group
// cursor. Each leg swallows its own errors so a broken stale leg cannot
// deny service to new work.
//
// The retry counter is bumped only on the stale leg: retries counts
// reassignments, never first deliveries.
func (s *Service) Claim(ctx context.Context, name string, count, blockMS int) ([]models.JobInfo, error) {
	if err := s.ensureQueue(ctx, name); err != nil {
		return nil, err
	}

	claimed := []models.JobInfo{}
	if count <= 0 {
		return claimed, nil
	}

	meta, err := s.loadQueueMeta(ctx, name)
	if err != nil {
		return nil, err
	}
	claimTimeout := time.Duration(meta.claimTimeout) * time.Second

	sk := rediskeys.StreamKey(name)
	cg := rediskeys.ConsumerGroup(name)
	now := nowUnix()

	// Stale reclaim leg.
	stale, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   sk,
		Group:    cg,
		Consumer: consumerName,
		MinIdle:  claimTimeout,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		slog.Error("stale reclaim leg failed", "queue", name, "error", err)
	}
	for _, msg := range stale {
		info, err := s.claimStale(ctx, name, msg.ID, now)
		if err != nil {
			slog.Error("failed to claim stale job", "queue", name, "job_id", msg.ID, "error", err)
			continue
		}
		claimed = append(claimed, info)
	}
	if len(stale) > 0 {
		metrics.JobsReclaimed.WithLabelValues(name).Add(float64(len(stale)))
	}

	// Fresh read leg. Only this leg may block, and only when the stale leg
	// came back empty. go-redis sends BLOCK whenever Block >= 0, so the
	// non-blocking case must pass -1.
	remaining := count - len(claimed)
	if remaining > 0 {
		block := time.Duration(-1)
		if blockMS > 0 && len(claimed) == 0 {
			block = time.Duration(blockMS) * time.Millisecond
		}
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    cg,
			Consumer: consumerName,
			Streams:  []string{sk, ">"},
			Count:    int64(remaining),
			Block:    block,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			slog.Error("fresh read leg failed", "queue", name, "error", err)
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				info, err := s.claimFresh(ctx, name, msg.ID, now)
				if err != nil {
					slog.Error("failed to claim job", "queue", name, "job_id", msg.ID, "error", err)
					continue
				}
				claimed = append(claimed, info)
			}
		}
	}

	if len(claimed) > 0 {
		metrics.JobsClaimed.WithLabelValues(name).Add(float64(len(claimed)))
	}
	slog.Debug("jobs claimed", "queue", name, "count", len(claimed))
	return claimed, nil
}

// claimStale marks a reassigned entry claimed and bumps its retry counter.
func (s *Service) claimStale(ctx context.Context, name, jobID, now string) (models.JobInfo, error) {
	jmk := rediskeys.JobMetaKey(name, jobID)

	retries, err := s.jobRetries(ctx, jmk)
	if err != nil {
		return models.JobInfo{}, err
	}

	err = s.client.HSet(ctx, jmk, map[string]any{
		"status":     models.StatusClaimed,
		"claimed_at": now,
		"retries":    strconv.Itoa(retries + 1),
	}).Err()
	if err != nil {
		return models.JobInfo{}, err
	}

	meta, err := s.client.HGetAll(ctx, jmk).Result()
	if err != nil {
		return models.JobInfo{}, err
	}
	return jobInfoFromMeta(name, jobID, meta), nil
}

// claimFresh marks a first-delivery entry claimed, leaving retries alone.
func (s *Service) claimFresh(ctx context.Context, name, jobID, now string) (models.JobInfo, error) {
	jmk := rediskeys.JobMetaKey(name, jobID)

	err := s.client.HSet(ctx, jmk, map[string]any{
		"status":     models.StatusClaimed,
		"claimed_at": now,
	}).Err()
	if err != nil {
		return models.JobInfo{}, err
	}

	meta, err := s.client.HGetAll(ctx, jmk).Result()
	if err != nil {
		return models.JobInfo{}, err
	}
	return jobInfoFromMeta(name, jobID, meta), nil
}

// jobRetries reads the stored retry count, defaulting to zero when the
// metadata hash is missing (tolerated partial submit state).
func (s *Service) jobRetries(ctx context.Context, jobMetaKey string) (int, error) {
	raw, err := s.client.HGet(ctx, jobMetaKey, "retries").Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, nil
	}
	return n, nil
}
