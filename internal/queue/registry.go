package queue

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/fedutinova/starq/internal/common"
	"github.com/fedutinova/starq/internal/models"
	rediskeys "github.com/fedutinova/starq/internal/redis"
	"github.com/redis/go-redis/v9"
)

// deleteScanBatch bounds how many job metadata keys one SCAN step unlinks.
const deleteScanBatch = 500

// Create registers a new queue: consumer group on a fresh stream, the
// metadata hash, and queue-set membership. The group creation is idempotent;
// write ordering does not matter because list/info treat the queue set as
// the source of truth.
func (s *Service) Create(ctx context.Context, name, description string, maxRetries, claimTimeout int, dedupe bool) (models.QueueInfo, error) {
	exists, err := s.client.SIsMember(ctx, rediskeys.QueueSetKey(), name).Result()
	if err != nil {
		return models.QueueInfo{}, err
	}
	if exists {
		return models.QueueInfo{}, common.ErrQueueExists
	}

	err = s.client.XGroupCreateMkStream(ctx, rediskeys.StreamKey(name), rediskeys.ConsumerGroup(name), "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return models.QueueInfo{}, err
	}

	dedupeFlag := "0"
	if dedupe {
		dedupeFlag = "1"
	}
	err = s.client.HSet(ctx, rediskeys.QueueMetaKey(name), map[string]any{
		"description":   description,
		"max_retries":   strconv.Itoa(maxRetries),
		"claim_timeout": strconv.Itoa(claimTimeout),
		"dedupe":        dedupeFlag,
	}).Err()
	if err != nil {
		return models.QueueInfo{}, err
	}

	if err := s.client.SAdd(ctx, rediskeys.QueueSetKey(), name).Err(); err != nil {
		return models.QueueInfo{}, err
	}

	slog.Info("queue created", "queue", name, "max_retries", maxRetries,
		"claim_timeout", claimTimeout, "dedupe", dedupe)
	return s.Info(ctx, name)
}

// Delete removes the queue and all derived state. Set membership goes first
// so that a crash mid-drain leaves only unreachable garbage, never a
// half-visible queue.
func (s *Service) Delete(ctx context.Context, name string) error {
	exists, err := s.client.SIsMember(ctx, rediskeys.QueueSetKey(), name).Result()
	if err != nil {
		return err
	}
	if !exists {
		return common.ErrQueueNotFound
	}

	if err := s.client.SRem(ctx, rediskeys.QueueSetKey(), name).Err(); err != nil {
		return err
	}

	err = s.client.Unlink(ctx,
		rediskeys.StreamKey(name),
		rediskeys.QueueMetaKey(name),
		rediskeys.StatsCompletedKey(name),
		rediskeys.StatsFailedKey(name),
		rediskeys.DedupeKey(name),
	).Err()
	if err != nil {
		return err
	}

	// Drain job metadata in bounded batches.
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, rediskeys.JobMetaPattern(name), deleteScanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Unlink(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	slog.Info("queue deleted", "queue", name)
	return nil
}

// Info reads metadata, counters, stream length and pending count in one
// round of fan-out. The group may not exist yet for a freshly created
// stream; pending/workers default to zero in that case.
func (s *Service) Info(ctx context.Context, name string) (models.QueueInfo, error) {
	if err := s.ensureQueue(ctx, name); err != nil {
		return models.QueueInfo{}, err
	}

	pipe := s.client.Pipeline()
	metaCmd := pipe.HGetAll(ctx, rediskeys.QueueMetaKey(name))
	lenCmd := pipe.XLen(ctx, rediskeys.StreamKey(name))
	pendingCmd := pipe.XPending(ctx, rediskeys.StreamKey(name), rediskeys.ConsumerGroup(name))
	completedCmd := pipe.Get(ctx, rediskeys.StatsCompletedKey(name))
	failedCmd := pipe.Get(ctx, rediskeys.StatsFailedKey(name))
	// Exec error is checked per command: a missing group or counter key is
	// expected on young queues and must not fail the whole read.
	_, _ = pipe.Exec(ctx)

	meta, err := metaCmd.Result()
	if err != nil {
		return models.QueueInfo{}, err
	}

	info := models.QueueInfo{
		Name:         name,
		Description:  meta["description"],
		MaxRetries:   metaInt(meta, "max_retries", s.cfg.DefaultMaxRetries),
		ClaimTimeout: metaInt(meta, "claim_timeout", s.cfg.DefaultClaimTimeout),
		Dedupe:       meta["dedupe"] == "1",
	}

	if length, err := lenCmd.Result(); err == nil {
		info.Length = length
	}
	if pending, err := pendingCmd.Result(); err == nil && pending != nil {
		info.Pending = pending.Count
		info.Workers = int64(len(pending.Consumers))
	}
	info.Completed = counterValue(completedCmd)
	info.Failed = counterValue(failedCmd)

	return info, nil
}

// List returns info for every known queue, sorted by name.
func (s *Service) List(ctx context.Context) ([]models.QueueInfo, error) {
	names, err := s.client.SMembers(ctx, rediskeys.QueueSetKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	queues := make([]models.QueueInfo, 0, len(names))
	for _, name := range names {
		info, err := s.Info(ctx, name)
		if err != nil {
			// Raced with a concurrent delete; skip rather than fail the list.
			if common.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		queues = append(queues, info)
	}
	return queues, nil
}

func counterValue(cmd *redis.StringCmd) int64 {
	v, err := cmd.Int64()
	if err != nil {
		return 0
	}
	return v
}

// isGroupExistsError checks for "BUSYGROUP Consumer Group name already exists"
func isGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
