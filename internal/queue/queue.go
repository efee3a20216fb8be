package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/fedutinova/starq/internal/common"
	"github.com/fedutinova/starq/internal/models"
	rediskeys "github.com/fedutinova/starq/internal/redis"
	"github.com/redis/go-redis/v9"
)

// consumerName is the single consumer identity for this process. Fairness
// across workers is delegated to the consumer group: each entry is delivered
// to exactly one consumer until acked or reclaimed, so a fixed name suffices.
const consumerName = "w"

// Config holds queue-level defaults and the metadata TTL.
type Config struct {
	DefaultClaimTimeout int // seconds
	DefaultMaxRetries   int
	JobMetaTTL          time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultClaimTimeout: 300,
		DefaultMaxRetries:   3,
		JobMetaTTL:          7 * 24 * time.Hour,
	}
}

// Service implements the queue control plane over Redis Streams. It holds
// no state of its own; every decision is made against Redis.
type Service struct {
	client *redis.Client
	cfg    Config
}

func New(client *redis.Client, cfg Config) *Service {
	return &Service{client: client, cfg: cfg}
}

// ensureQueue fails with ErrQueueNotFound unless name is in the queue set.
func (s *Service) ensureQueue(ctx context.Context, name string) error {
	ok, err := s.client.SIsMember(ctx, rediskeys.QueueSetKey(), name).Result()
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrQueueNotFound
	}
	return nil
}

// queueMeta is the parsed per-queue configuration hash.
type queueMeta struct {
	description  string
	maxRetries   int
	claimTimeout int // seconds
	dedupe       bool
}

func (s *Service) loadQueueMeta(ctx context.Context, name string) (queueMeta, error) {
	raw, err := s.client.HGetAll(ctx, rediskeys.QueueMetaKey(name)).Result()
	if err != nil {
		return queueMeta{}, err
	}
	return queueMeta{
		description:  raw["description"],
		maxRetries:   metaInt(raw, "max_retries", s.cfg.DefaultMaxRetries),
		claimTimeout: metaInt(raw, "claim_timeout", s.cfg.DefaultClaimTimeout),
		dedupe:       raw["dedupe"] == "1",
	}, nil
}

func metaInt(meta map[string]string, field string, def int) int {
	if v, ok := meta[field]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// jobInfoFromMeta builds the wire view of a job from its metadata hash.
// Unparseable payload/result JSON degrades to an empty object rather than
// failing the whole request.
func jobInfoFromMeta(queue, jobID string, meta map[string]string) models.JobInfo {
	payload := map[string]any{}
	result := map[string]any{}
	if raw := meta["payload"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &payload)
	}
	if raw := meta["result"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &result)
	}

	status := meta["status"]
	if status == "" {
		status = models.StatusPending
	}

	return models.JobInfo{
		ID:          jobID,
		Queue:       queue,
		Status:      status,
		Payload:     payload,
		Result:      result,
		Error:       meta["error"],
		Retries:     metaInt(meta, "retries", 0),
		CreatedAt:   meta["created_at"],
		ClaimedAt:   meta["claimed_at"],
		CompletedAt: meta["completed_at"],
	}
}

func nowUnix() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}
