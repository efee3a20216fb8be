package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fedutinova/starq/internal/metrics"
	"github.com/fedutinova/starq/internal/models"
	rediskeys "github.com/fedutinova/starq/internal/redis"
	"github.com/fedutinova/starq/internal/validation"
	"github.com/redis/go-redis/v9"
)

// payloadHash is the content address for dedupe: sha256 over the canonical
// JSON encoding. json.Marshal of map[string]any sorts keys at every nesting
// level, so key order in the submitted document does not matter.
func payloadHash(payload map[string]any) (string, []byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), encoded, nil
}

type acceptedJob struct {
	job     models.JobSubmit
	encoded string // canonical payload JSON
	hash    string // empty when dedupe is off
}

// Submit appends a batch of jobs to the queue's stream and writes their
// metadata. With dedupe enabled, jobs whose payload hash is already present
// (in the dedupe set or earlier in the same batch) are skipped and counted.
//
// Two grouped round trips on purpose: one XAdd pipeline to learn the
// server-assigned IDs in order, then one pipeline for metadata and dedupe
// hashes. Dedupe is best-effort across concurrent submitters.
func (s *Service) Submit(ctx context.Context, name string, jobs []models.JobSubmit) (models.SubmitResponse, error) {
	if err := s.ensureQueue(ctx, name); err != nil {
		return models.SubmitResponse{}, err
	}
	if err := validation.BatchSize(len(jobs)); err != nil {
		return models.SubmitResponse{}, err
	}

	meta, err := s.loadQueueMeta(ctx, name)
	if err != nil {
		return models.SubmitResponse{}, err
	}

	accepted := make([]acceptedJob, 0, len(jobs))
	skipped := 0
	seen := make(map[string]struct{})

	for _, job := range jobs {
		hash, encoded, err := payloadHash(job.Payload)
		if err != nil {
			return models.SubmitResponse{}, err
		}
		if err := validation.PayloadSize(encoded); err != nil {
			return models.SubmitResponse{}, err
		}

		if !meta.dedupe {
			accepted = append(accepted, acceptedJob{job: job, encoded: string(encoded)})
			continue
		}

		if _, dup := seen[hash]; dup {
			skipped++
			continue
		}
		member, err := s.client.SIsMember(ctx, rediskeys.DedupeKey(name), hash).Result()
		if err != nil {
			return models.SubmitResponse{}, err
		}
		if member {
			skipped++
			continue
		}
		seen[hash] = struct{}{}
		accepted = append(accepted, acceptedJob{job: job, encoded: string(encoded), hash: hash})
	}

	resp := models.SubmitResponse{
		Jobs:      []models.JobInfo{},
		Submitted: len(accepted),
		Skipped:   skipped,
	}
	if len(accepted) == 0 {
		metrics.JobsSkipped.WithLabelValues(name).Add(float64(skipped))
		return resp, nil
	}

	now := nowUnix()
	sk := rediskeys.StreamKey(name)

	addPipe := s.client.Pipeline()
	addCmds := make([]*redis.StringCmd, 0, len(accepted))
	for _, a := range accepted {
		cmd := addPipe.XAdd(ctx, &redis.XAddArgs{
			Stream: sk,
			Values: map[string]any{
				"payload":  a.encoded,
				"priority": fmt.Sprintf("%d", a.job.Priority),
			},
		})
		addCmds = append(addCmds, cmd)
	}
	if _, err := addPipe.Exec(ctx); err != nil {
		return models.SubmitResponse{}, err
	}

	metaPipe := s.client.Pipeline()
	ids := make([]string, len(accepted))
	for i, a := range accepted {
		id, err := addCmds[i].Result()
		if err != nil {
			return models.SubmitResponse{}, err
		}
		ids[i] = id

		fields := map[string]any{
			"status":     models.StatusPending,
			"payload":    a.encoded,
			"created_at": now,
			"retries":    "0",
		}
		if a.hash != "" {
			fields["dedupe_hash"] = a.hash
			metaPipe.SAdd(ctx, rediskeys.DedupeKey(name), a.hash)
		}
		metaPipe.HSet(ctx, rediskeys.JobMetaKey(name, id), fields)
	}
	if _, err := metaPipe.Exec(ctx); err != nil {
		return models.SubmitResponse{}, err
	}

	for i, a := range accepted {
		resp.Jobs = append(resp.Jobs, models.JobInfo{
			ID:        ids[i],
			Queue:     name,
			Status:    models.StatusPending,
			Payload:   a.job.Payload,
			Result:    map[string]any{},
			CreatedAt: now,
		})
	}

	metrics.JobsSubmitted.WithLabelValues(name).Add(float64(len(accepted)))
	metrics.JobsSkipped.WithLabelValues(name).Add(float64(skipped))
	slog.Debug("jobs submitted", "queue", name, "submitted", len(accepted), "skipped", skipped)
	return resp, nil
}
