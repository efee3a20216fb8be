package queue

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fedutinova/starq/internal/models"
	rediskeys "github.com/fedutinova/starq/internal/redis"
	"github.com/redis/go-redis/v9"
)

// ListJobs walks the stream newest-first from the cursor (exclusive; "+"
// when absent), fetching count+1 entries to detect another page. The status
// filter runs after the window is materialized, so filtered pages may come
// back short of count; the cursor still advances correctly.
func (s *Service) ListJobs(ctx context.Context, name, status string, count int, cursor string) (models.JobListResponse, error) {
	if err := s.ensureQueue(ctx, name); err != nil {
		return models.JobListResponse{}, err
	}

	maxID := "+"
	if cursor != "" {
		maxID = cursorUpperBound(cursor)
	}

	sk := rediskeys.StreamKey(name)
	entries, err := s.client.XRevRangeN(ctx, sk, maxID, "-", int64(count)+1).Result()
	if err != nil {
		return models.JobListResponse{}, err
	}

	hasMore := len(entries) > count
	if hasMore {
		entries = entries[:count]
	}

	// One grouped round trip for the whole window's metadata.
	metas := make([]map[string]string, len(entries))
	if len(entries) > 0 {
		pipe := s.client.Pipeline()
		cmds := make([]*redis.MapStringStringCmd, len(entries))
		for i, entry := range entries {
			cmds[i] = pipe.HGetAll(ctx, rediskeys.JobMetaKey(name, entry.ID))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return models.JobListResponse{}, err
		}
		for i, cmd := range cmds {
			metas[i], _ = cmd.Result()
		}
	}

	jobs := []models.JobInfo{}
	for i, entry := range entries {
		meta := metas[i]
		if len(meta) == 0 {
			// Metadata expired or the submit was cut short after XADD;
			// default the view to a pending job carrying the stream payload.
			meta = map[string]string{
				"status":  models.StatusPending,
				"payload": streamPayload(entry),
			}
		}
		job := jobInfoFromMeta(name, entry.ID, meta)
		if status == "" || job.Status == status {
			jobs = append(jobs, job)
		}
	}

	nextCursor := ""
	if hasMore && len(entries) > 0 {
		nextCursor = entries[len(entries)-1].ID
	}

	return models.JobListResponse{Jobs: jobs, Cursor: nextCursor, HasMore: hasMore}, nil
}

// cursorUpperBound turns the previous page's last ID into the exclusive
// upper bound for the next page: <ts>-<seq-1> when seq > 0, otherwise
// <ts-1>-<2^63-1>. Malformed cursors fall back to "+".
func cursorUpperBound(cursor string) string {
	parts := strings.Split(cursor, "-")
	if len(parts) != 2 {
		return "+"
	}
	ts, err1 := strconv.ParseInt(parts[0], 10, 64)
	seq, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return "+"
	}
	if seq > 0 {
		return fmt.Sprintf("%d-%d", ts, seq-1)
	}
	if ts > 0 {
		return fmt.Sprintf("%d-%d", ts-1, int64(math.MaxInt64))
	}
	// 0-0 cannot be a real entry ID; nothing precedes it.
	return "0-0"
}

func streamPayload(entry redis.XMessage) string {
	if raw, ok := entry.Values["payload"].(string); ok {
		return raw
	}
	return "{}"
}
