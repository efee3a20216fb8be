package queue

import (
	"context"
	"testing"
	"time"

	"github.com/fedutinova/starq/internal/models"
	rediskeys "github.com/fedutinova/starq/internal/redis"
)

func TestReclaimer_ResetsStaleToPending(t *testing.T) {
	mr, svc := newTestService(t)
	ctx := context.Background()

	start := time.Now()
	mr.SetTime(start)

	mustCreate(t, svc, "q", 3, 60, false)
	resp, err := svc.Submit(ctx, "q", makeJobs(1))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	jobID := resp.Jobs[0].ID

	if _, err := svc.Claim(ctx, "q", 1, 0); err != nil {
		t.Fatalf("Claim error: %v", err)
	}

	mr.SetTime(start.Add(5 * time.Minute))
	NewReclaimer(svc, time.Second).sweep(ctx)

	meta, err := svc.client.HGetAll(ctx, rediskeys.JobMetaKey("q", jobID)).Result()
	if err != nil {
		t.Fatalf("HGetAll error: %v", err)
	}
	if meta["status"] != models.StatusPending {
		t.Fatalf("expected stale job reset to pending, got %q", meta["status"])
	}
	if meta["claimed_by"] != "" || meta["claimed_at"] != "" {
		t.Fatalf("expected claim fields cleared, got %v", meta)
	}
	if meta["retries"] != "0" {
		t.Fatalf("sweep reset must not bump retries, got %q", meta["retries"])
	}

	// The entry stays in the group's pending list for the stale claim leg.
	info, err := svc.Info(ctx, "q")
	if err != nil {
		t.Fatalf("Info error: %v", err)
	}
	if info.Pending != 1 {
		t.Fatalf("reset entry must remain pending in the group, got %d", info.Pending)
	}
}

func TestReclaimer_DeadLettersExhausted(t *testing.T) {
	mr, svc := newTestService(t)
	ctx := context.Background()

	start := time.Now()
	mr.SetTime(start)

	mustCreate(t, svc, "q", 0, 60, true)
	payload := map[string]any{"job": "doomed"}
	resp, err := svc.Submit(ctx, "q", []models.JobSubmit{{Payload: payload}})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	jobID := resp.Jobs[0].ID

	if _, err := svc.Claim(ctx, "q", 1, 0); err != nil {
		t.Fatalf("Claim error: %v", err)
	}

	mr.SetTime(start.Add(5 * time.Minute))
	NewReclaimer(svc, time.Second).sweep(ctx)

	meta, err := svc.client.HGetAll(ctx, rediskeys.JobMetaKey("q", jobID)).Result()
	if err != nil {
		t.Fatalf("HGetAll error: %v", err)
	}
	if meta["status"] != models.StatusFailed {
		t.Fatalf("expected dead-lettered job, got %q", meta["status"])
	}
	if meta["error"] != "max retries exceeded (stale reclaim)" {
		t.Fatalf("unexpected terminal error: %q", meta["error"])
	}

	info, err := svc.Info(ctx, "q")
	if err != nil {
		t.Fatalf("Info error: %v", err)
	}
	if info.Failed != 1 {
		t.Fatalf("expected failed_total=1, got %d", info.Failed)
	}
	if info.Pending != 0 {
		t.Fatalf("dead-lettered entry must be acked, pending=%d", info.Pending)
	}

	// Dead-lettering releases the dedupe hash.
	again, err := svc.Submit(ctx, "q", []models.JobSubmit{{Payload: payload}})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if again.Submitted != 1 {
		t.Fatalf("expected resubmit admitted after dead-letter, got %+v", again)
	}
}

func TestReclaimer_LeavesFreshClaimsAlone(t *testing.T) {
	mr, svc := newTestService(t)
	ctx := context.Background()

	start := time.Now()
	mr.SetTime(start)

	mustCreate(t, svc, "q", 3, 300, false)
	resp, err := svc.Submit(ctx, "q", makeJobs(1))
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	jobID := resp.Jobs[0].ID

	if _, err := svc.Claim(ctx, "q", 1, 0); err != nil {
		t.Fatalf("Claim error: %v", err)
	}

	// Idle well under the 300s timeout.
	mr.SetTime(start.Add(10 * time.Second))
	NewReclaimer(svc, time.Second).sweep(ctx)

	status, err := svc.client.HGet(ctx, rediskeys.JobMetaKey("q", jobID), "status").Result()
	if err != nil {
		t.Fatalf("HGet error: %v", err)
	}
	if status != models.StatusClaimed {
		t.Fatalf("fresh claim must survive the sweep, got %q", status)
	}
}

func TestReclaimer_RunStopsOnCancel(t *testing.T) {
	_, svc := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewReclaimer(svc, 10*time.Millisecond).Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
