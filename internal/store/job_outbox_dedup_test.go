package store

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "sqlite_job_test_")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	s, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(tempDir, "test.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// --- Job repo tests ---

func TestSQLiteStore_JobRepo_EnqueueAndGet(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.EnqueueJob(ctx, "local_notification", time.Now().Add(time.Hour), `{"id":"Diagnosis"}`, "")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if id == "" {
		t.Fatal("EnqueueJob returned empty ID")
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job == nil {
		t.Fatal("GetJob returned nil")
	}
	if job.Kind != "local_notification" {
		t.Errorf("Expected kind 'local_notification', got %q", job.Kind)
	}
	if job.Status != JobStatusQueued {
		t.Errorf("Expected status 'queued', got %q", job.Status)
	}
	if job.MaxAttempts != DefaultJobMaxAttempts {
		t.Errorf("Expected max attempts %d, got %d", DefaultJobMaxAttempts, job.MaxAttempts)
	}

	missing, err := s.GetJob(ctx, "job_missing")
	if err != nil || missing != nil {
		t.Errorf("Expected nil job and no error for missing id, got %v, %v", missing, err)
	}
}

func TestSQLiteStore_JobRepo_DedupeKey(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	runAt := time.Now().Add(time.Hour)

	id1, err := s.EnqueueJob(ctx, "local_notification", runAt, `{}`, "Diagnosis")
	if err != nil {
		t.Fatalf("EnqueueJob 1 failed: %v", err)
	}
	id2, err := s.EnqueueJob(ctx, "local_notification", runAt, `{}`, "Diagnosis")
	if err != nil {
		t.Fatalf("EnqueueJob 2 failed: %v", err)
	}
	if id2 != id1 {
		t.Errorf("Expected dedupe to return same ID %q, got %q", id1, id2)
	}

	id3, err := s.EnqueueJob(ctx, "local_notification", runAt, `{}`, "testResultNotificationIdentifier")
	if err != nil {
		t.Fatalf("EnqueueJob 3 failed: %v", err)
	}
	if id3 == id1 {
		t.Error("Expected different ID for different dedupe key")
	}
}

func TestSQLiteStore_JobRepo_CancelByDedupeKeyAllowsReplacement(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id1, err := s.EnqueueJob(ctx, "local_notification", time.Now().Add(time.Hour), `{}`, "Diagnosis")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	n, err := s.CancelJobsByDedupeKey(ctx, "Diagnosis")
	if err != nil {
		t.Fatalf("CancelJobsByDedupeKey failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 canceled job, got %d", n)
	}

	job, _ := s.GetJob(ctx, id1)
	if job.Status != JobStatusCanceled {
		t.Errorf("Expected status 'canceled', got %q", job.Status)
	}

	id2, err := s.EnqueueJob(ctx, "local_notification", time.Now().Add(2*time.Hour), `{}`, "Diagnosis")
	if err != nil {
		t.Fatalf("EnqueueJob after cancel failed: %v", err)
	}
	if id2 == id1 {
		t.Error("Expected a new job after canceling the old one")
	}

	pending, err := s.PendingJobs(ctx)
	if err != nil {
		t.Fatalf("PendingJobs failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id2 {
		t.Errorf("Expected only the replacement job pending, got %+v", pending)
	}
}

func TestSQLiteStore_JobRepo_ReplaceByDedupeKey(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id1, err := s.ReplaceJobByDedupeKey(ctx, "local_notification", time.Now().Add(time.Hour), `{}`, "Diagnosis")
	if err != nil {
		t.Fatalf("ReplaceJobByDedupeKey 1 failed: %v", err)
	}
	id2, err := s.ReplaceJobByDedupeKey(ctx, "local_notification", time.Now().Add(2*time.Hour), `{}`, "Diagnosis")
	if err != nil {
		t.Fatalf("ReplaceJobByDedupeKey 2 failed: %v", err)
	}
	if id2 == id1 {
		t.Error("Expected a new job for the replacement")
	}

	job, _ := s.GetJob(ctx, id1)
	if job.Status != JobStatusCanceled {
		t.Errorf("Expected replaced job 'canceled', got %q", job.Status)
	}
	pending, err := s.PendingJobs(ctx)
	if err != nil {
		t.Fatalf("PendingJobs failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id2 {
		t.Errorf("Expected only the replacement job pending, got %+v", pending)
	}
}

func TestSQLiteStore_JobRepo_ReplaceKeepsQueuedJobOnInsertFailure(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id1, err := s.EnqueueJob(ctx, "local_notification", time.Now().Add(time.Hour), `{}`, "Diagnosis")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`CREATE TRIGGER reject_jobs BEFORE INSERT ON jobs WHEN NEW.kind = 'rejected' BEGIN SELECT RAISE(ABORT, 'rejected'); END`,
	); err != nil {
		t.Fatalf("create trigger failed: %v", err)
	}

	if _, err := s.ReplaceJobByDedupeKey(ctx, "rejected", time.Now().Add(2*time.Hour), `{}`, "Diagnosis"); err == nil {
		t.Fatal("Expected ReplaceJobByDedupeKey to fail")
	}

	job, _ := s.GetJob(ctx, id1)
	if job.Status != JobStatusQueued {
		t.Errorf("Expected original job still 'queued', got %q", job.Status)
	}
	pending, err := s.PendingJobs(ctx)
	if err != nil {
		t.Fatalf("PendingJobs failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id1 {
		t.Errorf("Expected the original job pending, got %+v", pending)
	}
}

func TestSQLiteStore_JobRepo_DedupeKeyAfterComplete(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	runAt := time.Now().Add(time.Hour)

	id1, err := s.EnqueueJob(ctx, "local_notification", runAt, `{}`, "reuse-key")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if err := s.CompleteJob(ctx, id1); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	id2, err := s.EnqueueJob(ctx, "local_notification", runAt, `{}`, "reuse-key")
	if err != nil {
		t.Fatalf("EnqueueJob 2 failed: %v", err)
	}
	if id2 == id1 {
		t.Error("Expected new ID after completing old job with same dedupe key")
	}
}

func TestSQLiteStore_JobRepo_ClaimDueJobs(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueJob(ctx, "past_job", time.Now().Add(-time.Hour), `{"when":"past"}`, ""); err != nil {
		t.Fatalf("EnqueueJob past failed: %v", err)
	}
	if _, err := s.EnqueueJob(ctx, "future_job", time.Now().Add(time.Hour), `{"when":"future"}`, ""); err != nil {
		t.Fatalf("EnqueueJob future failed: %v", err)
	}

	jobs, err := s.ClaimDueJobs(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 due job, got %d", len(jobs))
	}
	if jobs[0].Kind != "past_job" {
		t.Errorf("Expected kind 'past_job', got %q", jobs[0].Kind)
	}
	if jobs[0].Status != JobStatusRunning {
		t.Errorf("Expected status 'running', got %q", jobs[0].Status)
	}

	again, err := s.ClaimDueJobs(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("second ClaimDueJobs failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Expected claimed job not to be claimed twice, got %d", len(again))
	}
}

func TestSQLiteStore_JobRepo_ClaimRespectsOtherZones(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	// 06:30 UTC expressed at UTC+10 must still be due at 07:00 UTC.
	east := time.FixedZone("UTC+10", 10*60*60)
	runAt := time.Date(2020, 4, 8, 6, 30, 0, 0, time.UTC).In(east)
	if _, err := s.EnqueueJob(ctx, "local_notification", runAt, `{}`, ""); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	jobs, err := s.ClaimDueJobs(ctx, time.Date(2020, 4, 8, 7, 0, 0, 0, time.UTC), 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 due job, got %d", len(jobs))
	}
	if !jobs[0].RunAt.Equal(runAt) {
		t.Errorf("Expected run_at %v, got %v", runAt, jobs[0].RunAt)
	}
}

func TestSQLiteStore_JobRepo_FailAndRetry(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.EnqueueJob(ctx, "retry_job", time.Now().Add(-time.Minute), `{}`, "")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if jobs, err := s.ClaimDueJobs(ctx, time.Now(), 10); err != nil || len(jobs) != 1 {
		t.Fatalf("ClaimDueJobs: expected 1 job, got %d (err %v)", len(jobs), err)
	}

	if err := s.FailJob(ctx, id, "transient error", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}

	job, _ := s.GetJob(ctx, id)
	if job.Status != JobStatusQueued {
		t.Errorf("Expected status 'queued' after first failure, got %q", job.Status)
	}
	if job.Attempt != 1 {
		t.Errorf("Expected attempt 1, got %d", job.Attempt)
	}
	if job.LastError != "transient error" {
		t.Errorf("Expected error message, got %q", job.LastError)
	}
}

func TestSQLiteStore_JobRepo_FailMaxAttempts(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.EnqueueJob(ctx, "fail_job", time.Now().Add(-time.Minute), `{}`, "")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	nextRun := time.Now().Add(-time.Second)
	for i := 0; i < DefaultJobMaxAttempts; i++ {
		s.ClaimDueJobs(ctx, time.Now(), 10)
		if err := s.FailJob(ctx, id, "persistent error", nextRun); err != nil {
			t.Fatalf("FailJob iteration %d failed: %v", i, err)
		}
	}

	job, _ := s.GetJob(ctx, id)
	if job.Status != JobStatusFailed {
		t.Errorf("Expected status 'failed' after max attempts, got %q", job.Status)
	}
	if job.Attempt != DefaultJobMaxAttempts {
		t.Errorf("Expected attempt %d, got %d", DefaultJobMaxAttempts, job.Attempt)
	}
}

func TestSQLiteStore_JobRepo_RequeueStale(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueJob(ctx, "stale_job", time.Now().Add(-time.Hour), `{}`, ""); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	jobs, err := s.ClaimDueJobs(ctx, time.Now(), 10)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("ClaimDueJobs: expected 1 job, got %d (err %v)", len(jobs), err)
	}

	n, err := s.RequeueStaleRunningJobs(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("RequeueStaleRunningJobs failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 requeued, got %d", n)
	}

	job, _ := s.GetJob(ctx, jobs[0].ID)
	if job.Status != JobStatusQueued {
		t.Errorf("Expected status 'queued' after requeue, got %q", job.Status)
	}
}

// --- Outbox repo tests ---

func TestSQLiteStore_OutboxRepo_EnqueueAndClaim(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.EnqueueOutboxMessage(ctx, "contact_events_upload", `{"from":"2020-04-01T06:00:00Z"}`, "")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage failed: %v", err)
	}

	msgs, err := s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ClaimDueOutboxMessages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if msgs[0].ID != id || msgs[0].Kind != "contact_events_upload" {
		t.Errorf("Unexpected message %+v", msgs[0])
	}
	if msgs[0].Status != OutboxStatusSending {
		t.Errorf("Expected status 'sending', got %q", msgs[0].Status)
	}
}

func TestSQLiteStore_OutboxRepo_DedupeKey(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id1, err := s.EnqueueOutboxMessage(ctx, "contact_events_upload", `{}`, "dedupe-1")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage 1 failed: %v", err)
	}
	id2, err := s.EnqueueOutboxMessage(ctx, "contact_events_upload", `{}`, "dedupe-1")
	if err != nil {
		t.Fatalf("EnqueueOutboxMessage 2 failed: %v", err)
	}
	if id2 != id1 {
		t.Errorf("Expected same ID for duplicate dedupe key, got %q and %q", id1, id2)
	}
}

func TestSQLiteStore_OutboxRepo_MarkSent(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, _ := s.EnqueueOutboxMessage(ctx, "contact_events_upload", `{}`, "")
	if msgs, _ := s.ClaimDueOutboxMessages(ctx, time.Now(), 10); len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if err := s.MarkOutboxMessageSent(ctx, id); err != nil {
		t.Fatalf("MarkOutboxMessageSent failed: %v", err)
	}

	if msgs, _ := s.ClaimDueOutboxMessages(ctx, time.Now(), 10); len(msgs) != 0 {
		t.Errorf("Expected 0 messages after sent, got %d", len(msgs))
	}
	msg, err := s.GetOutboxMessage(ctx, id)
	if err != nil || msg == nil {
		t.Fatalf("GetOutboxMessage failed: %v", err)
	}
	if msg.Status != OutboxStatusSent {
		t.Errorf("Expected status 'sent', got %q", msg.Status)
	}
}

func TestSQLiteStore_OutboxRepo_FailAndRetry(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, _ := s.EnqueueOutboxMessage(ctx, "contact_events_upload", `{}`, "")
	s.ClaimDueOutboxMessages(ctx, time.Now(), 10)

	if err := s.FailOutboxMessage(ctx, id, "send error", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("FailOutboxMessage failed: %v", err)
	}

	msgs, _ := s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 retryable message, got %d", len(msgs))
	}
	if msgs[0].Attempts != 1 || msgs[0].LastError != "send error" {
		t.Errorf("Expected attempts=1 and last error recorded, got %+v", msgs[0])
	}
}

func TestSQLiteStore_OutboxRepo_RequeueStale(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	s.EnqueueOutboxMessage(ctx, "contact_events_upload", `{}`, "")
	s.ClaimDueOutboxMessages(ctx, time.Now(), 10)

	n, err := s.RequeueStaleSendingMessages(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("RequeueStaleSendingMessages failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 requeued, got %d", n)
	}
}

// --- Dedup repo tests ---

func TestSQLiteStore_DedupRepo(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	processed, err := s.IsProcessed(ctx, "lab-results/0/42")
	if err != nil {
		t.Fatalf("IsProcessed failed: %v", err)
	}
	if processed {
		t.Error("Expected unknown message not to be processed")
	}

	isNew, err := s.RecordInbound(ctx, "lab-results/0/42", "kafka")
	if err != nil {
		t.Fatalf("RecordInbound failed: %v", err)
	}
	if !isNew {
		t.Error("Expected isNew=true for first record")
	}
	isNew, err = s.RecordInbound(ctx, "lab-results/0/42", "kafka")
	if err != nil {
		t.Fatalf("RecordInbound duplicate failed: %v", err)
	}
	if isNew {
		t.Error("Expected isNew=false for duplicate record")
	}

	if processed, _ := s.IsProcessed(ctx, "lab-results/0/42"); processed {
		t.Error("Expected recorded but unprocessed message to report false")
	}
	if err := s.MarkProcessed(ctx, "lab-results/0/42"); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	if processed, _ := s.IsProcessed(ctx, "lab-results/0/42"); !processed {
		t.Error("Expected message to be processed after MarkProcessed")
	}
}

// --- JobRunner tests ---

func TestJobRunner_PollExecutesDueJobs(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Now())
	runner := NewJobRunnerWithClock(s, time.Second, clock)

	var executed int32
	runner.RegisterHandler("local_notification", func(ctx context.Context, payload string) error {
		atomic.AddInt32(&executed, 1)
		return nil
	})

	dueID, _ := s.EnqueueJob(ctx, "local_notification", clock.Now().Add(-time.Second), `{}`, "")
	laterID, _ := s.EnqueueJob(ctx, "local_notification", clock.Now().Add(time.Hour), `{}`, "")

	runner.poll(ctx)
	if atomic.LoadInt32(&executed) != 1 {
		t.Fatalf("Expected 1 execution, got %d", atomic.LoadInt32(&executed))
	}
	if job, _ := s.GetJob(ctx, dueID); job.Status != JobStatusDone {
		t.Errorf("Expected due job done, got %q", job.Status)
	}

	clock.Advance(2 * time.Hour)
	runner.poll(ctx)
	if atomic.LoadInt32(&executed) != 2 {
		t.Fatalf("Expected 2 executions after advancing the clock, got %d", atomic.LoadInt32(&executed))
	}
	if job, _ := s.GetJob(ctx, laterID); job.Status != JobStatusDone {
		t.Errorf("Expected later job done, got %q", job.Status)
	}
}

func TestJobRunner_HandlerFailureBacksOff(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Now())
	runner := NewJobRunnerWithClock(s, time.Second, clock)
	runner.RegisterHandler("local_notification", func(ctx context.Context, payload string) error {
		return context.DeadlineExceeded
	})

	id, _ := s.EnqueueJob(ctx, "local_notification", clock.Now().Add(-time.Second), `{}`, "")
	runner.poll(ctx)

	job, _ := s.GetJob(ctx, id)
	if job.Status != JobStatusQueued || job.Attempt != 1 {
		t.Fatalf("Expected queued retry with attempt 1, got %q/%d", job.Status, job.Attempt)
	}
	if !job.RunAt.After(clock.Now()) {
		t.Errorf("Expected retry scheduled in the future, got %v", job.RunAt)
	}
}

func TestJobRunner_Run(t *testing.T) {
	s := newTestSQLiteStore(t)
	runner := NewJobRunner(s, 50*time.Millisecond)

	var executed int32
	runner.RegisterHandler("local_notification", func(ctx context.Context, payload string) error {
		atomic.AddInt32(&executed, 1)
		return nil
	})

	if _, err := s.EnqueueJob(context.Background(), "local_notification", time.Now().Add(-time.Second), `{}`, ""); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go runner.Run(ctx)
	<-ctx.Done()

	if atomic.LoadInt32(&executed) != 1 {
		t.Errorf("Expected 1 execution, got %d", atomic.LoadInt32(&executed))
	}
}

// --- OutboxSender tests ---

func TestOutboxSender_Run(t *testing.T) {
	s := newTestSQLiteStore(t)

	var sent int32
	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error {
		atomic.AddInt32(&sent, 1)
		return nil
	}, 50*time.Millisecond)

	if _, err := s.EnqueueOutboxMessage(context.Background(), "contact_events_upload", `{}`, ""); err != nil {
		t.Fatalf("EnqueueOutboxMessage failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go sender.Run(ctx)
	<-ctx.Done()

	if atomic.LoadInt32(&sent) != 1 {
		t.Errorf("Expected 1 send, got %d", atomic.LoadInt32(&sent))
	}
}

func TestOutboxSender_FailureRequeues(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Now())
	sender := NewOutboxSenderWithClock(s, func(ctx context.Context, msg OutboxMessage) error {
		return context.DeadlineExceeded
	}, time.Second, clock)

	id, _ := s.EnqueueOutboxMessage(ctx, "contact_events_upload", `{}`, "")
	sender.poll(ctx)

	msg, err := s.GetOutboxMessage(ctx, id)
	if err != nil || msg == nil {
		t.Fatalf("GetOutboxMessage failed: %v", err)
	}
	if msg.Status != OutboxStatusQueued || msg.Attempts != 1 {
		t.Errorf("Expected queued retry with 1 attempt, got %q/%d", msg.Status, msg.Attempts)
	}
	if msg.NextAttemptAt == nil || !msg.NextAttemptAt.After(clock.Now()) {
		t.Errorf("Expected next attempt in the future, got %v", msg.NextAttemptAt)
	}
}
