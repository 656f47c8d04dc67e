// Package reconcile runs the platform's background maintenance through the
// job queue: re-indexing memories whose vector upsert failed, and the
// scheduled eviction sweep for working-scope memories.
package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aimemory/platform/pkg/jobx"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/logx"
	"github.com/aimemory/platform/pkg/memstore/memstoresrv"
	"github.com/aimemory/platform/pkg/notifx"
)

// Job types.
const (
	JobReindexMemory = "reindex_memory"
	JobGCSweep       = "gc_sweep"
)

// reindexQueue keeps maintenance work off the default queue so interactive
// jobs are never starved by a backlog of retries.
const reindexQueue = "maintenance"

// ReindexPayload identifies one memory awaiting vector reconciliation.
type ReindexPayload struct {
	MemoryID    string        `json:"memory_id"`
	OwnerUserID kernel.UserID `json:"owner_user_id"`
}

// GCSweepPayload scopes one eviction sweep; an empty owner sweeps everyone.
type GCSweepPayload struct {
	OwnerUserID kernel.UserID `json:"owner_user_id,omitempty"`
}

// Reconciler wires the job handlers to the memory service and raises an
// operator notification when a reindex exhausts its retries.
type Reconciler struct {
	jobs       *jobx.Client
	memories   *memstoresrv.MemoryService
	notifier   *notifx.Client
	fromEmail  string
	adminEmail string
}

func NewReconciler(jobs *jobx.Client, memories *memstoresrv.MemoryService, notifier *notifx.Client, fromEmail, adminEmail string) *Reconciler {
	return &Reconciler{
		jobs:       jobs,
		memories:   memories,
		notifier:   notifier,
		fromEmail:  fromEmail,
		adminEmail: adminEmail,
	}
}

// RegisterHandlers attaches the job handlers. Call once before the job
// client starts.
func (r *Reconciler) RegisterHandlers() {
	r.jobs.Register(JobReindexMemory, r.handleReindex)
	r.jobs.Register(JobGCSweep, r.handleGCSweep)
}

// EnqueueReindex satisfies the memory store's reindex enqueuer: the write
// path calls this when an inline vector upsert fails.
func (r *Reconciler) EnqueueReindex(ctx context.Context, memoryID string, owner kernel.UserID) error {
	payload, err := json.Marshal(ReindexPayload{MemoryID: memoryID, OwnerUserID: owner})
	if err != nil {
		return err
	}

	_, err = r.jobs.EnqueueDelayed(ctx, jobx.Job{
		Type:       JobReindexMemory,
		Queue:      reindexQueue,
		Payload:    payload,
		MaxRetries: 5,
	}, 10*time.Second)
	return err
}

// EnqueueGCSweep schedules one eviction sweep.
func (r *Reconciler) EnqueueGCSweep(ctx context.Context, owner kernel.UserID) error {
	payload, err := json.Marshal(GCSweepPayload{OwnerUserID: owner})
	if err != nil {
		return err
	}

	_, err = r.jobs.Enqueue(ctx, jobx.Job{
		Type:    JobGCSweep,
		Queue:   reindexQueue,
		Payload: payload,
	})
	return err
}

// StartGCSchedule enqueues a periodic sweep until ctx is cancelled.
func (r *Reconciler) StartGCSchedule(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Hour
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.EnqueueGCSweep(ctx, ""); err != nil {
					logx.WithError(err).Warn("reconcile: failed to schedule gc sweep")
				}
			}
		}
	}()
}

// ============================================================================
// Handlers
// ============================================================================

func (r *Reconciler) handleReindex(ctx context.Context, job *jobx.JobInfo) error {
	var payload ReindexPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return err
	}

	err := r.memories.Reindex(ctx, payload.MemoryID)
	if err == nil {
		logx.WithField("memory_id", payload.MemoryID).Info("reconcile: memory reindexed")
		return nil
	}

	// Last attempt about to fail for good: tell a human.
	if job.Attempts >= job.MaxRetries {
		r.alertReindexExhausted(ctx, payload, err)
	}
	return err
}

func (r *Reconciler) handleGCSweep(ctx context.Context, job *jobx.JobInfo) error {
	var payload GCSweepPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return err
	}

	deleted, err := r.memories.GC(ctx, payload.OwnerUserID)
	if err != nil {
		return err
	}
	logx.WithField("deleted", deleted).Info("reconcile: gc sweep finished")
	return nil
}

func (r *Reconciler) alertReindexExhausted(ctx context.Context, payload ReindexPayload, cause error) {
	if r.notifier == nil || r.adminEmail == "" {
		return
	}

	err := r.notifier.SendEmail(ctx, notifx.EmailMessage{
		From:    r.fromEmail,
		To:      []string{r.adminEmail},
		Subject: "Memory reindex retries exhausted",
		TextBody: "Memory " + payload.MemoryID + " (owner " + payload.OwnerUserID.String() +
			") could not be re-indexed after repeated attempts. Last error: " + cause.Error() +
			"\n\nSearch results will not include this memory until it is reconciled manually.",
	})
	if err != nil {
		logx.WithError(err).Warn("reconcile: failed to send reindex alert")
	}
}
