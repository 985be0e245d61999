// Package backup runs the backup and restore pipelines for scheduled jobs.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/supporttools/GoSQLKeeper/pkg/config"
	"github.com/supporttools/GoSQLKeeper/pkg/database"
	"github.com/supporttools/GoSQLKeeper/pkg/database/connection"
	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/metrics"
	"github.com/supporttools/GoSQLKeeper/pkg/notify"
	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
	"github.com/supporttools/GoSQLKeeper/pkg/scheduler"
	"github.com/supporttools/GoSQLKeeper/pkg/storage"
	"github.com/supporttools/GoSQLKeeper/pkg/storage/types"
)

// JobStore persists jobs
type JobStore interface {
	GetAllJobs() ([]metadata.Job, error)
	GetJobByID(id string) (*metadata.Job, error)
	SaveJob(job *metadata.Job) error
	UpdateStorageCache(id string, s metadata.StorageSettings) error
	UpdateRunTimes(id string, lastRun, nextRun time.Time) error
	SetEnabled(id string, enabled bool, nextRun time.Time) error
	DeleteJob(id string) error
	Claim(id string, now time.Time, expiry time.Duration) (bool, error)
	Release(id string) error
}

// HistoryStore persists history records
type HistoryStore interface {
	CreatePending(rec *metadata.HistoryRecord) error
	Complete(id string, c metadata.Completion) error
	GetByID(id string) (*metadata.HistoryRecord, error)
	ListHistory(f metadata.HistoryFilter) ([]metadata.HistoryRecord, error)
	HasPending(jobID string) (bool, error)
	StartedSince(jobID string, since time.Time) (bool, error)
	Delete(id string) error
}

// ServerStore persists server profiles and records their health
type ServerStore interface {
	GetAllServers() ([]metadata.ServerProfile, error)
	GetServerByID(id string) (*metadata.ServerProfile, error)
	SaveServer(server *metadata.ServerProfile) error
	UpdateHealth(id string, ok bool, message string, checkedAt time.Time) error
	DeleteServer(id string) error
}

// StorageStore manages storage profiles
type StorageStore interface {
	GetAllProfiles() ([]metadata.StorageProfile, error)
	GetProfileByID(id string) (*metadata.StorageProfile, error)
	SaveProfile(profile *metadata.StorageProfile) error
	SetDefault(id string) error
	DeleteProfile(id string) error
}

// Engine dumps, restores and probes database servers
type Engine interface {
	Dump(ctx context.Context, p connection.Params, target string) outcome.Outcome
	Restore(ctx context.Context, p connection.Params, artifact string) outcome.Outcome
	TestConnection(ctx context.Context, p connection.Params) outcome.Outcome
}

// Transfer moves an artifact to its destination
type Transfer interface {
	Store(ctx context.Context, localPath string, d storage.Destination) outcome.Outcome
}

// Pruner enforces retention counts
type Pruner interface {
	Prune(serverID string, retain int) (int, error)
}

// Notifier sends best-effort result emails
type Notifier interface {
	Notify(ctx context.Context, to string, r notify.Report)
}

// Submitter runs work asynchronously
type Submitter interface {
	Submit(name string, fn func()) bool
}

// Deps are the collaborators of a Manager
type Deps struct {
	Jobs      JobStore
	History   HistoryStore
	Servers   ServerStore
	Storage   StorageStore
	Engine    Engine
	Transfer  Transfer
	Retention Pruner
	Notifier  Notifier
	Pool      Submitter
}

// Manager is the execution pipeline shared by scheduled and manual runs
type Manager struct {
	Deps

	backupDir    string
	location     *time.Location
	dedupWindow  time.Duration
	claimJobs    bool
	claimExpiry  time.Duration
	retries      int
	retryDelay   time.Duration
	monthlyLimit int
	clock        clock.Clock
	now          func() time.Time
	ctx          context.Context
}

// NewManager creates a new backup manager
func NewManager(ctx context.Context, cfg *config.AppConfig, deps Deps) (*Manager, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Manager{
		Deps:         deps,
		backupDir:    cfg.BackupDirectory,
		location:     loc,
		dedupWindow:  cfg.Scheduler.DedupWindow,
		claimJobs:    cfg.Scheduler.ClaimJobs,
		claimExpiry:  cfg.Scheduler.ClaimExpiry,
		retries:      cfg.Scheduler.DispatchRetries,
		retryDelay:   cfg.Scheduler.DispatchRetryDelay,
		monthlyLimit: cfg.Scheduler.MonthlySearchLimit,
		clock:        clock.WallClock,
		now:          time.Now,
		ctx:          ctx,
	}, nil
}

// Trigger is what started a run
type Trigger int

const (
	// Manual runs ignore the job's schedule
	Manual Trigger = iota
	// Scheduled runs only go ahead while the job is enabled and due
	Scheduled
)

func (t Trigger) String() string {
	if t == Scheduled {
		return "scheduled"
	}
	return "manual"
}

// Dispatch queues a scheduled run on the worker pool. It implements scheduler.Dispatcher.
func (m *Manager) Dispatch(jobID string) {
	m.submit(jobID, Scheduled)
}

// RunJobNow queues an immediate run of an existing job
func (m *Manager) RunJobNow(jobID string) error {
	if _, err := m.loadJob(jobID); err != nil {
		return err
	}
	m.submit(jobID, Manual)
	return nil
}

func (m *Manager) submit(jobID string, trigger Trigger) {
	m.Pool.Submit(trigger.String()+" job "+jobID, func() {
		if err := m.RunJobWithRetry(m.ctx, jobID, trigger); err != nil {
			log.Printf("backup: job %s not run: %v", jobID, err)
		}
	})
}

// RunJobWithRetry runs the job, retrying failures that happen before a history
// record exists. Permanent failures are not retried.
func (m *Manager) RunJobWithRetry(ctx context.Context, jobID string, trigger Trigger) error {
	delay := m.retryDelay
	if delay <= 0 {
		delay = time.Second
	}
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return m.RunJob(ctx, jobID, trigger)
		},
		IsFatalError: func(err error) bool {
			return !outcome.Retryable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			log.Printf("backup: dispatch of job %s failed (attempt %d): %v", jobID, attempt, err)
		},
		Attempts: m.retries + 1,
		Delay:    delay,
		Clock:    m.clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		return retry.LastError(err)
	}
	return nil
}

func (m *Manager) loadJob(jobID string) (*metadata.Job, error) {
	job, err := m.Jobs.GetJobByID(jobID)
	if errors.Is(err, metadata.ErrNotFound) {
		return nil, outcome.Fail(outcome.NotFound, "Job %s not found", jobID)
	}
	if err != nil {
		return nil, outcome.Wrap(outcome.TransientDispatch, err, "Loading job")
	}
	return job, nil
}

// duplicate reports why a dispatch of jobID should be skipped, if at all
func (m *Manager) duplicate(jobID string, now time.Time) (string, error) {
	pending, err := m.History.HasPending(jobID)
	if err != nil {
		return "", outcome.Wrap(outcome.TransientDispatch, err, "Checking pending history")
	}
	if pending {
		return "pending", nil
	}
	recent, err := m.History.StartedSince(jobID, now.Add(-m.dedupWindow))
	if err != nil {
		return "", outcome.Wrap(outcome.TransientDispatch, err, "Checking recent history")
	}
	if recent {
		return "recent", nil
	}
	return "", nil
}

// RunJob executes one attempt of the job. It returns an error only when the
// attempt could not start; everything after that is recorded on history.
// A scheduled attempt that waited in the pool past an earlier run of the same
// job finds it disabled or no longer due and is skipped.
func (m *Manager) RunJob(ctx context.Context, jobID string, trigger Trigger) error {
	job, err := m.loadJob(jobID)
	if err != nil {
		return err
	}
	now := m.now()

	var reason string
	if trigger == Scheduled {
		switch {
		case !job.Enabled:
			reason = "disabled"
		case job.NextRun.After(now):
			reason = "not_due"
		}
	}
	if reason == "" {
		reason, err = m.duplicate(job.ID, now)
		if err != nil {
			return err
		}
	}
	if reason == "" && m.claimJobs {
		claimed, err := m.Jobs.Claim(job.ID, now, m.claimExpiry)
		if err != nil {
			return outcome.Wrap(outcome.TransientDispatch, err, "Claiming job")
		}
		if !claimed {
			reason = "claimed"
		} else {
			defer func() {
				if err := m.Jobs.Release(job.ID); err != nil {
					log.Printf("backup: releasing claim on job %s: %v", job.ID, err)
				}
			}()
		}
	}
	if reason != "" {
		metrics.DispatchSkipped.WithLabelValues(reason).Inc()
		log.Printf("backup: skipping job %s (%s): %s", job.Name, job.ID, reason)
		return nil
	}

	if job.Server == nil {
		return outcome.Fail(outcome.NotFound, "Server %s of job %s not found", job.ServerID, job.Name)
	}

	m.syncStorage(job)

	rec := &metadata.HistoryRecord{
		ServerID:  job.ServerID,
		JobID:     &job.ID,
		Kind:      metadata.KindBackup,
		StartedAt: now,
	}
	if err := m.History.CreatePending(rec); err != nil {
		return outcome.Wrap(outcome.TransientDispatch, err, "Creating history record")
	}

	m.execute(ctx, job, rec)
	return nil
}

// syncStorage refreshes the job's cached destination from its storage profile
func (m *Manager) syncStorage(job *metadata.Job) {
	if job.StorageProfile == nil {
		return
	}
	merged := storage.Merge(job.StorageProfile, job.Storage)
	if merged == job.Storage {
		return
	}
	job.Storage = merged
	if err := m.Jobs.UpdateStorageCache(job.ID, merged); err != nil {
		log.Printf("backup: caching storage settings of job %s: %v", job.ID, err)
	}
}

// execute runs dump, store and the bookkeeping that follows for an open record
func (m *Manager) execute(ctx context.Context, job *metadata.Job, rec *metadata.HistoryRecord) {
	server := job.Server
	start := rec.StartedAt
	var result outcome.Outcome

	defer func() {
		if r := recover(); r != nil {
			log.Printf("backup: job %s panicked: %v", job.ID, r)
			m.close(rec.ID, outcome.Fail(outcome.Internal, "Unexpected error: %v", r))
		}
	}()

	dest := types.FromSettings(job.Storage)
	target := database.ArtifactPath(m.backupDir, start, server.Name, job.Name)

	dumped := m.Engine.Dump(ctx, connection.FromProfile(server), target)
	switch d := dumped.(type) {
	case outcome.Success:
		stored := m.Transfer.Store(ctx, d.Path, dest)
		switch s := stored.(type) {
		case outcome.Success:
			result = outcome.Success{
				Path:    d.Path,
				Size:    d.Size,
				Message: fmt.Sprintf("%s. Stored in %s: %s", d.Message, storage.Describe(dest), s.Path),
				Link:    s.Link,
			}
			metrics.BackupSize.WithLabelValues(server.Name, dest.Kind).Set(float64(d.Size))
		case *outcome.Failure:
			result = &outcome.Failure{Kind: s.Kind, Message: "Storage error: " + s.Message, Err: s}
		}
	case *outcome.Failure:
		result = d
	}

	m.close(rec.ID, result)
	end := m.now()

	status := "error"
	if result.OK() {
		status = "success"
		metrics.LastBackupTimestamp.WithLabelValues(server.Name).Set(float64(end.Unix()))
	}
	metrics.BackupCount.WithLabelValues(server.Name, status).Inc()
	metrics.BackupDuration.WithLabelValues(server.Name).Observe(end.Sub(start).Seconds())
	log.Printf("backup: job %s finished with %s: %s", job.Name, status, result.Text())

	m.reschedule(job, start)

	if _, err := m.Retention.Prune(job.ServerID, job.RetainCount); err != nil {
		log.Printf("backup: retention for server %s: %v", job.ServerID, err)
	}

	if job.NotifyEnabled && job.NotifyEmail != "" {
		report := notify.Report{
			Server:  server.Name,
			Job:     job.Name,
			Success: result.OK(),
			Start:   start,
			End:     end,
		}
		switch r := result.(type) {
		case outcome.Success:
			report.Size = r.Size
			report.Path = r.Path
		case *outcome.Failure:
			report.Error = r.Message
		}
		m.Notifier.Notify(ctx, job.NotifyEmail, report)
	}
}

// close writes the terminal state of a record
func (m *Manager) close(id string, result outcome.Outcome) {
	c := metadata.Completion{CompletedAt: m.now()}
	switch r := result.(type) {
	case outcome.Success:
		c.Status = metadata.StatusSuccess
		c.FilePath = r.Path
		c.FileSize = r.Size
		c.Description = r.Message
	case *outcome.Failure:
		c.Status = metadata.StatusError
		c.ErrorMessage = r.Message
		c.Description = string(r.Kind)
	}
	if err := m.History.Complete(id, c); err != nil {
		log.Printf("backup: closing history record %s: %v", id, err)
	}
}

// reschedule records the run and moves next run into the future. A job whose
// next run cannot be computed is disabled.
func (m *Manager) reschedule(job *metadata.Job, ranAt time.Time) {
	next, err := scheduler.NextRun(job, m.now(), m.location, m.monthlyLimit)
	if err != nil {
		log.Printf("backup: disabling job %s: %v", job.Name, err)
		if err := m.Jobs.UpdateRunTimes(job.ID, ranAt, job.NextRun); err != nil {
			log.Printf("backup: updating run times of job %s: %v", job.ID, err)
		}
		if err := m.Jobs.SetEnabled(job.ID, false, job.NextRun); err != nil {
			log.Printf("backup: disabling job %s: %v", job.ID, err)
		}
		return
	}
	if err := m.Jobs.UpdateRunTimes(job.ID, ranAt, next); err != nil {
		log.Printf("backup: updating run times of job %s: %v", job.ID, err)
		return
	}
	log.Printf("backup: job %s next run %s", job.Name, next.Format(time.RFC3339))
}

func artifactName(path string) string {
	return filepath.Base(path)
}
