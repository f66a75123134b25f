// Package scheduler provides the liveness heartbeat and the cron job
// dispatcher. Both respect the pause manager: ticks and firings are skipped
// while paused (cron jobs are recurring, so missed firings are not queued).
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	"github.com/a9lim/shannon/internal/bus"
	"github.com/a9lim/shannon/internal/config"
	"github.com/a9lim/shannon/internal/pause"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	cron_expr TEXT NOT NULL,
	action TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	last_run TEXT,
	created_at TEXT NOT NULL
);
`

const cronPollInterval = 30 * time.Second

// Job is one persisted cron job.
type Job struct {
	ID        int64
	Name      string
	CronExpr  string
	Action    string
	Enabled   bool
	LastRun   *time.Time
	CreatedAt time.Time
}

// Scheduler runs the heartbeat and cron loops and owns the job store.
type Scheduler struct {
	cfg           config.SchedulerConfig
	bus           *bus.EventBus
	pause         *pause.Manager
	db            *sql.DB
	heartbeatPath string
}

// New opens the job database, seeds configured jobs, and checks for a stale
// heartbeat from a previous run.
func New(cfg config.SchedulerConfig, dataDir string, b *bus.EventBus, p *pause.Manager) (*Scheduler, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+filepath.Join(dataDir, "jobs.db")+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open jobs db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply jobs schema: %w", err)
	}

	heartbeatPath := cfg.HeartbeatFile
	if heartbeatPath == "" {
		heartbeatPath = filepath.Join(dataDir, "heartbeat")
	}

	s := &Scheduler{
		cfg:           cfg,
		bus:           b,
		pause:         p,
		db:            db,
		heartbeatPath: heartbeatPath,
	}
	s.checkStaleHeartbeat()

	for _, job := range cfg.Jobs {
		if _, err := s.AddJob(job.Name, job.CronExpr, job.Action); err != nil {
			slog.Warn("Configured job not added", "name", job.Name, "error", err)
		}
	}
	return s, nil
}

// Close closes the job database.
func (s *Scheduler) Close() error {
	return s.db.Close()
}

// Run blocks, driving the heartbeat and cron loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()
	cronTicker := time.NewTicker(cronPollInterval)
	defer cronTicker.Stop()

	slog.Info("Scheduler started", "heartbeat", interval)
	s.writeHeartbeat()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case <-heartbeat.C:
			if s.pause.IsPaused() {
				slog.Debug("Heartbeat skipped: paused")
				continue
			}
			s.writeHeartbeat()
		case now := <-cronTicker.C:
			if err := s.fireDueJobs(now.UTC()); err != nil {
				slog.Error("Cron dispatch failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) writeHeartbeat() {
	if err := os.MkdirAll(filepath.Dir(s.heartbeatPath), 0o755); err != nil {
		slog.Error("Heartbeat dir create failed", "error", err)
		return
	}
	stamp := strconv.FormatInt(time.Now().Unix(), 10)
	if err := os.WriteFile(s.heartbeatPath, []byte(stamp), 0o644); err != nil {
		slog.Error("Heartbeat write failed", "error", err)
	}
}

func (s *Scheduler) checkStaleHeartbeat() {
	data, err := os.ReadFile(s.heartbeatPath)
	if err != nil {
		return
	}
	last, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return
	}
	interval := time.Duration(s.cfg.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	age := time.Since(time.Unix(last, 0))
	if age > 3*interval {
		slog.Warn("Stale heartbeat detected", "age", age)
	}
}

// fireDueJobs publishes a SchedulerTrigger for every enabled job whose next
// fire time has passed. Paused firings are skipped but still advance
// last_run, so a resume does not replay them.
func (s *Scheduler) fireDueJobs(now time.Time) error {
	jobs, err := s.ListJobs()
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		sched, err := cron.ParseStandard(job.CronExpr)
		if err != nil {
			slog.Warn("Invalid cron expression in store", "job", job.Name, "expr", job.CronExpr)
			continue
		}
		base := job.CreatedAt
		if job.LastRun != nil {
			base = *job.LastRun
		}
		next := sched.Next(base)
		if next.After(now) {
			continue
		}

		if s.pause.IsPaused() {
			slog.Info("Cron firing skipped: paused", "job", job.Name)
		} else {
			slog.Info("Cron job firing", "job", job.Name)
			e := bus.NewEvent(bus.EventSchedulerTrigger)
			e.Data = map[string]any{
				"job_id":    job.ID,
				"job_name":  job.Name,
				"cron_expr": job.CronExpr,
				"action":    job.Action,
			}
			s.bus.Publish(e)
		}

		if _, err := s.db.Exec(`UPDATE jobs SET last_run = ? WHERE id = ?`,
			now.Format(time.RFC3339Nano), job.ID); err != nil {
			return fmt.Errorf("update last_run for %s: %w", job.Name, err)
		}
	}
	return nil
}

// AddJob validates the cron expression and persists the job. Adding an
// existing name updates its expression and action.
func (s *Scheduler) AddJob(name, cronExpr, action string) (*Job, error) {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO jobs (name, cron_expr, action, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET cron_expr = excluded.cron_expr, action = excluded.action`,
		name, cronExpr, action, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert job %s: %w", name, err)
	}

	row := s.db.QueryRow(`SELECT id, name, cron_expr, action, enabled, last_run, created_at FROM jobs WHERE name = ?`, name)
	return scanJob(row)
}

// RemoveJob deletes a job by name. Returns true if one existed.
func (s *Scheduler) RemoveJob(name string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("remove job %s: %w", name, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListJobs returns all persisted jobs.
func (s *Scheduler) ListJobs() ([]Job, error) {
	rows, err := s.db.Query(`SELECT id, name, cron_expr, action, enabled, last_run, created_at FROM jobs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var enabled int
	var lastRun sql.NullString
	var createdAt string
	if err := row.Scan(&job.ID, &job.Name, &job.CronExpr, &job.Action, &enabled, &lastRun, &createdAt); err != nil {
		return nil, fmt.Errorf("scan job row: %w", err)
	}
	job.Enabled = enabled != 0
	if lastRun.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastRun.String)
		if err == nil {
			job.LastRun = &t
		}
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &job, nil
}
