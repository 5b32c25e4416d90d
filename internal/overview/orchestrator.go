package overview

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/schematichub/overview-gateway/internal/adapter"
	"github.com/schematichub/overview-gateway/internal/history"
	"github.com/schematichub/overview-gateway/internal/hooks"
	"github.com/schematichub/overview-gateway/internal/metrics"
	"github.com/schematichub/overview-gateway/internal/summarystore"
)

// Trigger names what started a batch run.
type Trigger string

const (
	TriggerUpdate  Trigger = "update"
	TriggerRefresh Trigger = "refresh"
	TriggerGitHub  Trigger = "github"
	TriggerCLI     Trigger = "cli"
	TriggerDirect  Trigger = "direct"
)

// Report aggregates the outcome of one batch run.
type Report struct {
	Repo        string   `json:"repo"`
	Processed   int      `json:"processed"`
	Errors      []string `json:"errors"`
	RateLimited bool     `json:"rate_limited"`
	RunID       string   `json:"run_id"`
}

// Recorder receives per-commit and per-run outcomes. *metrics.Collector
// satisfies it.
type Recorder interface {
	RecordCommit(outcome string)
	RecordRun(trigger, result string)
}

// Config wires an Orchestrator.
type Config struct {
	Store     summarystore.Store
	History   history.Source
	Generator Generator
	Hooks     *hooks.Dispatcher
	Metrics   Recorder
	Logger    *log.Logger
}

// Orchestrator walks a repository's schematic history and fills in missing
// overviews, one commit at a time.
type Orchestrator struct {
	store     summarystore.Store
	history   history.Source
	generator Generator
	hooks     *hooks.Dispatcher
	metrics   Recorder
	logger    *log.Logger
	now       func() time.Time
}

// New creates an Orchestrator. Store, History and Generator are required.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil || cfg.History == nil || cfg.Generator == nil {
		return nil, fmt.Errorf("overview: store, history and generator are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Orchestrator{
		store:     cfg.Store,
		history:   cfg.History,
		generator: cfg.Generator,
		hooks:     cfg.Hooks,
		metrics:   cfg.Metrics,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Run lists the repository's schematic commits and processes them. A listing
// failure is returned as an error rather than as a report entry.
func (o *Orchestrator) Run(ctx context.Context, repo string, trigger Trigger) (Report, error) {
	commits, err := o.history.ListSchematicCommits(ctx, repo)
	if err != nil {
		o.logger.Printf("list commits for %s: %v", repo, err)
		o.recordRun(trigger, "list_failed")
		return Report{Repo: repo, Errors: []string{}}, fmt.Errorf("overview: list commits: %w", err)
	}
	o.logger.Printf("found %d commits with schematic changes for %s", len(commits), repo)
	return o.process(ctx, repo, trigger, commits), nil
}

// Process visits commits in order. It stops at the first rate-limited
// failure or when ctx is cancelled; other failures are recorded and skipped.
func (o *Orchestrator) Process(ctx context.Context, repo string, commits []history.Commit) Report {
	return o.process(ctx, repo, TriggerDirect, commits)
}

func (o *Orchestrator) process(ctx context.Context, repo string, trigger Trigger, commits []history.Commit) Report {
	report := Report{Repo: repo, Errors: []string{}, RunID: uuid.NewString()}
	repoURL := history.CloneURL(repo)
	o.emit(ctx, hooks.EventBatchStarted, report, trigger, map[string]any{"commits": len(commits)})

	for _, commit := range commits {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("Commit %s: %v", commit.Hash, err))
			o.recordCommit(metrics.OutcomeCancelled)
			break
		}

		existing, err := o.store.Get(ctx, repoURL, commit.Hash)
		if err != nil {
			o.logger.Printf("lookup %s@%s: %v (treating as absent)", repo, shortHash(commit.Hash), err)
			existing = nil
		}
		if !NeedsProcessing(existing) {
			o.recordCommit(metrics.OutcomeSkipped)
			continue
		}

		err = o.processCommit(ctx, repo, repoURL, commit, existing)
		if err == nil {
			report.Processed++
			o.recordCommit(metrics.OutcomeProcessed)
			o.logger.Printf("stored overview for %s@%s", repo, shortHash(commit.Hash))
			o.emit(ctx, hooks.EventCommitProcessed, report, trigger, map[string]any{"commit": commit.Hash})
			continue
		}

		entry := fmt.Sprintf("Commit %s: %v", commit.Hash, err)
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, entry)
			o.recordCommit(metrics.OutcomeCancelled)
			break
		}
		if adapter.IsRateLimited(err) {
			o.logger.Printf("RATE LIMITED while processing commit %s: %v; stopping run", commit.Hash, err)
			report.Errors = append(report.Errors, "RATE LIMITED: "+entry)
			report.RateLimited = true
			o.recordCommit(metrics.OutcomeRateLimited)
			break
		}
		o.logger.Printf("overview failed: %s", entry)
		report.Errors = append(report.Errors, entry)
		o.recordCommit(metrics.OutcomeFailed)
	}

	result := "ok"
	switch {
	case report.RateLimited:
		result = "rate_limited"
		o.emit(ctx, hooks.EventBatchRateLimited, report, trigger, nil)
	case len(report.Errors) > 0:
		result = "partial"
	}
	o.recordRun(trigger, result)
	o.logger.Printf("batch %s for %s complete: processed=%d errors=%d", report.RunID, repo, report.Processed, len(report.Errors))
	o.emit(ctx, hooks.EventBatchCompleted, report, trigger, map[string]any{
		"processed":    report.Processed,
		"errors":       len(report.Errors),
		"rate_limited": report.RateLimited,
	})
	return report
}

func (o *Orchestrator) processCommit(ctx context.Context, repo, repoURL string, commit history.Commit, existing *summarystore.Summary) error {
	files, err := o.history.ChangedFiles(ctx, repo, commit.Hash)
	if err != nil {
		return err
	}
	ov, err := o.generator.Generate(ctx, Input{Repo: repo, Commit: commit, Files: files})
	if err != nil {
		return err
	}

	sum := summarystore.Summary{}
	if existing != nil {
		sum = *existing
	}
	sum.RepoURL = repoURL
	sum.CommitHash = commit.Hash
	sum.CommitDate = commit.Date
	sum.GitMessage = commit.Message
	sum.Blurb = summarystore.StringPtr(ov.Blurb)
	sum.Description = summarystore.StringPtr(ov.Description)
	sum.ChangedFiles = files
	sum.UpdatedAt = o.now().UTC()
	return o.store.Put(ctx, sum)
}

func (o *Orchestrator) emit(ctx context.Context, typ hooks.EventType, report Report, trigger Trigger, meta map[string]any) {
	if o.hooks == nil {
		return
	}
	// hook delivery outlives a cancelled request
	err := o.hooks.Emit(context.WithoutCancel(ctx), hooks.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		OccurredAt: o.now().UTC(),
		Repo:       report.Repo,
		RunID:      report.RunID,
		Trigger:    string(trigger),
		Metadata:   meta,
	})
	if err != nil {
		o.logger.Printf("hook %s: %v", typ, err)
	}
}

func (o *Orchestrator) recordCommit(outcome string) {
	if o.metrics != nil {
		o.metrics.RecordCommit(outcome)
	}
}

func (o *Orchestrator) recordRun(trigger Trigger, result string) {
	if o.metrics != nil {
		o.metrics.RecordRun(string(trigger), result)
	}
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
