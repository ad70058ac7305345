package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/google/uuid"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/maintenance"
	"github.com/phrazzld/scry-swarm/internal/priority"
	"github.com/phrazzld/scry-swarm/internal/store"
)

// queueAdmin is the subset of maintenance.Admin the CLI drives.
type queueAdmin interface {
	Enqueue(ctx context.Context, subjectID string, components []domain.ComponentType, override *float64) (uuid.UUID, error)
	BulkEnqueue(ctx context.Context, limit int) (maintenance.BulkResult, error)
	Stats(ctx context.Context) (maintenance.QueueStats, error)
	Workers(ctx context.Context) ([]maintenance.WorkerView, error)
	ResetStuck(ctx context.Context, age time.Duration) (store.ReclaimResult, error)
	CleanupTerminal(ctx context.Context, age time.Duration) (int64, error)
	RetryFailed(ctx context.Context) (int64, error)
	RebuildPriority(ctx context.Context) (priority.RebuildStats, error)
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

// runCommand executes one non-interactive subcommand.
func runCommand(ctx context.Context, admin queueAdmin, name string, args []string, out io.Writer) error {
	switch name {
	case "status":
		return cmdStatus(ctx, admin, out)
	case "enqueue":
		return cmdEnqueue(ctx, admin, args, out)
	case "bulk-queue":
		fs := newFlagSet(name, out)
		limit := fs.Int("limit", 100, "maximum subjects to queue")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		res, err := admin.BulkEnqueue(ctx, *limit)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "queued %d subjects, skipped %d\n", res.Queued, res.Skipped)
		return nil
	case "reset-stuck":
		fs := newFlagSet(name, out)
		hours := fs.Float64("hours", 1, "reset tasks assigned longer than this many hours")
		if err := fs.Parse(args); err != nil || *hours < 0 {
			return errUsage
		}
		res, err := admin.ResetStuck(ctx, time.Duration(*hours*float64(time.Hour)))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "requeued %d tasks, failed %d\n", res.Requeued, res.Failed)
		return nil
	case "cleanup":
		fs := newFlagSet(name, out)
		days := fs.Int("days", 7, "delete terminal tasks older than this many days")
		if err := fs.Parse(args); err != nil || *days < 0 {
			return errUsage
		}
		n, err := admin.CleanupTerminal(ctx, time.Duration(*days)*24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %d tasks\n", n)
		return nil
	case "retry-failed":
		n, err := admin.RetryFailed(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "requeued %d failed tasks\n", n)
		return nil
	case "rebuild-priority":
		res, err := admin.RebuildPriority(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "indexed %d of %d subjects in %s\n", res.Indexed, res.Scanned, res.Duration.Round(time.Millisecond))
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

func cmdEnqueue(ctx context.Context, admin queueAdmin, args []string, out io.Writer) error {
	fs := newFlagSet("enqueue", out)
	subject := fs.String("subject", "", "subject ID (required)")
	prio := fs.String("priority", "", "priority override in [0,1]")
	comps := fs.String("components", "", "comma-separated component types, default all missing")
	if err := fs.Parse(args); err != nil || *subject == "" {
		return errUsage
	}

	var override *float64
	if *prio != "" {
		p, err := strconv.ParseFloat(*prio, 64)
		if err != nil || p < 0 || p > 1 {
			return fmt.Errorf("%w: priority must be a number in [0,1]", errUsage)
		}
		override = &p
	}

	var components []domain.ComponentType
	if *comps != "" {
		var err error
		if components, err = domain.ParseComponentTypes(strings.Split(*comps, ",")); err != nil {
			return err
		}
	}

	id, err := admin.Enqueue(ctx, *subject, components, override)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "enqueued task %s for %s\n", id, *subject)
	return nil
}

func cmdStatus(ctx context.Context, admin queueAdmin, out io.Writer) error {
	stats, err := admin.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, renderStats(stats))
	return nil
}

// renderStats formats stats as a two-column table.
func renderStats(stats maintenance.QueueStats) string {
	rows := make([][]string, 0, 12)
	for _, s := range domain.AllTaskStatuses {
		rows = append(rows, []string{"tasks " + string(s), strconv.FormatInt(stats.Tasks[s], 10)})
	}
	rows = append(rows,
		[]string{"high priority pending", strconv.FormatInt(stats.HighPriorityPending, 10)},
		[]string{"subjects", strconv.FormatInt(stats.Subjects.Total, 10)},
		[]string{"subjects analyzed", fmt.Sprintf("%d (%.1f%%)", stats.Subjects.Analyzed, stats.Subjects.CompletionPct)},
		[]string{"priority index", strconv.FormatInt(stats.PriorityIndexSize, 10)},
		[]string{"workers", fmt.Sprintf("%d (%d active, %d stale, %d offline)",
			stats.Workers.Total, stats.Workers.Active, stats.Workers.Stale, stats.Workers.Offline)},
	)
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("METRIC", "VALUE").
		Rows(rows...).
		String()
}

// workerRows orders workers by liveness then ID for display.
func workerRows(workers []maintenance.WorkerView, now time.Time) [][]string {
	rank := map[domain.WorkerStatus]int{
		domain.WorkerStatusActive:  0,
		domain.WorkerStatusStale:   1,
		domain.WorkerStatusOffline: 2,
	}
	sorted := append([]maintenance.WorkerView(nil), workers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if rank[sorted[i].Status] != rank[sorted[j].Status] {
			return rank[sorted[i].Status] < rank[sorted[j].Status]
		}
		return sorted[i].ID < sorted[j].ID
	})

	rows := make([][]string, 0, len(sorted))
	for _, w := range sorted {
		classes := make([]string, len(w.Classes))
		for i, c := range w.Classes {
			classes[i] = string(c)
		}
		seen := "never"
		if !w.LastHeartbeat.IsZero() {
			seen = now.Sub(w.LastHeartbeat).Round(time.Second).String() + " ago"
		}
		rows = append(rows, []string{
			w.ID,
			string(w.Status),
			strings.Join(classes, ","),
			strconv.FormatInt(w.Outstanding, 10),
			strconv.Itoa(w.TasksCompleted),
			strconv.Itoa(w.TasksFailed),
			seen,
		})
	}
	return rows
}
