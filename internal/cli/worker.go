package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jdziat/harvest-tasks/pkg/chain"
	"github.com/jdziat/harvest-tasks/pkg/core"
	"github.com/jdziat/harvest-tasks/pkg/node"
	"github.com/jdziat/harvest-tasks/pkg/queue"
	"github.com/jdziat/harvest-tasks/pkg/schedule"
	"github.com/jdziat/harvest-tasks/pkg/security"
	"github.com/jdziat/harvest-tasks/pkg/worker"
)

var (
	workerName        string
	workerConcurrency int
	workerMaxPriority int
	workerAccounts    []string
	workerSchedules   []string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run queued chains",
	Long: `Pops records from the queue, lowest priority number first, and runs the chain
template each one names. Recurring chains are queued with --schedule, for example:

  harvest worker --schedule 'nightly|0 2 * * *|reports/daily|5'
  harvest worker --schedule 'poll|@every 5m|inventory/refresh|1|{"region":"eu-west-1"}'`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	flags := workerCmd.Flags()
	flags.StringVar(&workerName, "name", envOr("HARVEST_WORKER_NAME", ""), "agent name written to records; defaults to the host name (env HARVEST_WORKER_NAME)")
	flags.IntVar(&workerConcurrency, "concurrency", 10, "chains run at once")
	flags.IntVar(&workerMaxPriority, "max-priority", security.MaxPriority, "lowest urgency (highest number) this worker serves")
	flags.StringSliceVar(&workerAccounts, "accounts", nil, "platform:account pairs advertised in the heartbeat")
	flags.StringArrayVar(&workerSchedules, "schedule", nil, "name|cron|category/template|priority[|config JSON], repeatable")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	entries := make([]schedule.Entry, 0, len(workerSchedules))
	for _, value := range workerSchedules {
		e, err := parseScheduleFlag(value)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}

	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	templates, err := loadTemplates()
	if err != nil {
		return err
	}
	registry := chain.NewRegistry()
	chain.RegisterBuiltins(registry)
	if err := chain.RegisterStandardFuncs(registry); err != nil {
		return err
	}

	info := node.LocalInfo(node.RoleAgent, Version)
	if workerName != "" {
		info.Name = workerName
	}
	info.Accounts = workerAccounts
	info.Plugins = registry.Kinds()

	client := queue.New(s, templates, queue.WithLogger(logger))
	w := worker.NewWorker(client, templates, registry,
		worker.WorkerID(info.Name),
		worker.Concurrency(workerConcurrency),
		worker.MaxPriority(workerMaxPriority),
		worker.WithLogger(logger),
	)

	if len(entries) > 0 {
		scheduler := worker.NewScheduler(client, worker.SchedulerLogger(logger))
		for _, e := range entries {
			if err := scheduler.Add(e); err != nil {
				return err
			}
		}
		w.SetScheduler(scheduler)
	}

	hb, err := node.NewHeartbeat(s, info, node.WithLogger(logger))
	if err != nil {
		return err
	}
	go func() { _ = hb.Run(ctx) }()

	if err := w.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// parseScheduleFlag reads name|cron|category/template|priority with an
// optional trailing |config JSON.
func parseScheduleFlag(value string) (schedule.Entry, error) {
	parts := strings.SplitN(value, "|", 5)
	if len(parts) < 4 {
		return schedule.Entry{}, fmt.Errorf("schedule %q: want name|cron|category/template|priority[|config]", value)
	}

	sched, err := schedule.ParseCron(strings.TrimSpace(parts[1]))
	if err != nil {
		return schedule.Entry{}, err
	}
	category, template, ok := strings.Cut(strings.TrimSpace(parts[2]), "/")
	if !ok {
		return schedule.Entry{}, fmt.Errorf("schedule %q: template must be category/name", value)
	}
	priority, err := strconv.Atoi(strings.TrimSpace(parts[3]))
	if err != nil {
		return schedule.Entry{}, fmt.Errorf("schedule %q: %w", value, core.ErrInvalidPriority)
	}

	e := schedule.Entry{
		Name:     strings.TrimSpace(parts[0]),
		Schedule: sched,
		Priority: priority,
		Category: category,
		Template: template,
	}
	if len(parts) == 5 {
		if err := json.Unmarshal([]byte(parts[4]), &e.Config); err != nil {
			return schedule.Entry{}, fmt.Errorf("schedule %q config: %w", value, err)
		}
	}
	if err := e.Validate(); err != nil {
		return schedule.Entry{}, err
	}
	return e, nil
}
