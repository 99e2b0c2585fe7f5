package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdziat/harvest-tasks/pkg/core"
	"github.com/jdziat/harvest-tasks/pkg/queue"
)

var (
	enqueueConfig string
	awaitTimeout  time.Duration
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <priority> <category> <name>",
	Short: "Queue a chain template",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		priority, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("priority %q: %w", args[0], core.ErrInvalidPriority)
		}
		var config map[string]any
		if enqueueConfig != "" {
			if err := json.Unmarshal([]byte(enqueueConfig), &config); err != nil {
				return fmt.Errorf("invalid --config: %w", err)
			}
		}
		return withClient(cmd, func(ctx context.Context, c *queue.Client) (any, error) {
			return c.Enqueue(ctx, priority, args[1], args[2], config)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show the status of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *queue.Client) (any, error) {
			return c.Status(ctx, args[0])
		})
	},
}

var resultCmd = &cobra.Command{
	Use:   "result <id>",
	Short: "Show the result of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *queue.Client) (any, error) {
			return c.Result(ctx, args[0])
		})
	},
}

var awaitCmd = &cobra.Command{
	Use:   "await <id>",
	Short: "Wait for a task to finish and show its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *queue.Client) (any, error) {
			return c.Await(ctx, args[0], awaitTimeout)
		})
	},
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the loaded chain templates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		templates, err := loadTemplates()
		if err != nil {
			return err
		}
		return writeEnvelope(cmd.OutOrStdout(), templates.List(), nil)
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueConfig, "config", "", "JSON object passed to the chain as variables")
	awaitCmd.Flags().DurationVar(&awaitTimeout, "timeout", 0, "how long to wait; 0 uses the client default")
}

// withClient opens the store, runs fn and prints its outcome as a
// {success, reason, result} envelope. A failed fn is also returned so the
// process exits non-zero.
func withClient(cmd *cobra.Command, fn func(context.Context, *queue.Client) (any, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
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

	result, err := fn(ctx, queue.New(s, templates))
	if err != nil {
		result = nil
	}
	if werr := writeEnvelope(cmd.OutOrStdout(), result, err); werr != nil {
		return werr
	}
	return err
}

func writeEnvelope(w io.Writer, result any, err error) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(core.Envelope(result, err))
}
