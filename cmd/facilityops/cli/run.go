package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"
)

// RunOptions carries process wiring for the jobs subcommands.
type RunOptions struct {
	RedisAddr string
	Retention time.Duration
	Stdout    io.Writer
	Stderr    io.Writer
	// Open overrides how the JobsCLI is built.
	Open func(redisAddr string) (*JobsCLI, error)
}

const jobsUsage = `usage: facilityops jobs <command> [flags]

commands:
  trigger <alerts:refresh|alerts:cleanup> [--facility all|<id>] [--retention 720h]
  inspect [--json]
  scheduled [--size 10]
`

// RunJobs executes `facilityops jobs ...` and returns the exit code.
func RunJobs(ctx context.Context, args []string, opts RunOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Open == nil {
		opts.Open = NewJobsCLI
	}
	if len(args) == 0 {
		_, _ = fmt.Fprint(opts.Stderr, jobsUsage)
		return 2
	}

	command, rest := args[0], args[1:]
	fs := flag.NewFlagSet("jobs "+command, flag.ContinueOnError)
	fs.SetOutput(opts.Stderr)
	facility := fs.String("facility", "all", "facility id or all")
	retention := fs.Duration("retention", opts.Retention, "resolved alert retention")
	asJSON := fs.Bool("json", false, "print JSON")
	size := fs.Int("size", 10, "page size")

	var jobName string
	if command == "trigger" {
		if len(rest) == 0 {
			_, _ = fmt.Fprintln(opts.Stderr, "jobs trigger: job name required")
			return 2
		}
		jobName, rest = rest[0], rest[1:]
	}
	if err := fs.Parse(rest); err != nil {
		return 2
	}

	c, err := opts.Open(opts.RedisAddr)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = c.Close() }()

	switch command {
	case "trigger":
		info, err := c.Trigger(ctx, jobName, TriggerOptions{Facility: *facility, Retention: *retention})
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(opts.Stdout, "enqueued %s id=%s queue=%s\n", jobName, info.ID, info.Queue)
	case "inspect":
		stats, err := c.InspectQueues(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs inspect: %v\n", err)
			return 1
		}
		if *asJSON {
			if err := json.NewEncoder(opts.Stdout).Encode(stats); err != nil {
				_, _ = fmt.Fprintf(opts.Stderr, "jobs inspect: encode json: %v\n", err)
				return 1
			}
			return 0
		}
		tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY")
		for _, row := range stats {
			_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", row.Queue, row.Pending, row.Active, row.Scheduled, row.Retry)
		}
		_ = tw.Flush()
	case "scheduled":
		tasks, err := c.ListScheduled(ctx, *size)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "jobs scheduled: %v\n", err)
			return 1
		}
		for _, task := range tasks {
			_, _ = fmt.Fprintf(opts.Stdout, "%s\t%s\t%s\n", task.ID, task.Type, task.NextProcessAt.UTC().Format(time.RFC3339))
		}
	default:
		_, _ = fmt.Fprint(opts.Stderr, jobsUsage)
		return 2
	}
	return 0
}
