package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/target/chart-analysis-worker/internal/adapters/sqstransport"
	"github.com/target/chart-analysis-worker/internal/bootstrap"
	"github.com/target/chart-analysis-worker/internal/domain/model"
	"github.com/target/chart-analysis-worker/internal/service"
)

type enqueueOptions struct {
	File string
}

func runEnqueue(cmdCtx *commandContext, args []string) error {
	opts, err := parseEnqueueFlags(args)
	if err != nil {
		return err
	}
	if cmdCtx.Config.Queue.InputQueueURL == "" {
		return errors.New("SQS_INPUT_QUEUE_URL is required")
	}

	job, err := loadJob(opts.File, cmdCtx.In)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	transport, err := openTransport(ctx, cmdCtx)
	if err != nil {
		return err
	}
	publisher := service.NewQueuePublisher(service.QueuePublisherOptions{
		Transport: transport,
		Config: service.QueuePublisherConfig{
			InputQueueURL:            cmdCtx.Config.Queue.InputQueueURL,
			OutputQueueURL:           cmdCtx.Config.Queue.OutputQueueURL,
			GenerateDeduplicationIDs: cmdCtx.Config.Queue.GenerateDedupIDs,
		},
		Logger: cmdCtx.Logger,
	})

	if enqueueErr := publisher.Enqueue(ctx, job); enqueueErr != nil {
		return enqueueErr
	}
	return writef(cmdCtx.Out, "Enqueued job %s (group %s)\n", job.JobID, publisher.Route(job).GroupID)
}

func runQueueStats(cmdCtx *commandContext, _ []string) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	transport, err := openTransport(ctx, cmdCtx)
	if err != nil {
		return err
	}

	queues := []struct{ name, url string }{
		{"input", cmdCtx.Config.Queue.InputQueueURL},
		{"output", cmdCtx.Config.Queue.OutputQueueURL},
	}
	depths := make(map[string]sqstransport.QueueDepth, len(queues))
	var names []string
	for _, q := range queues {
		if q.url == "" {
			continue
		}
		d, depthErr := transport.Depth(ctx, q.url)
		if depthErr != nil {
			return fmt.Errorf("%s queue: %w", q.name, depthErr)
		}
		depths[q.name] = d
		names = append(names, q.name)
	}
	if len(names) == 0 {
		return errors.New("no queue urls configured")
	}
	return renderQueueDepths(cmdCtx.Out, names, depths)
}

func openTransport(ctx context.Context, cmdCtx *commandContext) (*sqstransport.Transport, error) {
	awsCfg, err := bootstrap.LoadAWSConfig(ctx, cmdCtx.Config.Queue)
	if err != nil {
		return nil, err
	}
	return sqstransport.NewFromConfig(awsCfg, cmdCtx.Config.Queue.Endpoint, cmdCtx.Logger)
}

// loadJob reads a job from path, or from stdin when path is "-". Missing status and action type
// default to a pending analysis job.
func loadJob(path string, stdin io.Reader) (*model.Job, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}

	job, err := model.ParseJob(string(raw))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(job.JobID) == "" {
		return nil, fmt.Errorf("%w: job_id is required", model.ErrInvalidJob)
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	if job.ActionType == "" {
		job.ActionType = model.ActionTypeAnalysis
	}
	if !job.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidJob, job.Status)
	}
	if !job.ActionType.Valid() {
		return nil, fmt.Errorf("%w: unknown action_type %q", model.ErrInvalidJob, job.ActionType)
	}
	return job, nil
}

func renderQueueDepths(w io.Writer, names []string, depths map[string]sqstransport.QueueDepth) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "QUEUE\tVISIBLE\tIN FLIGHT\tDELAYED\n"); err != nil {
		return err
	}
	for _, name := range names {
		d := depths[name]
		if err := writef(tw, "%s\t%d\t%d\t%d\n", name, d.Visible, d.InFlight, d.Delayed); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func parseEnqueueFlags(args []string) (enqueueOptions, error) {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts enqueueOptions
	fs.StringVar(&opts.File, "file", "", `Path to the job JSON file ("-" reads stdin)`)

	if err := fs.Parse(args); err != nil {
		return enqueueOptions{}, err
	}
	if opts.File == "" && fs.NArg() > 0 {
		opts.File = fs.Arg(0)
	}
	if opts.File == "" {
		return enqueueOptions{}, errors.New("--file is required")
	}
	return opts, nil
}
