package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/stemsplit-api/internal/bootstrap"
	"github.com/maauso/stemsplit-api/internal/job"
)

func separateCmd() *cobra.Command {
	var (
		account string
		poll    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "separate <file>",
		Short: "Separate a local media file and wait for the stems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := bootstrap.NewDependencies(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = deps.Close() }()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				_ = deps.Orchestrator.Shutdown(shutdownCtx)
			}()

			src, err := os.Open(args[0]) // #nosec G304 - operator-supplied path
			if err != nil {
				return err
			}
			inputPath, err := deps.Storage.SaveInput(ctx, filepath.Ext(args[0]), src)
			_ = src.Close()
			if err != nil {
				return err
			}

			submitted, err := deps.Orchestrator.Submit(ctx, job.SubmitInput{
				InputPath:   inputPath,
				DisplayName: filepath.Base(args[0]),
				Owner:       account,
			})
			if err != nil {
				_ = deps.Storage.Cleanup(context.Background(), []string{inputPath})
				return err
			}

			done, err := waitForJob(ctx, deps.Orchestrator, submitted.ID, poll, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), done)
		},
	}

	cmd.Flags().StringVar(&account, "account", "local", "account billed for the job")
	cmd.Flags().DurationVar(&poll, "poll", 500*time.Millisecond, "status polling interval")
	return cmd
}

// jobReader reads job snapshots.
type jobReader interface {
	Get(ctx context.Context, id string) (*job.Job, error)
}

// waitForJob polls the job until it is terminal, printing every stage or
// progress change.
func waitForJob(ctx context.Context, jobs jobReader, id string, every time.Duration, out io.Writer) (*job.Job, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	lastStage, lastProgress := "", -1
	for {
		j, err := jobs.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if j.Stage != lastStage || j.Progress != lastProgress {
			fmt.Fprintf(out, "%3d%% %s\n", j.Progress, j.Stage)
			lastStage, lastProgress = j.Stage, j.Progress
		}
		if j.IsTerminal() {
			return j, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printOutcome(out io.Writer, j *job.Job) error {
	if j.Status == job.StatusFailed {
		msg := "job failed"
		if j.Failure != nil {
			msg = fmt.Sprintf("%s (%s)", j.Failure.Message, j.Failure.Kind)
		}
		return errors.New(msg)
	}

	fmt.Fprintf(out, "job %s completed: project %s, %d credits left\n",
		j.ID, j.Result.ProjectID, j.Result.CreditsLeft)

	names := make([]string, 0, len(j.Result.Stems))
	for name := range j.Result.Stems {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-8s %s\n", name, j.Result.Stems[name])
	}
	return nil
}
