package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/pulse/async"
	"github.com/teranos/scribe/sym"
)

// RunCmd queues files and folders and transcribes them.
var RunCmd = &cobra.Command{
	Use:   "run <path>...",
	Short: sym.Prefix("run") + sym.CommandDescriptions["run"],
	Long: sym.IX + ` run: queue media and transcribe it

Each path may be a media file or a folder. Folders are scanned for files
with a configured media extension (pipeline.extensions). Files whose content
was already transcribed and verified are skipped. Jobs that fail with
attempts left (pipeline.max_attempts) are retried after pipeline.retry_pause_ms.

Interrupt (Ctrl-C) cancels every job; jobs already submitted are cancelled
at the provider too when remote.cancel_remote_on_abort is set.

Examples:
  scribe run interview.mp4
  scribe run ~/podcasts --recursive
  scribe run ep1.mp3 ep2.mp3 --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var (
	runRecursive bool
	runPlain     bool
	runJSON      bool
)

func init() {
	RunCmd.Flags().BoolVarP(&runRecursive, "recursive", "r", false, "Descend into subfolders (default from pipeline.recursive)")
	RunCmd.Flags().BoolVar(&runPlain, "plain", false, "Print one line per event instead of a live table")
	RunCmd.Flags().BoolVar(&runJSON, "json", false, "Print final job states as JSON")
}

// interruptContext is cancelled on SIGINT or SIGTERM.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// enqueue adds every path, scanning folders. A file whose job gave up is
// requeued. Errors on individual files are reported as skips. Only an
// unreadable folder aborts.
func enqueue(ctx context.Context, orch *async.Orchestrator, paths []string, recursive bool) (async.AddSummary, error) {
	var summary async.AddSummary
	for _, p := range paths {
		info, err := os.Stat(p)
		if err == nil && info.IsDir() {
			s, err := orch.AddFolder(ctx, p, recursive)
			if err != nil {
				return summary, err
			}
			summary.Added = append(summary.Added, s.Added...)
			summary.Skipped = append(summary.Skipped, s.Skipped...)
			continue
		}
		st, requeued, err := orch.RequeuePath(ctx, p)
		if !requeued {
			st, err = orch.AddFile(ctx, p)
		}
		if err != nil {
			summary.Skipped = append(summary.Skipped, async.SkippedFile{Path: p, Reason: err.Error()})
			continue
		}
		summary.Added = append(summary.Added, st)
	}
	return summary, nil
}

func printSkipped(skipped []async.SkippedFile) {
	for _, s := range skipped {
		pterm.Warning.Printfln("skipped %s: %s", s.Path, s.Reason)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	recursive := a.cfg.Pipeline.Recursive
	if cmd.Flags().Changed("recursive") {
		recursive = runRecursive
	}

	summary, err := enqueue(ctx, a.orchestrator, args, recursive)
	if err != nil {
		return err
	}
	if !runJSON {
		printSkipped(summary.Skipped)
	}
	if len(summary.Added) == 0 {
		if !runJSON {
			pterm.Info.Println("Nothing to transcribe")
		}
		return nil
	}

	go func() {
		<-ctx.Done()
		if n := a.orchestrator.CancelAll(); n > 0 {
			logger.Logger.Infow("Cancelled jobs on interrupt", logger.FieldCount, n)
		}
	}()

	events := a.orchestrator.Subscribe()
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		switch {
		case runJSON:
			for range events {
			}
		case runPlain:
			for ev := range events {
				if ev.Type != async.EventProgress {
					pterm.Println(eventLine(ev))
				}
			}
		default:
			renderLive(a.orchestrator, events)
		}
	}()

	err = a.orchestrator.Drain(ctx)
	a.orchestrator.Unsubscribe(events)
	<-rendered
	if err != nil {
		return err
	}

	jobs := a.orchestrator.Jobs()
	if runJSON {
		if err := printJSON(jobs); err != nil {
			return err
		}
	} else {
		pterm.Println()
		if err := pterm.DefaultTable.WithHasHeader().WithData(jobTable(jobs)).Render(); err != nil {
			return err
		}
	}
	return unfinished(jobs)
}

// renderLive redraws the job table in place until events closes.
func renderLive(orch *async.Orchestrator, events <-chan async.Event) {
	area, err := pterm.DefaultArea.Start()
	if err != nil {
		for range events {
		}
		return
	}
	defer area.Stop()

	var last time.Time
	for ev := range events {
		if ev.Type == async.EventProgress && time.Since(last) < 100*time.Millisecond {
			continue
		}
		last = time.Now()
		table, err := pterm.DefaultTable.WithHasHeader().WithData(jobTable(orch.Jobs())).Srender()
		if err != nil {
			continue
		}
		area.Update(table)
	}
	area.Clear()
}

// unfinished turns any job that did not complete into a non-zero exit.
func unfinished(jobs []async.JobState) error {
	var failed, cancelled int
	for _, j := range jobs {
		switch j.Phase {
		case async.PhaseCompleted:
		case async.PhaseCancelled:
			cancelled++
		default:
			failed++
		}
	}
	if failed == 0 && cancelled == 0 {
		return nil
	}
	return errors.Newf("%d of %d jobs did not complete (%d failed, %d cancelled)",
		failed+cancelled, len(jobs), failed, cancelled)
}
