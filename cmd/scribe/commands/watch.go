package commands

import (
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/ixgest/folder"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/pulse/async"
	"github.com/teranos/scribe/sym"
)

// WatchCmd transcribes media as it lands in a folder.
var WatchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: sym.IX + " Watch a folder and transcribe new media",
	Long: sym.IX + ` watch: transcribe media as it arrives

Files already in the folder are queued first (disable with --existing=false).
New files are queued once they stop changing for watch.debounce_ms, so
partially copied media is not picked up. Writing a file again after its job
failed permanently or was cancelled gives it a fresh job.

Examples:
  scribe watch ~/recordings
  scribe watch ~/recordings -r --existing=false`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchRecursive bool
	watchExisting  bool
)

func init() {
	WatchCmd.Flags().BoolVarP(&watchRecursive, "recursive", "r", false, "Watch subfolders too (default from pipeline.recursive)")
	WatchCmd.Flags().BoolVar(&watchExisting, "existing", true, "Queue files already in the folder")
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	dir, err := filepath.Abs(args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %s", args[0])
	}
	recursive := a.cfg.Pipeline.Recursive
	if cmd.Flags().Changed("recursive") {
		recursive = watchRecursive
	}

	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	log := logger.Logger.Named("watch")
	w, err := folder.NewWatcher(dir, a.cfg.Pipeline.Extensions, recursive, a.cfg.Watch.Debounce(), log)
	if err != nil {
		return err
	}
	defer w.Close()

	events := a.orchestrator.Subscribe()
	defer a.orchestrator.Unsubscribe(events)
	go func() {
		for ev := range events {
			if ev.Type != async.EventProgress {
				pterm.Println(eventLine(ev))
			}
		}
	}()

	// A pending run request. Batches arriving during a run collapse into one.
	trigger := make(chan struct{}, 1)
	wake := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	if watchExisting {
		summary, err := a.orchestrator.AddFolder(ctx, dir, recursive)
		if err != nil {
			return err
		}
		printSkipped(summary.Skipped)
		if len(summary.Added) > 0 {
			wake()
		}
	}

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- w.Run(ctx, func(paths []string) {
			summary, _ := enqueue(ctx, a.orchestrator, paths, false)
			printSkipped(summary.Skipped)
			if len(summary.Added) > 0 {
				wake()
			}
		})
	}()

	pterm.Info.Printfln("Watching %s (Ctrl-C to stop)", dir)
	for {
		select {
		case <-ctx.Done():
			n := a.orchestrator.CancelAll()
			log.Infow("Stopped watching", logger.FieldPath, dir, "cancelled", n)
			return nil
		case err := <-watchErr:
			if err != nil && ctx.Err() == nil {
				a.orchestrator.CancelAll()
				return err
			}
		case <-trigger:
			if err := a.orchestrator.Drain(ctx); err != nil && !errors.Is(err, async.ErrAlreadyProcessing) {
				return err
			}
			a.pruneFinished()
			pterm.Info.Println(metricsLine(a.orchestrator.Metrics()))
		}
	}
}
