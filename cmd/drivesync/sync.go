package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"drivesync/internal/app"
	"drivesync/internal/ds"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func addSyncFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Bool("verify", false, "Verify checksums after each copy")
	f.Bool("full", false, "Copy every file, ignoring tracked state")
	f.Bool("skip-existing", false, "Never overwrite files that exist on the destination")
	f.Int64("bwlimit", 0, "Bandwidth limit in bytes per second")
	f.Int("parallel", 0, "Number of files copied concurrently")
	f.String("compress", "", "Compression codec: gzip, zstd or none")
	f.String("encrypt", "", "Encryption: aes-256-gcm, age or none")
	f.String("key-file", "", "Encryption key or age identity file")
	f.Bool("savings", false, "Report compression savings")
}

func syncFlags(cmd *cobra.Command) (app.SyncFlags, error) {
	f := cmd.Flags()
	var flags app.SyncFlags
	var err error
	if flags.Verify, err = f.GetBool("verify"); err != nil {
		return flags, err
	}
	if flags.Full, err = f.GetBool("full"); err != nil {
		return flags, err
	}
	if flags.SkipExisting, err = f.GetBool("skip-existing"); err != nil {
		return flags, err
	}
	if flags.BandwidthLimit, err = f.GetInt64("bwlimit"); err != nil {
		return flags, err
	}
	if flags.Parallel, err = f.GetInt("parallel"); err != nil {
		return flags, err
	}
	if flags.Compress, err = f.GetString("compress"); err != nil {
		return flags, err
	}
	if flags.Encrypt, err = f.GetString("encrypt"); err != nil {
		return flags, err
	}
	if flags.KeyFile, err = f.GetString("key-file"); err != nil {
		return flags, err
	}
	if flags.ReportSavings, err = f.GetBool("savings"); err != nil {
		return flags, err
	}
	return flags, nil
}

// progressPrinter redraws one status line on stderr when it is a terminal.
func progressPrinter() ds.ProgressFunc {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return func(e ds.ProgressEvent) {
		fmt.Fprintf(os.Stderr, "\r%d/%d files  %s  %.1f MB/s\033[K",
			e.FilesDone, e.FilesTotal, formatBytes(e.BytesDone), e.Speed/(1<<20))
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func printStats(verb string, stats *ds.SyncStatistics) {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		fmt.Fprintln(os.Stderr)
	}
	fmt.Printf("%s %d file(s), %s in %s (operation #%d, %s)\n",
		verb,
		stats.FilesCopied,
		formatBytes(stats.BytesCopied),
		stats.Duration().Truncate(time.Millisecond),
		stats.OperationID,
		stats.Status,
	)
	if stats.FilesSkipped > 0 {
		fmt.Printf("Skipped %d unchanged file(s)\n", stats.FilesSkipped)
	}
	if stats.FilesFailed > 0 {
		fmt.Printf("Failed %d file(s); see the log for details\n", stats.FilesFailed)
	}
	if stats.ConflictsDetected > 0 {
		fmt.Printf("Detected %d conflict(s); run 'drivesync conflicts' to review\n", stats.ConflictsDetected)
	}
	if stats.Savings != nil {
		fmt.Printf("Compression: %s\n", stats.Savings.String())
	}
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync GROUP",
	Short: "Copy changes from the master drive to the backup drive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subPath, _ := cmd.Flags().GetString("path")
		flags, err := syncFlags(cmd)
		if err != nil {
			return err
		}

		a, err := newApp("sync", false)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := passwordIfNeeded(a.Config(), &flags); err != nil {
			return err
		}
		opts, err := app.SyncOptions(a.Config(), flags)
		if err != nil {
			return err
		}
		opts.Progress = progressPrinter()

		ctx, stop := signalContext()
		defer stop()
		a.MarkMutated()
		stats, err := a.Service().SyncToBackup(ctx, args[0], subPath, opts)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		printStats("Copied", stats)
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore GROUP [TARGET]",
	Short: "Copy files from the backup drive to the master drive or TARGET",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		subPath, _ := cmd.Flags().GetString("path")
		flags, err := syncFlags(cmd)
		if err != nil {
			return err
		}
		target := ""
		if len(args) > 1 {
			if target, err = filepath.Abs(args[1]); err != nil {
				return fmt.Errorf("resolving target: %w", err)
			}
		}

		a, err := newApp("restore", false)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := passwordIfNeeded(a.Config(), &flags); err != nil {
			return err
		}
		opts, err := app.SyncOptions(a.Config(), flags)
		if err != nil {
			return err
		}
		opts.Progress = progressPrinter()

		ctx, stop := signalContext()
		defer stop()
		a.MarkMutated()
		stats, err := a.Service().RestoreFromBackup(ctx, args[0], subPath, target, opts)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		printStats("Restored", stats)
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch GROUP",
	Short: "Sync changes to the backup drive as they happen",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subPath, _ := cmd.Flags().GetString("path")
		debounce, _ := cmd.Flags().GetDuration("debounce")
		flags, err := syncFlags(cmd)
		if err != nil {
			return err
		}

		a, err := newApp("watch", false)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := passwordIfNeeded(a.Config(), &flags); err != nil {
			return err
		}
		opts, err := app.SyncOptions(a.Config(), flags)
		if err != nil {
			return err
		}
		opts.Trigger = ds.TriggerRealtime
		if debounce == 0 {
			debounce = time.Duration(a.Config().Watch.DebounceMS) * time.Millisecond
		}

		ctx, stop := signalContext()
		defer stop()
		a.MarkMutated()
		if err := a.Service().EnableRealtimeSync(ctx, "", args[0], subPath, debounce, opts); err != nil {
			return err
		}
		fmt.Printf("Watching %s (debounce %s); press Ctrl-C to stop\n", args[0], debounce)
		<-ctx.Done()

		for _, w := range a.Service().ListRealtimeWatchers() {
			fmt.Printf("%s: %d batch(es), %d dropped event(s)\n", w.ID, w.Batches, w.Dropped)
		}
		return nil
	},
}

// conflicts command
var conflictsCmd = &cobra.Command{
	Use:   "conflicts GROUP",
	Short: "List files that differ between master and backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subPath, _ := cmd.Flags().GetString("path")
		checksums, _ := cmd.Flags().GetBool("checksums")

		a, err := newApp("conflicts", false)
		if err != nil {
			return err
		}
		defer a.Close()

		conflicts, err := a.Service().DetectConflicts(cmd.Context(), args[0], subPath, checksums)
		if err != nil {
			return err
		}
		if len(conflicts) == 0 {
			fmt.Println("No conflicts.")
			return nil
		}
		for _, c := range conflicts {
			fmt.Printf("%-15s  %s\n", c.Type, c.RelativePath)
			if c.Type != ds.ConflictDeletedMaster {
				fmt.Printf("    master: %d bytes, %s\n", c.MasterSize, c.MasterModTime.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("    backup: %d bytes, %s\n", c.BackupSize, c.BackupModTime.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

// resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve GROUP PATH=ACTION...",
	Short: "Resolve conflicts with master, backup, skip or both",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		subPath, _ := cmd.Flags().GetString("path")

		actions := make(map[string]ds.Resolution, len(args)-1)
		for _, arg := range args[1:] {
			path, action, ok := strings.Cut(arg, "=")
			if !ok || path == "" {
				return fmt.Errorf("expected PATH=ACTION, got %q", arg)
			}
			r, ok := ds.ParseResolution(action)
			if !ok {
				return fmt.Errorf("unknown action %q for %s", action, path)
			}
			actions[path] = r
		}

		a, err := newApp("resolve", false)
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.Service().ResolveConflicts(cmd.Context(), args[0], subPath, actions)
		if err != nil {
			return err
		}
		fmt.Printf("Resolved %d, skipped %d, failed %d\n", summary.Resolved, summary.Skipped, summary.Failed)
		for _, e := range summary.Errors {
			fmt.Printf("  %s\n", e)
		}
		if summary.Failed > 0 {
			return fmt.Errorf("%d conflict(s) could not be resolved", summary.Failed)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history GROUP",
	Short: "View sync operation history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("history", false)
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.Service().GetSyncHistory(args[0], limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No sync operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.CompletedAt != nil {
				duration = time.Duration(op.DurationSeconds * float64(time.Second)).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-7s  %-9s  %s  %-21s  %5d  %s\n",
				op.ID,
				op.OperationType,
				op.Trigger,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				op.FilesCopied,
				duration,
			)
			if op.ErrorMessage != "" {
				fmt.Printf("    %s\n", op.ErrorMessage)
			}
		}
		return nil
	},
}

// files command
var filesCmd = &cobra.Command{
	Use:   "files OPERATION_ID",
	Short: "List files recorded by a sync operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid operation id %q", args[0])
		}

		a, err := newApp("files", false)
		if err != nil {
			return err
		}
		defer a.Close()

		op, err := a.Service().GetOperation(id)
		if err != nil {
			return err
		}
		if op == nil {
			return fmt.Errorf("operation #%d not found", id)
		}
		files, err := a.Service().GetOperationFiles(id)
		if err != nil {
			return err
		}

		fmt.Printf("Operation #%d (%s, %s): %s -> %s\n", op.ID, op.OperationType, op.Status, op.SourcePath, op.DestinationPath)
		if len(files) == 0 {
			fmt.Println("No files recorded.")
			return nil
		}
		for _, f := range files {
			sum := f.Checksum
			if len(sum) > 12 {
				sum = sum[:12]
			}
			fmt.Printf("%-12s  %12d  %s\n", sum, f.FileSize, f.RelativePath)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{syncCmd, restoreCmd, watchCmd} {
		addSyncFlags(c)
		c.Flags().String("path", "", "Sync only this directory, relative to the drive root")
		rootCmd.AddCommand(c)
	}
	watchCmd.Flags().Duration("debounce", 0, "Quiet period before a batch is synced (default from config)")

	for _, c := range []*cobra.Command{conflictsCmd, resolveCmd} {
		c.Flags().String("path", "", "Limit to this directory, relative to the drive root")
		rootCmd.AddCommand(c)
	}
	conflictsCmd.Flags().Bool("checksums", false, "Compare checksums of files with equal sizes")

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(filesCmd)
}
