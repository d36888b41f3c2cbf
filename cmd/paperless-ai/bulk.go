package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/paperless-ai/internal/pipeline"
)

func bulkCmd() *cobra.Command {
	var (
		ids         []int
		tagID       int
		mode        string
		apply       bool
		skipApplied bool
		af          applyFlags
	)
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Process many documents; Ctrl-C aborts the current document and stops",
		Example: "  paperless-ai bulk --ids 12,13,14\n" +
			"  paperless-ai bulk --tag 7 --apply --fields title,correspondent --skip-applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMode(mode)
			if err != nil {
				return err
			}
			opts, err := af.options()
			if err != nil {
				return err
			}
			req := pipeline.BulkRequest{
				DocumentIDs:  ids,
				Mode:         m,
				AutoApply:    apply,
				SkipApplied:  skipApplied,
				ApplyOptions: opts,
			}
			if tagID > 0 {
				req.TagID = &tagID
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			svc, _, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()
			proc, _, err := svc.Pipeline(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			progress := make(chan pipeline.Progress, 16)
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for p := range progress {
					printProgress(out, p)
				}
			}()

			tally, runErr := proc.BulkProcess(ctx, req, progress)
			close(progress)
			wg.Wait()

			if jsonOutput {
				if err := writeJSON(out, tally); err != nil {
					return err
				}
			} else {
				printTally(out, tally)
			}
			if tally.Cancelled {
				return nil
			}
			if runErr == nil && tally.Failed > 0 {
				return fmt.Errorf("%d of %d documents failed", tally.Failed, tally.Processed)
			}
			return runErr
		},
	}
	cmd.Flags().IntSliceVar(&ids, "ids", nil, "document ids to process")
	cmd.Flags().IntVar(&tagID, "tag", 0, "process every document carrying this tag id")
	cmd.Flags().StringVar(&mode, "mode", "auto", "text source: paperless_ocr, ai_ocr or auto")
	cmd.Flags().BoolVar(&apply, "apply", false, "apply each suggestion")
	cmd.Flags().BoolVar(&skipApplied, "skip-applied", false, "skip documents whose latest suggestion was already applied")
	af.register(cmd)
	cmd.MarkFlagsOneRequired("ids", "tag")
	cmd.MarkFlagsMutuallyExclusive("ids", "tag")
	return cmd
}

func printProgress(w io.Writer, p pipeline.Progress) {
	if jsonOutput {
		_ = writeJSON(w, p)
		return
	}
	line := fmt.Sprintf("[%d/%d] document %d: %s", p.Index, p.Total, p.DocumentID, p.Status)
	if p.Error != "" {
		line += fmt.Sprintf(" (%s error: %s)", p.Category, p.Error)
	}
	fmt.Fprintln(w, line)
}

func printTally(w io.Writer, t pipeline.Tally) {
	fmt.Fprintf(w, "\nRun %s\n", t.RunID)
	fmt.Fprintf(w, "- Documents: %d\n", t.Total)
	fmt.Fprintf(w, "- Processed: %d\n", t.Processed)
	fmt.Fprintf(w, "- Succeeded: %d\n", t.Succeeded)
	fmt.Fprintf(w, "- Failed:    %d\n", t.Failed)
	if t.Skipped > 0 {
		fmt.Fprintf(w, "- Skipped:   %d\n", t.Skipped)
	}
	if t.Cancelled {
		fmt.Fprintln(w, "Cancelled before all documents were processed.")
	}
}
