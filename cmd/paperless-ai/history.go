package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/paperless-ai/constants"
	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/export"
	"github.com/joseph-ayodele/paperless-ai/internal/repository"
)

func historyCmd() *cobra.Command {
	var (
		documentID int
		status     string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List processing attempts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repository.HistoryFilter{Status: constants.HistoryStatus(status), Limit: limit}
			if documentID > 0 {
				f.DocumentID = &documentID
			}
			if status != "" {
				v := common.NewValidator()
				v.Field("status", status, common.OneOf(
					string(constants.HistoryStatusPending), string(constants.HistoryStatusProcessing),
					string(constants.HistoryStatusCompleted), string(constants.HistoryStatusFailed)))
				if err := v.Error(); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			svc, _, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			entries, err := svc.History.List(ctx, f)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No processing history yet. Use 'paperless-ai process' to create some.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDOCUMENT\tSTATUS\tAPPLIED\tSOURCE\tTOKENS\tCREATED\tTITLE / ERROR")
			for _, e := range entries {
				detail := e.DocumentTitle
				if e.ErrorMessage != nil {
					detail = *e.ErrorMessage
				}
				fmt.Fprintf(tw, "%d\t%d\t%s\t%t\t%s\t%d\t%s\t%s\n",
					e.ID, e.DocumentID, e.Status, e.MetadataApplied, e.TextSource, e.TokenUsage,
					e.CreatedAt.Local().Format(time.DateTime), truncate(detail, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&documentID, "document", 0, "only this document id")
	cmd.Flags().StringVar(&status, "status", "", "only this status (pending, processing, completed, failed)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries to show")
	return cmd
}

func apiLogsCmd() *cobra.Command {
	var (
		service string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "api-logs",
		Short: "List outbound API calls, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if service != "" {
				v := common.NewValidator()
				v.Field("service", service, common.OneOf(string(constants.ServiceDocumentStore), string(constants.ServiceModelAPI)))
				if err := v.Error(); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			svc, _, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			calls, err := svc.APILogs.List(ctx, repository.APILogFilter{Service: constants.APIService(service), Limit: limit})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), calls)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSERVICE\tMETHOD\tSTATUS\tMS\tCREATED\tENDPOINT")
			for _, c := range calls {
				st := "-"
				if c.StatusCode != nil {
					st = fmt.Sprint(*c.StatusCode)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
					c.ID, c.Service, c.Method, st, c.DurationMS, c.CreatedAt.Local().Format(time.DateTime), c.Endpoint)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&service, "service", "", "only calls to this service (document_store, model_api)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "number of calls to show")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		out        string
		documentID int
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write processing history and API calls to an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			opts := export.Options{Limit: limit}
			if documentID > 0 {
				opts.DocumentID = &documentID
			}
			data, err := svc.Export.ExportXLSX(ctx, opts)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "paperless-ai-history.xlsx", "output XLSX file path")
	cmd.Flags().IntVar(&documentID, "document", 0, "only history for this document id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 1000, "rows per sheet")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
