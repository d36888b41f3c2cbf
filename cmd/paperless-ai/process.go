package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/paperless-ai/constants"
	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/entity"
	"github.com/joseph-ayodele/paperless-ai/internal/llm"
	"github.com/joseph-ayodele/paperless-ai/internal/pipeline"
	"github.com/joseph-ayodele/paperless-ai/internal/reconcile"
)

// applyFlags are shared by process, apply and bulk.
type applyFlags struct {
	fields        string
	clearTags     bool
	processingTag int
}

func (f *applyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.fields, "fields", "all", "comma-separated fields to apply (title,document_date,correspondent,document_type,storage_path,suggested_tags)")
	cmd.Flags().BoolVar(&f.clearTags, "clear-tags", false, "replace existing tags instead of merging")
	cmd.Flags().IntVar(&f.processingTag, "processing-tag", 0, "tag id added to the document when metadata is applied")
}

func (f *applyFlags) options() (pipeline.ApplyOptions, error) {
	fields, err := llm.ParseFields(f.fields)
	if err != nil {
		return pipeline.ApplyOptions{}, common.NewAppError("INVALID_INPUT", err.Error(), common.ErrInvalidInput)
	}
	opts := pipeline.ApplyOptions{Fields: fields, ClearExistingTags: f.clearTags}
	if f.processingTag > 0 {
		tag := f.processingTag
		opts.ProcessingTagID = &tag
	}
	return opts, nil
}

func parseDocumentID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, common.NewAppError("INVALID_INPUT", fmt.Sprintf("invalid document id %q", s), common.ErrInvalidInput)
	}
	return id, nil
}

func parseMode(s string) (constants.TextMode, error) {
	m, ok := constants.ParseTextMode(s)
	if !ok {
		return "", common.NewAppError("INVALID_INPUT", fmt.Sprintf("invalid mode %q (paperless_ocr, ai_ocr or auto)", s), common.ErrInvalidInput)
	}
	return m, nil
}

func processCmd() *cobra.Command {
	var (
		mode  string
		apply bool
		af    applyFlags
	)
	cmd := &cobra.Command{
		Use:   "process [document-id]",
		Short: "Suggest metadata for one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			m, err := parseMode(mode)
			if err != nil {
				return err
			}
			opts, err := af.options()
			if err != nil {
				return err
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

			res, err := proc.Process(ctx, pipeline.ProcessRequest{
				DocumentID:   id,
				Mode:         m,
				AutoApply:    apply,
				ApplyOptions: opts,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, struct {
					pipeline.ProcessResult
					Applied *reconcile.Outcome `json:"applied,omitempty"`
				}{res, res.Applied})
			}
			printResult(out, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "auto", "text source: paperless_ocr, ai_ocr or auto")
	cmd.Flags().BoolVar(&apply, "apply", false, "apply the suggestion immediately")
	af.register(cmd)
	return cmd
}

func printResult(w io.Writer, res pipeline.ProcessResult) {
	fmt.Fprintf(w, "Document %d: %s\n", res.DocumentID, res.Title)
	ex := res.Extraction
	fmt.Fprintf(w, "Text source: %s (%s), %d/%d characters", ex.Source, ex.SourceInfo, ex.CharLength, ex.OriginalLength)
	if ex.Truncated {
		fmt.Fprint(w, ", truncated")
	}
	fmt.Fprintf(w, "\nTokens: %d  Model: %s  History: #%d\n\n", res.TokenUsage, res.Model, res.HistoryID)

	md := res.Metadata
	row := func(label string, v *string) {
		if v != nil {
			fmt.Fprintf(w, "  %-15s %s\n", label+":", *v)
		}
	}
	row("Title", md.Title)
	if md.DocumentDate != nil {
		d := md.DocumentDate.String()
		row("Date", &d)
	}
	row("Correspondent", md.Correspondent)
	row("Document type", md.DocumentType)
	row("Storage path", md.StoragePath)
	row("Keywords", md.Keywords)
	if len(md.SuggestedTags) > 0 {
		tags := strings.Join(md.SuggestedTags, ", ")
		row("Tags", &tags)
	}
	if len(res.Dropped) > 0 {
		fmt.Fprintf(w, "\nDropped fields: %s\n", strings.Join(res.Dropped, ", "))
	}
	if res.Applied != nil {
		printOutcome(w, *res.Applied)
	}
}

func printOutcome(w io.Writer, o reconcile.Outcome) {
	if !o.Applied {
		fmt.Fprintln(w, "\nNothing to apply.")
		return
	}
	fmt.Fprintln(w, "\nApplied.")
	for _, c := range o.Created {
		fmt.Fprintf(w, "  created %s %q (#%d)\n", c.Kind, c.Item.Name, c.Item.ID)
	}
	if len(o.Skipped) > 0 {
		fields := make([]string, 0, len(o.Skipped))
		for _, f := range o.Skipped {
			fields = append(fields, string(f))
		}
		fmt.Fprintf(w, "  skipped: %s\n", strings.Join(fields, ", "))
	}
}

func applyCmd() *cobra.Command {
	var (
		metadataFile string
		historyID    int64
		af           applyFlags
	)
	cmd := &cobra.Command{
		Use:   "apply [document-id]",
		Short: "Write suggested metadata to the document store",
		Long: "Applies the latest completed suggestion for the document, the one from --history-id,\n" +
			"or metadata read from --metadata (a JSON file, '-' for stdin).",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			opts, err := af.options()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, _, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			req := pipeline.ApplyRequest{DocumentID: id, ApplyOptions: opts}
			switch {
			case metadataFile != "":
				req.Metadata, err = readMetadata(cmd.InOrStdin(), metadataFile)
			default:
				req.Metadata, req.HistoryID, err = metadataFromHistory(ctx, svc.History, id, historyID)
			}
			if err != nil {
				return err
			}

			proc, _, err := svc.Pipeline(ctx)
			if err != nil {
				return err
			}
			outcome, err := proc.Apply(ctx, req)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), outcome)
			}
			printOutcome(cmd.OutOrStdout(), outcome)
			return nil
		},
	}
	cmd.Flags().StringVar(&metadataFile, "metadata", "", "JSON file with the metadata to apply ('-' reads stdin)")
	cmd.Flags().Int64Var(&historyID, "history-id", 0, "apply the suggestion stored with this history entry")
	af.register(cmd)
	return cmd
}

func readMetadata(stdin io.Reader, path string) (llm.SuggestedMetadata, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return llm.SuggestedMetadata{}, err
	}
	return decodeMetadata(data)
}

func decodeMetadata(data []byte) (llm.SuggestedMetadata, error) {
	var md llm.SuggestedMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return md, common.NewAppError("INVALID_INPUT", "invalid metadata json: "+err.Error(), common.ErrInvalidInput)
	}
	return md, nil
}

type historyReader interface {
	Get(ctx context.Context, id int64) (*entity.ProcessingHistoryEntry, error)
	Latest(ctx context.Context, documentID int) (*entity.ProcessingHistoryEntry, error)
}

func metadataFromHistory(ctx context.Context, h historyReader, documentID int, historyID int64) (llm.SuggestedMetadata, *int64, error) {
	var (
		entry *entity.ProcessingHistoryEntry
		err   error
	)
	if historyID > 0 {
		entry, err = h.Get(ctx, historyID)
	} else {
		entry, err = h.Latest(ctx, documentID)
	}
	if err != nil {
		return llm.SuggestedMetadata{}, nil, err
	}
	if entry == nil || entry.DocumentID != documentID {
		return llm.SuggestedMetadata{}, nil, common.NewAppError("NOT_FOUND",
			fmt.Sprintf("no suggestion recorded for document %d", documentID), common.ErrNotFound)
	}
	if entry.Status != constants.HistoryStatusCompleted || len(entry.ModelResponse) == 0 {
		return llm.SuggestedMetadata{}, nil, common.NewAppError("INVALID_INPUT",
			fmt.Sprintf("history entry %d is %s, not a completed suggestion", entry.ID, entry.Status), common.ErrInvalidInput)
	}
	md, err := decodeMetadata(entry.ModelResponse)
	if err != nil {
		return md, nil, err
	}
	hid := entry.ID
	return md, &hid, nil
}
