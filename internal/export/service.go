package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/paperless-ai/internal/entity"
	"github.com/joseph-ayodele/paperless-ai/internal/repository"
)

const (
	SheetHistory  = "History"
	SheetAPICalls = "API Calls"
)

// Service produces XLSX bytes for the processing history and API call log.
type Service struct {
	historyRepo repository.HistoryRepository
	apiLogRepo  repository.APILogRepository
	logger      *slog.Logger
}

func NewService(history repository.HistoryRepository, apiLogs repository.APILogRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{historyRepo: history, apiLogRepo: apiLogs, logger: logger}
}

// Options bound the exported rows.
type Options struct {
	DocumentID *int
	Limit      int // per sheet; default 1000
}

// ExportXLSX returns a workbook with a History sheet and an API Calls sheet, newest rows first.
func (s *Service) ExportXLSX(ctx context.Context, opts Options) ([]byte, error) {
	start := time.Now()
	if opts.Limit <= 0 {
		opts.Limit = 1000
	}

	hist, err := s.historyRepo.List(ctx, repository.HistoryFilter{DocumentID: opts.DocumentID, Limit: opts.Limit})
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	calls, err := s.apiLogRepo.List(ctx, repository.APILogFilter{Limit: opts.Limit})
	if err != nil {
		return nil, fmt.Errorf("query api logs: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", SheetHistory); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetAPICalls); err != nil {
		return nil, err
	}
	idx, _ := f.GetSheetIndex(SheetHistory)
	f.SetActiveSheet(idx)

	writeHistory(f, hist)
	writeAPICalls(f, calls)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"history_rows", len(hist),
		"api_rows", len(calls),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeHistory(f *excelize.File, rows []*entity.ProcessingHistoryEntry) {
	headers := []string{
		"ID", "Document ID", "Document Title", "Tag ID", "Status", "Text Source",
		"Metadata Applied", "Tokens", "Error", "Model Response", "Created", "Processed",
	}
	writeHeader(f, SheetHistory, headers)
	for i, e := range rows {
		tag := ""
		if e.TagID != nil {
			tag = fmt.Sprint(*e.TagID)
		}
		errMsg := ""
		if e.ErrorMessage != nil {
			errMsg = *e.ErrorMessage
		}
		processed := ""
		if e.ProcessedAt != nil {
			processed = e.ProcessedAt.UTC().Format(time.DateTime)
		}
		writeRow(f, SheetHistory, i+2, e.ID, e.DocumentID, e.DocumentTitle, tag, string(e.Status), e.TextSource,
			e.MetadataApplied, e.TokenUsage, errMsg, truncate(string(e.ModelResponse), 2000),
			e.CreatedAt.UTC().Format(time.DateTime), processed)
	}
	_ = f.SetColWidth(SheetHistory, "C", "C", 32)
	_ = f.SetColWidth(SheetHistory, "I", "J", 60)
	_ = f.SetColWidth(SheetHistory, "K", "L", 20)
}

func writeAPICalls(f *excelize.File, rows []*entity.APICallLog) {
	headers := []string{
		"ID", "Service", "Method", "Endpoint", "Status", "Duration (ms)", "Error", "Request", "Response", "Created",
	}
	writeHeader(f, SheetAPICalls, headers)
	for i, c := range rows {
		status := ""
		if c.StatusCode != nil {
			status = fmt.Sprint(*c.StatusCode)
		}
		errMsg := ""
		if c.ErrorMessage != nil {
			errMsg = *c.ErrorMessage
		}
		writeRow(f, SheetAPICalls, i+2, c.ID, string(c.Service), c.Method, c.Endpoint, status, c.DurationMS, errMsg,
			truncate(c.RequestData, 2000), truncate(c.ResponseData, 2000), c.CreatedAt.UTC().Format(time.DateTime))
	}
	_ = f.SetColWidth(SheetAPICalls, "D", "D", 40)
	_ = f.SetColWidth(SheetAPICalls, "G", "I", 60)
	_ = f.SetColWidth(SheetAPICalls, "J", "J", 20)
}

func writeHeader(f *excelize.File, sheet string, headers []string) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

// ReadSheet returns the rows of sheet in an exported workbook.
func ReadSheet(data []byte, sheet string) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.GetRows(sheet)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
