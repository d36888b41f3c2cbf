package export

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/paperless-ai/constants"
	"github.com/joseph-ayodele/paperless-ai/internal/entity"
	"github.com/joseph-ayodele/paperless-ai/internal/repository"
)

func TestExportXLSX(t *testing.T) {
	ctx := context.Background()
	db, err := repository.Open(ctx, repository.Config{Driver: "sqlite", DSN: "file::memory:"}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	hist := repository.NewHistoryRepository(db, nil)
	calls := repository.NewAPILogRepository(db, nil)

	id, _ := hist.Start(ctx, 42, "Invoice - Acme Corp", nil)
	_ = hist.MarkProcessing(ctx, id)
	_ = hist.Complete(ctx, id, repository.CompleteParams{TextSource: "paperless_ocr", ModelResponse: json.RawMessage(`{"title":"x"}`), TokenUsage: 99})
	failed, _ := hist.Start(ctx, 7, "", nil)
	_ = hist.MarkProcessing(ctx, failed)
	_ = hist.Fail(ctx, failed, "extraction error (empty_text)")
	status := 200
	_ = calls.RecordCall(ctx, entity.APICallLog{Service: constants.ServiceDocumentStore, Method: "GET", Endpoint: "/api/documents/42/", StatusCode: &status, DurationMS: 15})

	data, err := NewService(hist, calls, nil).ExportXLSX(ctx, Options{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	rows, err := ReadSheet(data, SheetHistory)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(rows))
	}
	if diff := cmp.Diff([]string{"2", "7", "", "", "failed", "", "FALSE", "0", "extraction error (empty_text)"}, rows[1][:9]); diff != "" {
		t.Fatalf("failed row mismatch (-want +got):\n%s", diff)
	}
	if rows[2][2] != "Invoice - Acme Corp" || rows[2][4] != "completed" || rows[2][7] != "99" {
		t.Fatalf("unexpected completed row %v", rows[2])
	}

	apiRows, err := ReadSheet(data, SheetAPICalls)
	if err != nil {
		t.Fatalf("read api calls: %v", err)
	}
	if len(apiRows) != 2 || apiRows[1][1] != "document_store" || apiRows[1][4] != "200" {
		t.Fatalf("unexpected api rows %v", apiRows)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo wörld", 6); got != "héllo…" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}
