package ocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type stubRunner struct {
	calls [][]string
	run   func(name string, args []string) ([]byte, []byte, error)
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	return s.run(name, args)
}

func fixedPages(n int) func(string) (int, error) {
	return func(string) (int, error) { return n, nil }
}

func TestExtractTextNormalizesLayout(t *testing.T) {
	r := &stubRunner{run: func(string, []string) ([]byte, []byte, error) {
		return []byte("Invoice   from\tAcme\r\n\n\n\n\fPage 2  \n"), nil, nil
	}}
	e := NewExtractor(Config{}, nil, WithRunner(r), WithPageCounter(fixedPages(2)))

	res, err := e.ExtractText(context.Background(), []byte("%PDF-1.7"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Text != "Invoice from Acme\n\nPage 2" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.Pages != 2 {
		t.Fatalf("expected 2 pages, got %d", res.Pages)
	}
	if got := r.calls[0][0]; got != "pdftotext" {
		t.Fatalf("expected pdftotext default binary, got %q", got)
	}
}

func TestExtractTextUnparseable(t *testing.T) {
	e := NewExtractor(Config{}, nil,
		WithRunner(&stubRunner{run: func(string, []string) ([]byte, []byte, error) { return nil, nil, nil }}),
		WithPageCounter(func(string) (int, error) { return 0, errors.New("xref table not found") }),
	)
	_, err := e.ExtractText(context.Background(), []byte("garbage"))
	if !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
}

func TestRenderPagesHonorsMaxPages(t *testing.T) {
	r := &stubRunner{}
	r.run = func(name string, args []string) ([]byte, []byte, error) {
		prefix := args[len(args)-1]
		for _, n := range []string{"1", "2", "3"} {
			if err := os.WriteFile(prefix+"-"+n+".png", []byte("png"+n), 0o600); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	}
	e := NewExtractor(Config{MaxPages: 2, DPI: 100}, nil, WithRunner(r), WithPageCounter(fixedPages(5)))

	pages, total, err := e.RenderPages(context.Background(), []byte("%PDF-1.7"))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if total != 5 || len(pages) != 2 {
		t.Fatalf("expected 2 of 5 pages, got %d of %d", len(pages), total)
	}
	if string(pages[1].PNG) != "png2" || pages[1].Number != 2 {
		t.Fatalf("unexpected second page %+v", pages[1])
	}
	args := strings.Join(r.calls[0], " ")
	if !strings.Contains(args, "-r 100") || !strings.Contains(args, "-l 2") {
		t.Fatalf("expected dpi and last-page flags, got %q", args)
	}
	if _, err := os.Stat(filepath.Dir(r.calls[0][len(r.calls[0])-1])); !os.IsNotExist(err) {
		t.Fatalf("expected temp dir to be removed")
	}
}
