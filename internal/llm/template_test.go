package llm

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/entity"
)

func TestTemplateYAMLRoundTripKeepsInstructions(t *testing.T) {
	tpl := entity.DefaultPromptTemplate()
	tpl.ID = 7
	tpl.IsActive = true

	var buf bytes.Buffer
	if err := EncodeTemplateYAML(&buf, tpl); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if bytes.Contains(buf.Bytes(), []byte("is_active")) {
		t.Fatalf("storage fields must not be exported:\n%s", buf.String())
	}

	got, err := DecodeTemplateYAML(buf.Bytes(), "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := entity.DefaultPromptTemplate()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("template mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeTemplateYAMLPartial(t *testing.T) {
	got, err := DecodeTemplateYAML([]byte("name: receipts\nsuggested_title: Use the merchant name.\njson_mode: false\n"), "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := entity.PromptTemplate{Name: "receipts", SuggestedTitle: "Use the merchant name."}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("template mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeTemplateYAMLNameOverride(t *testing.T) {
	got, err := DecodeTemplateYAML([]byte("suggested_title: x\n"), " invoices ")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "invoices" {
		t.Fatalf("name = %q", got.Name)
	}
}

func TestDecodeTemplateYAMLRejects(t *testing.T) {
	cases := map[string]struct {
		in   string
		want error
	}{
		"empty":       {"", common.ErrInvalidInput},
		"unknown key": {"name: a\ntemperature: 2\n", common.ErrInvalidInput},
		"no name":     {"suggested_title: x\n", common.ErrValidation},
		"not a map":   {"- a\n- b\n", common.ErrInvalidInput},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeTemplateYAML([]byte(tc.in), ""); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
