package llm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/entity"
)

// EncodeTemplateYAML writes a prompt configuration in its file form.
func EncodeTemplateYAML(w io.Writer, tpl entity.PromptTemplate) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(tpl); err != nil {
		return fmt.Errorf("encode prompt yaml: %w", err)
	}
	return enc.Close()
}

// DecodeTemplateYAML reads a prompt configuration file. Unknown keys are
// rejected; fields left out are empty and their sections are omitted. A
// non-empty name replaces the one in the file.
func DecodeTemplateYAML(data []byte, name string) (entity.PromptTemplate, error) {
	var tpl entity.PromptTemplate
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&tpl); err != nil {
		if errors.Is(err, io.EOF) {
			return tpl, common.NewAppError("INVALID_INPUT", "prompt file is empty", common.ErrInvalidInput)
		}
		return tpl, common.NewAppError("INVALID_INPUT", "invalid prompt yaml: "+err.Error(), common.ErrInvalidInput)
	}
	if name != "" {
		tpl.Name = name
	}
	tpl.Name = strings.TrimSpace(tpl.Name)
	v := common.NewValidator()
	v.Field("name", tpl.Name, common.Required, common.MaxLength(100))
	if err := v.Error(); err != nil {
		return tpl, err
	}
	return tpl, nil
}
