package llm

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/paperless-ai/internal/entity"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = "You are a document analysis assistant. Analyze documents and extract metadata in a structured format."

// Recognized placeholders. Anything else in braces is left as written.
const (
	PlaceholderFilename                = "filename"
	PlaceholderCurrentTitle            = "current_title"
	PlaceholderDocumentID              = "document_id"
	PlaceholderCurrentDate             = "current_date"
	PlaceholderExtractedText           = "extracted_text"
	PlaceholderTextLength              = "text_length"
	PlaceholderMaxTextLength           = "max_text_length"
	PlaceholderAvailableCorrespondents = "available_correspondents"
	PlaceholderAvailableDocumentTypes  = "available_document_types"
	PlaceholderAvailableStoragePaths   = "available_storage_paths"
	PlaceholderAvailableTags           = "available_tags"
)

var rePlaceholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Prompt is the rendered system/user message pair.
type Prompt struct {
	System string
	User   string
}

// PromptContext carries the values substituted into placeholders.
type PromptContext struct {
	DocumentID              int
	Filename                string
	CurrentTitle            string
	CurrentDate             string // supplied by the caller; the builder never reads the clock
	ExtractedText           string
	OriginalTextLength      int
	MaxTextLength           int
	AvailableCorrespondents []string
	AvailableDocumentTypes  []string
	AvailableStoragePaths   []string
	AvailableTags           []string
}

// Placeholders returns the substitution map for ctx.
func (c PromptContext) Placeholders() map[string]string {
	title := c.CurrentTitle
	if strings.TrimSpace(title) == "" {
		title = "Not set"
	}
	textLen := c.OriginalTextLength
	if textLen == 0 {
		textLen = utf8.RuneCountInString(c.ExtractedText)
	}
	return map[string]string{
		PlaceholderFilename:                c.Filename,
		PlaceholderCurrentTitle:            title,
		PlaceholderDocumentID:              strconv.Itoa(c.DocumentID),
		PlaceholderCurrentDate:             c.CurrentDate,
		PlaceholderExtractedText:           c.ExtractedText,
		PlaceholderTextLength:              strconv.Itoa(textLen),
		PlaceholderMaxTextLength:           strconv.Itoa(c.MaxTextLength),
		PlaceholderAvailableCorrespondents: joinOrNone(c.AvailableCorrespondents),
		PlaceholderAvailableDocumentTypes:  joinOrNone(c.AvailableDocumentTypes),
		PlaceholderAvailableStoragePaths:   joinOrNone(c.AvailableStoragePaths),
		PlaceholderAvailableTags:           joinOrNone(c.AvailableTags),
	}
}

// PromptOptions controls the prompt shape.
type PromptOptions struct {
	SystemPrompt string // "" = DefaultSystemPrompt
	JSONMode     bool
	Vision       bool // pages are attached as images instead of text
}

// Substitute replaces recognized placeholders in one pass. Substituted
// values are not rescanned and unknown placeholders stay verbatim.
func Substitute(s string, values map[string]string) string {
	return rePlaceholder.ReplaceAllStringFunc(s, func(tok string) string {
		if v, ok := values[tok[1:len(tok)-1]]; ok {
			return v
		}
		return tok
	})
}

// BuildPrompt renders the system and user prompt. Identical inputs give byte-identical output.
func BuildPrompt(tpl entity.PromptTemplate, pc PromptContext, opts PromptOptions) Prompt {
	values := pc.Placeholders()
	return Prompt{
		System: Substitute(buildSystemPrompt(opts), values),
		User:   Substitute(buildUserPrompt(tpl, opts), values),
	}
}

func buildSystemPrompt(opts PromptOptions) string {
	sys := strings.TrimSpace(opts.SystemPrompt)
	if sys == "" {
		sys = DefaultSystemPrompt
	}
	if !opts.JSONMode {
		return sys
	}
	names := make([]string, 0, len(AllFields)+1)
	for _, f := range AllFields {
		names = append(names, `"`+string(f)+`"`)
	}
	if opts.Vision {
		names = append(names, `"extracted_text"`)
	}
	return sys + "\n\nRespond with valid JSON only: a single JSON object with the fields " +
		strings.Join(names, ", ") + ". Omit fields you cannot determine. " +
		`"suggested_tags" is an array of tag names; "document_date" uses YYYY-MM-DD.`
}

type promptSection struct {
	label       string
	instruction string
}

func buildUserPrompt(tpl entity.PromptTemplate, opts PromptOptions) string {
	var b strings.Builder
	b.WriteString("Analyze the following document and suggest metadata for it.\n\n")

	b.WriteString("**Available Options from Paperless-NGX:**\n")
	b.WriteString("- Correspondents: {" + PlaceholderAvailableCorrespondents + "}\n")
	b.WriteString("- Document Types: {" + PlaceholderAvailableDocumentTypes + "}\n")
	b.WriteString("- Storage Paths: {" + PlaceholderAvailableStoragePaths + "}\n")
	b.WriteString("- Tags: {" + PlaceholderAvailableTags + "}\n\n")

	b.WriteString("**Document Information:**\n")
	b.WriteString("- Filename: {" + PlaceholderFilename + "}\n")
	b.WriteString("- Current Title: {" + PlaceholderCurrentTitle + "}\n")

	if opts.Vision {
		b.WriteString("\n**Document Pages:**\n")
		b.WriteString("The document pages are attached as images. Read them carefully.")
		if opts.JSONMode {
			b.WriteString(` Put the full transcribed text into "extracted_text".`)
		} else {
			b.WriteString(" Start your answer with EXTRACTED_TEXT: followed by the transcribed text, then ANALYSIS: followed by the metadata.")
		}
		b.WriteString("\n\n")
	} else {
		b.WriteString("- Text Length: {" + PlaceholderTextLength + "} characters (max {" + PlaceholderMaxTextLength + "})\n\n")
		b.WriteString("**Document Text:**\n{" + PlaceholderExtractedText + "}\n\n")
	}

	sections := []promptSection{
		{"Document Date", tpl.DocumentDate},
		{"Correspondent", tpl.Correspondent},
		{"Document Type", tpl.DocumentType},
		{"Storage Path", tpl.StoragePath},
		{"Content Keywords", tpl.ContentKeywords},
		{"Suggested Title", tpl.SuggestedTitle},
		{"Suggested Tags", tpl.SuggestedTag},
		{"General Instructions", tpl.FreeInstructions},
	}
	for _, s := range sections {
		instr := strings.TrimSpace(s.instruction)
		if instr == "" {
			continue
		}
		b.WriteString("**" + s.label + ":**\n")
		b.WriteString(instr)
		b.WriteString("\n\n")
	}

	if opts.JSONMode {
		b.WriteString("Respond with a single JSON object in exactly this shape:\n")
		b.WriteString(ResponseSkeleton(opts.Vision))
		b.WriteString("\n\nIMPORTANT: Return ONLY valid JSON, no markdown and no explanations.")
	} else {
		b.WriteString("Answer with one line per field: TITLE:, DATE:, CORRESPONDENT:, TYPE:, STORAGE_PATH:, KEYWORDS:, TAGS: (comma-separated).")
	}
	return b.String()
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "None available"
	}
	return strings.Join(names, ", ")
}
