package commitmsg

import (
	"fmt"
	"strings"

	"github.com/valyala/fasttemplate"
)

const (
	// DefaultHeader opens every batch commit message.
	DefaultHeader = "Added new files\n\n"

	// DefaultEntryTemplate renders one line per file.
	DefaultEntryTemplate = "{{path}}: {{message}}\n"
)

// Entry is one file's contribution to a batch commit
// message.
type Entry struct {
	Path    string
	Message string
}

// Formatter renders batch commit messages.
type Formatter struct {
	header string
	tpl    *fasttemplate.Template
}

// New returns a Formatter with the given header and
// per-entry template. The template may reference
// {{path}} and {{message}}.
func New(header, entryTemplate string) (*Formatter, error) {
	const errCtx = "creating commit message formatter"

	tpl, err := fasttemplate.NewTemplate(
		entryTemplate, "{{", "}}",
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: parse entry template: %w",
			errCtx, err,
		)
	}

	return &Formatter{
		header: header,
		tpl:    tpl,
	}, nil
}

// Default returns a Formatter using DefaultHeader and
// DefaultEntryTemplate.
func Default() *Formatter {
	f, err := New(DefaultHeader, DefaultEntryTemplate)
	if err != nil {
		// The default template is a constant and
		// always parses.
		panic(err)
	}

	return f
}

// Format renders the commit message for a closed batch.
func (f *Formatter) Format(entries []Entry) string {
	var sb strings.Builder

	sb.WriteString(f.header)

	for _, e := range entries {
		sb.WriteString(f.tpl.ExecuteString(
			map[string]any{
				"path":    e.Path,
				"message": e.Message,
			},
		))
	}

	return sb.String()
}
