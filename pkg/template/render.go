package template

import (
	"bytes"
	"fmt"
	text "text/template"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatAmount renders n with thousands separators, e.g. 1600000 as
// "1,600,000".
func FormatAmount(n int64) string {
	return printer.Sprintf("%d", n)
}

func funcs() text.FuncMap {
	return text.FuncMap{
		"amount": FormatAmount,
	}
}

func parse(name, content string) (*text.Template, error) {
	t, err := text.New(name).Funcs(funcs()).Option("missingkey=error").Parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse text template %s: %w", name, err)
	}
	return t, nil
}

func execute(t *text.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render text template %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
