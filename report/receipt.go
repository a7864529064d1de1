package report

import (
	"bytes"
	"embed"
	"html/template"

	"github.com/rxoptima/rxoptima/internal/sales"
)

//go:embed templates/receipt.html
var templates embed.FS

var receiptTemplate = template.Must(template.ParseFS(templates, "templates/receipt.html"))

// RenderReceipt writes receipt as a standalone HTML page.
func RenderReceipt(receipt sales.Receipt) ([]byte, error) {
	var buf bytes.Buffer
	if err := receiptTemplate.Execute(&buf, receipt); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
