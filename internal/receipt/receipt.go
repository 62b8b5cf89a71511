package receipt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/fjod/wa-commerce/internal/domain"
)

// Generator renders paid-order receipts into dir and addresses them under baseURL/receipts/.
type Generator struct {
	dir     string
	baseURL string
	logger  *slog.Logger
}

func NewGenerator(dir, appURL string, logger *slog.Logger) *Generator {
	return &Generator{
		dir:     dir,
		baseURL: strings.TrimRight(appURL, "/"),
		logger:  logger,
	}
}

func (g *Generator) Dir() string {
	return g.dir
}

// Render writes <dir>/<orderID>.pdf and returns it as a sendable document.
func (g *Generator) Render(ctx context.Context, r domain.Receipt) (*domain.Document, error) {
	if r.Order == nil {
		return nil, domain.NewValidationError("order", "missing")
	}
	id := r.Order.OrderID
	if id == "" || strings.ContainsAny(id, `/\.`) {
		return nil, domain.NewValidationError("order_id", fmt.Sprintf("unusable as file name: %q", id))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create receipts dir: %w", err)
	}
	name := id + ".pdf"
	path := filepath.Join(g.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create receipt file: %w", err)
	}
	if err := g.Write(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close receipt file: %w", err)
	}

	g.logger.Info("receipt generated", "order_id", id, "path", path)
	return &domain.Document{
		URL:      g.baseURL + "/receipts/" + name,
		Filename: "receipt-" + name,
		Caption:  "Receipt for order " + id,
		Path:     path,
	}, nil
}

// Write renders the receipt PDF to w.
func (g *Generator) Write(w io.Writer, r domain.Receipt) error {
	o := r.Order
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Receipt "+o.OrderID, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, tr(r.BusinessName), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	if r.BusinessPhone != "" {
		pdf.CellFormat(0, 5, tr("Phone: "+r.BusinessPhone), "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, "Payment Receipt", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	customer := r.CustomerName
	if customer == "" {
		customer = o.CustomerName
	}
	meta := [][2]string{
		{"Order ID", o.OrderID},
		{"Customer", customer},
		{"Phone", o.PhoneNumber},
		{"Payment ID", o.Payment.PaymentID},
		{"Method", o.Payment.Method},
	}
	if o.Payment.PaidAt != nil {
		meta = append(meta, [2]string{"Paid at", o.Payment.PaidAt.UTC().Format("02 Jan 2006 15:04 MST")})
	}
	for _, kv := range meta {
		if kv[1] == "" {
			continue
		}
		pdf.CellFormat(35, 6, kv[0]+":", "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, tr(kv[1]), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	widths := []float64{90, 20, 35, 35}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(235, 235, 235)
	for i, h := range []string{"Item", "Qty", "Unit price", "Amount"} {
		align := "R"
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(widths[i], 7, h, "1", 0, align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	for _, it := range o.Items {
		name := it.ProductName
		if name == "" {
			name = it.ProductID
		}
		pdf.CellFormat(widths[0], 7, tr(name), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 7, fmt.Sprintf("%d", it.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], 7, amount(it.UnitPriceMinor, o.Currency), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 7, amount(it.LineTotalMinor, o.Currency), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(widths[0]+widths[1]+widths[2], 8, "Total paid", "1", 0, "R", false, 0, "")
	pdf.CellFormat(widths[3], 8, amount(o.TotalMinor, o.Currency), "1", 1, "R", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 6, "Shipping to", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 5, tr(o.ShippingAddress.FullAddress), "", "L", false)

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render receipt %s: %w", o.OrderID, err)
	}
	return nil
}

// amount uses the ISO code; the core PDF fonts have no rupee glyph.
func amount(minor int64, currency string) string {
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return strings.ToUpper(currency) + " " + domain.FormatMinor(minor)
}
