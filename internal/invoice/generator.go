package invoice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fjod/go_cart/checkout-engine/domain"
	"github.com/fjod/go_cart/checkout-engine/internal/pricing"
	"github.com/go-pdf/fpdf"
)

type StoreInfo struct {
	Name    string
	Street  string
	City    string
	Contact string
}

var DefaultStore = StoreInfo{
	Name:    "Checkout Engine Store",
	Street:  "123 Business Street",
	City:    "City, State 12345",
	Contact: "Email: info@checkout.example",
}

// PDFGenerator renders one invoice file per order into dir.
type PDFGenerator struct {
	dir   string
	store StoreInfo
}

func NewPDFGenerator(dir string, store StoreInfo) (*PDFGenerator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create invoices dir: %w", err)
	}
	return &PDFGenerator{dir: dir, store: store}, nil
}

func (g *PDFGenerator) Dir() string {
	return g.dir
}

// Generate writes <dir>/invoice-<order_number>.pdf and returns its path.
// The file is written under a temporary name and renamed so readers never see a partial PDF.
func (g *PDFGenerator) Generate(ctx context.Context, order *domain.Order) (string, error) {
	if order == nil || order.OrderNumber == "" {
		return "", fmt.Errorf("invoice: order without number")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	pdf := g.render(order)
	if err := pdf.Error(); err != nil {
		return "", fmt.Errorf("render invoice %s: %w", order.OrderNumber, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(g.dir, domain.InvoiceFileName(order.OrderNumber))
	tmp := path + ".tmp"
	if err := pdf.OutputFileAndClose(tmp); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write invoice %s: %w", order.OrderNumber, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("publish invoice %s: %w", order.OrderNumber, err)
	}
	return path, nil
}

func (g *PDFGenerator) render(order *domain.Order) *fpdf.Fpdf {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(18, 18, 18)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, "INVOICE", "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 10)
	for _, line := range []string{g.store.Name, g.store.Street, g.store.City, g.store.Contact} {
		pdf.CellFormat(0, 5, line, "", 1, "R", false, 0, "")
	}
	pdf.Ln(6)

	pdf.CellFormat(0, 5, "Invoice Number: "+order.OrderNumber, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 5, "Order Date: "+order.CreatedAt.Format("2006-01-02"), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 5, "Order Status: "+order.Status.String(), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 5, "Payment Method: "+string(order.PaymentMethod), "", 1, "L", false, 0, "")
	pdf.Ln(5)

	pdf.SetFont("Helvetica", "BU", 12)
	pdf.CellFormat(0, 6, "Bill To:", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 5, "Customer ID: "+strconv.FormatInt(order.UserID, 10), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 5, "Phone: "+order.Phone, "", 1, "L", false, 0, "")
	pdf.MultiCell(0, 5, "Address: "+order.ShippingAddress, "", "L", false)
	if order.Notes != "" {
		pdf.MultiCell(0, 5, "Notes: "+order.Notes, "", "L", false)
	}
	pdf.Ln(6)

	widths := []float64{90, 20, 32, 32}
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range []string{"Item", "Qty", "Price", "Total"} {
		align := "R"
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(widths[i], 7, h, "B", 0, align, false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	for _, l := range order.Lines {
		pdf.CellFormat(widths[0], 7, l.ProductName, "", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 7, strconv.Itoa(int(l.Quantity)), "", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], 7, money(pricing.Format(l.Price)), "", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 7, money(pricing.Format(l.Total)), "", 1, "R", false, 0, "")
	}

	x, y := pdf.GetXY()
	pdf.Line(x, y+2, x+174, y+2)
	pdf.Ln(5)

	totals := []struct {
		label string
		value string
	}{
		{"Subtotal:", money(pricing.Format(order.Subtotal))},
		{"Tax:", money(pricing.Format(order.Tax))},
		{"Discount:", "-" + money(pricing.Format(order.Discount))},
	}
	for _, t := range totals {
		pdf.CellFormat(142, 6, t.label, "", 0, "R", false, 0, "")
		pdf.CellFormat(32, 6, t.value, "", 1, "R", false, 0, "")
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(142, 8, "Total:", "", 0, "R", false, 0, "")
	pdf.CellFormat(32, 8, money(pricing.Format(order.Total)), "", 1, "R", false, 0, "")

	pdf.Ln(12)
	pdf.SetFont("Helvetica", "I", 8)
	pdf.CellFormat(0, 5, "Thank you for your business!", "", 1, "C", false, 0, "")

	return pdf
}

func money(s string) string {
	return "$" + s
}
