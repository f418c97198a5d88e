package http

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fjod/go_cart/checkout-engine/domain"
	"github.com/fjod/go_cart/checkout-engine/internal/service"
)

// InvoicesHandler serves invoice PDFs to the owner of the order only.
type InvoicesHandler struct {
	svc     service.OrderService
	dir     string
	timeout time.Duration
}

func NewInvoicesHandler(svc service.OrderService, dir string, timeout time.Duration) *InvoicesHandler {
	return &InvoicesHandler{
		svc:     svc,
		dir:     dir,
		timeout: timeout,
	}
}

// GET /api/v1/orders/{order_id}/invoice
func (h *InvoicesHandler) Download(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.svc.GetOrder(ctx, userID, orderID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if order.InvoicePath == "" {
		respondError(w, http.StatusNotFound, "invoice_not_ready", "invoice has not been issued yet")
		return
	}

	name := domain.InvoiceFileName(order.OrderNumber)
	f, err := os.Open(filepath.Join(h.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		respondError(w, http.StatusNotFound, "invoice_not_ready", "invoice has not been issued yet")
		return
	}
	if err != nil {
		handleServiceError(w, r, fmt.Errorf("open invoice: %w", err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		handleServiceError(w, r, fmt.Errorf("stat invoice: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}
