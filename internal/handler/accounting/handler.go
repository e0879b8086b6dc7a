package accounting

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/phucdat/portal/backend/internal/model/invoice"
	accountingService "github.com/phucdat/portal/backend/internal/service/accounting"
	"github.com/phucdat/portal/backend/pkg/utils"
)

// Handler serves the accounting API. Callers mount it behind RequireAdmin.
type Handler struct {
	svc *accountingService.Service
}

// New returns an accounting handler.
func New(svc *accountingService.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the accounting routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/customers", func(r chi.Router) {
		r.Get("/", h.handleListCustomers)
		r.Post("/", h.handleCreateCustomer)
		r.Get("/{customerID}", h.handleGetCustomer)
	})
	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.handleListInvoices)
		r.Post("/", h.handleCreateInvoice)
		r.Get("/{invoiceID}", h.handleGetInvoice)
		r.Delete("/{invoiceID}", h.handleDeleteInvoice)
		r.Patch("/{invoiceID}/status", h.handleUpdateStatus)
	})
	r.Get("/dashboard", h.handleDashboard)
}

type invoiceRequest struct {
	CustomerID string                        `json:"customerId" validate:"required"`
	IssueDate  string                        `json:"issueDate" validate:"omitempty,datetime=2006-01-02"`
	DueDate    string                        `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
	VATRate    int                           `json:"vatRate"`
	Note       string                        `json:"note" validate:"max=1000"`
	Items      []accountingService.DraftItem `json:"items" validate:"required,min=1"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.svc.ListCustomers(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"items": customers})
}

func (h *Handler) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req accountingService.CustomerInput
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondDecodeError(w, err)
		return
	}

	customer, err := h.svc.CreateCustomer(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, customer)
}

func (h *Handler) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := h.svc.GetCustomer(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, customer)
}

func (h *Handler) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	f := invoice.Filter{
		Status:     invoice.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
		CustomerID: strings.TrimSpace(r.URL.Query().Get("customerId")),
	}

	var err error
	if f.From, err = utils.QueryDate(r, "from"); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.To, err = utils.QueryDate(r, "to"); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Limit, err = utils.QueryInt(r, "limit", 0); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Offset, err = utils.QueryInt(r, "offset", 0); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.svc.ListInvoices(r.Context(), f)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, page)
}

func (h *Handler) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondDecodeError(w, err)
		return
	}

	draft := accountingService.Draft{
		CustomerID: req.CustomerID,
		VATRate:    req.VATRate,
		Note:       req.Note,
		Items:      req.Items,
	}
	// The validator has already checked the layout.
	if req.IssueDate != "" {
		draft.IssueDate, _ = time.ParseInLocation(utils.DateLayout, req.IssueDate, h.svc.Location())
	}
	if req.DueDate != "" {
		draft.DueDate, _ = time.ParseInLocation(utils.DateLayout, req.DueDate, h.svc.Location())
	}

	inv, err := h.svc.CreateInvoice(r.Context(), draft)
	if errors.Is(err, invoice.ErrCustomerNotFound) {
		utils.RespondValidation(w, map[string]string{"customerId": "unknown customer"})
		return
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/accounting/invoices/"+inv.ID)
	utils.RespondJSON(w, http.StatusCreated, inv)
}

func (h *Handler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.svc.GetInvoice(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, inv)
}

func (h *Handler) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteInvoice(r.Context(), chi.URLParam(r, "invoiceID")); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondDecodeError(w, err)
		return
	}

	inv, err := h.svc.UpdateStatus(r.Context(), chi.URLParam(r, "invoiceID"), invoice.Status(req.Status), time.Time{})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, inv)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	from, err := utils.QueryDate(r, "from")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := utils.QueryDate(r, "to")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.svc.Dashboard(r.Context(), from, to)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, summary)
}

func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *accountingService.ValidationError
	switch {
	case errors.As(err, &verr):
		utils.RespondValidation(w, verr.Fields)
	case errors.Is(err, accountingService.ErrInvalidRange):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, invoice.ErrNotFound), errors.Is(err, invoice.ErrCustomerNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, invoice.ErrInvalidTransition), errors.Is(err, invoice.ErrNotDraft):
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("accounting request failed")
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
