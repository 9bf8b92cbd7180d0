package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"officehub/internal/office/models"
	dErrors "officehub/pkg/domain-errors"
	"officehub/pkg/platform/httputil"
	"officehub/pkg/requestcontext"
)

// Service defines the office operations exposed over HTTP.
type Service interface {
	CreateOffice(ctx context.Context, input *models.Office) (*models.Office, error)
	AddBranch(ctx context.Context, parent string, input *models.Office) (*models.Office, error)
	UpdateOffice(ctx context.Context, identifier string, input *models.Office) (*models.Office, error)
	DeleteOffice(ctx context.Context, identifier string) error
	FindByIdentifier(ctx context.Context, identifier string) (*models.Office, error)
	ListOffices(ctx context.Context, page models.PageRequest) (*models.OfficePage, error)
	ListBranches(ctx context.Context, parent string, page models.PageRequest) (*models.OfficePage, error)
	SetAddress(ctx context.Context, identifier string, address models.Address) error
	GetAddress(ctx context.Context, identifier string) (*models.Address, error)
	DeleteAddress(ctx context.Context, identifier string) error
	AddExternalReference(ctx context.Context, identifier string, ref models.ExternalReference) error
	CreateEmployee(ctx context.Context, input *models.Employee) (*models.Employee, error)
	FindEmployee(ctx context.Context, identifier string) (*models.Employee, error)
	DeleteEmployee(ctx context.Context, identifier string) error
}

// EventWaiter blocks until an event for identifier has been observed.
type EventWaiter interface {
	Wait(ctx context.Context, eventType, identifier string) bool
}

// CommandAccepted is the body of every 202 response. Clients wait for Event
// on Identifier to learn the command has completed.
type CommandAccepted struct {
	Event      string `json:"event"`
	Identifier string `json:"identifier"`
}

// Handler wires office endpoints to the office service.
type Handler struct {
	service Service
	waiter  EventWaiter
	logger  *slog.Logger
}

// New constructs an office handler. waiter may be nil, which disables the
// events endpoint.
func New(service Service, waiter EventWaiter, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		waiter:  waiter,
		logger:  logger,
	}
}

// Register mounts the office endpoints on r. Tenant resolution and
// authentication are applied by the caller.
func (h *Handler) Register(r chi.Router) {
	r.Route("/office/v1", func(r chi.Router) {
		r.Route("/offices", func(r chi.Router) {
			r.Post("/", h.HandleCreateOffice)
			r.Get("/", h.HandleListOffices)
			r.Route("/{identifier}", func(r chi.Router) {
				r.Get("/", h.HandleGetOffice)
				r.Put("/", h.HandleUpdateOffice)
				r.Delete("/", h.HandleDeleteOffice)
				r.Post("/branches", h.HandleAddBranch)
				r.Get("/branches", h.HandleListBranches)
				r.Put("/address", h.HandleSetAddress)
				r.Get("/address", h.HandleGetAddress)
				r.Delete("/address", h.HandleDeleteAddress)
				r.Put("/references", h.HandleAddReference)
			})
		})
		r.Post("/employees", h.HandleCreateEmployee)
		r.Get("/employees/{identifier}", h.HandleGetEmployee)
		r.Delete("/employees/{identifier}", h.HandleDeleteEmployee)
		if h.waiter != nil {
			r.Get("/events/{type}/{identifier}", h.HandleWaitEvent)
		}
	})
}

func (h *Handler) HandleCreateOffice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[OfficeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	office, err := h.service.CreateOffice(ctx, req.ToModel())
	if err != nil {
		h.fail(w, r, "create office failed", err)
		return
	}
	h.accepted(w, models.EventPostOffice, office.Identifier)
}

func (h *Handler) HandleListOffices(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.service.ListOffices(r.Context(), page)
	if err != nil {
		h.fail(w, r, "list offices failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleGetOffice(w http.ResponseWriter, r *http.Request) {
	office, err := h.service.FindByIdentifier(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		h.fail(w, r, "get office failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, office)
}

// HandleUpdateOffice handles PUT /offices/{identifier}. A body naming a
// different identifier is rejected as an identifier mismatch.
func (h *Handler) HandleUpdateOffice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := chi.URLParam(r, "identifier")
	req, ok := httputil.DecodeAndPrepare[UpdateOfficeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if _, err := h.service.UpdateOffice(ctx, identifier, req.ToModel()); err != nil {
		h.fail(w, r, "update office failed", err)
		return
	}
	h.accepted(w, models.EventPutOffice, identifier)
}

func (h *Handler) HandleDeleteOffice(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if err := h.service.DeleteOffice(r.Context(), identifier); err != nil {
		h.fail(w, r, "delete office failed", err)
		return
	}
	h.accepted(w, models.EventDeleteOffice, identifier)
}

// HandleAddBranch handles POST /offices/{identifier}/branches. The path
// parent always wins over a parentIdentifier in the body.
func (h *Handler) HandleAddBranch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	parent := chi.URLParam(r, "identifier")
	req, ok := httputil.DecodeAndPrepare[OfficeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if req.ParentIdentifier != "" && req.ParentIdentifier != parent {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "identifier mismatch"))
		return
	}
	branch, err := h.service.AddBranch(ctx, parent, req.ToModel())
	if err != nil {
		h.fail(w, r, "add branch failed", err)
		return
	}
	h.accepted(w, models.EventPostOffice, branch.Identifier)
}

func (h *Handler) HandleListBranches(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.service.ListBranches(r.Context(), chi.URLParam(r, "identifier"), page)
	if err != nil {
		h.fail(w, r, "list branches failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleSetAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := chi.URLParam(r, "identifier")
	req, ok := httputil.DecodeAndPrepare[AddressRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.SetAddress(ctx, identifier, req.ToModel()); err != nil {
		h.fail(w, r, "set address failed", err)
		return
	}
	h.accepted(w, models.EventPutAddress, identifier)
}

func (h *Handler) HandleGetAddress(w http.ResponseWriter, r *http.Request) {
	address, err := h.service.GetAddress(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		h.fail(w, r, "get address failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, address)
}

func (h *Handler) HandleDeleteAddress(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if err := h.service.DeleteAddress(r.Context(), identifier); err != nil {
		h.fail(w, r, "delete address failed", err)
		return
	}
	h.accepted(w, models.EventDeleteAddress, identifier)
}

func (h *Handler) HandleAddReference(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := chi.URLParam(r, "identifier")
	req, ok := httputil.DecodeAndPrepare[ReferenceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	ref, err := req.ToModel()
	if err != nil {
		h.fail(w, r, "add external reference failed", err)
		return
	}
	if err := h.service.AddExternalReference(ctx, identifier, ref); err != nil {
		h.fail(w, r, "add external reference failed", err)
		return
	}
	h.accepted(w, models.EventPutReference, identifier)
}

func (h *Handler) HandleCreateEmployee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[EmployeeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	employee, err := h.service.CreateEmployee(ctx, req.ToModel())
	if err != nil {
		h.fail(w, r, "create employee failed", err)
		return
	}
	h.accepted(w, models.EventPostEmployee, employee.Identifier)
}

func (h *Handler) HandleGetEmployee(w http.ResponseWriter, r *http.Request) {
	employee, err := h.service.FindEmployee(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		h.fail(w, r, "get employee failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, employee)
}

func (h *Handler) HandleDeleteEmployee(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if err := h.service.DeleteEmployee(r.Context(), identifier); err != nil {
		h.fail(w, r, "delete employee failed", err)
		return
	}
	h.accepted(w, models.EventDeleteEmployee, identifier)
}

// HandleWaitEvent blocks until the named event has been observed and answers
// 200, or 504 once the wait gives up.
func (h *Handler) HandleWaitEvent(w http.ResponseWriter, r *http.Request) {
	eventType := chi.URLParam(r, "type")
	identifier := chi.URLParam(r, "identifier")
	if !h.waiter.Wait(r.Context(), eventType, identifier) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeTimeout, "no "+eventType+" event observed for "+identifier))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CommandAccepted{Event: eventType, Identifier: identifier})
}

func (h *Handler) accepted(w http.ResponseWriter, eventType, identifier string) {
	httputil.WriteJSON(w, http.StatusAccepted, CommandAccepted{Event: eventType, Identifier: identifier})
}

// fail writes err. Client errors were already classified by the service, so
// only the request context is logged here.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	h.logger.WarnContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"tenant", requestcontext.Tenant(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}

// parsePage reads page, size, sortColumn, sortDirection and term.
func parsePage(r *http.Request) (models.PageRequest, error) {
	q := r.URL.Query()
	index, err := intParam(q.Get("page"), "page")
	if err != nil {
		return models.PageRequest{}, err
	}
	size, err := intParam(q.Get("size"), "size")
	if err != nil {
		return models.PageRequest{}, err
	}
	page, err := models.NewPageRequest(index, size, q.Get("sortColumn"), q.Get("sortDirection"))
	if err != nil {
		return models.PageRequest{}, dErrors.New(dErrors.CodeBadRequest, dErrors.MessageOf(err))
	}
	page.Term = q.Get("term")
	return page, nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeBadRequest, name+" must be an integer")
	}
	return v, nil
}
