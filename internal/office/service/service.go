package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"officehub/internal/events"
	officemetrics "officehub/internal/office/metrics"
	"officehub/internal/office/models"
	dErrors "officehub/pkg/domain-errors"
	"officehub/pkg/platform/sentinel"
	"officehub/pkg/requestcontext"
)

// Store is the tenant-scoped persistence the service orchestrates. The tenant
// is read from the context by every implementation.
type Store interface {
	Insert(ctx context.Context, office *models.Office) error
	FindByIdentifier(ctx context.Context, identifier string) (*models.Office, error)
	UpdateDetails(ctx context.Context, office *models.Office) error
	Delete(ctx context.Context, identifier string) error
	SetAddress(ctx context.Context, identifier string, address models.Address) error
	FindAddress(ctx context.Context, identifier string) (*models.Address, error)
	DeleteAddress(ctx context.Context, identifier string) error
	UpsertExternalReference(ctx context.Context, identifier string, ref models.ExternalReference) error
	CountChildren(ctx context.Context, identifier string) (int, error)
	CountEmployees(ctx context.Context, identifier string) (int, error)
	ListChildren(ctx context.Context, parent string, page models.PageRequest) ([]*models.Office, int64, error)
	ListRoots(ctx context.Context, page models.PageRequest) ([]*models.Office, int64, error)
	InsertEmployee(ctx context.Context, employee *models.Employee) error
	FindEmployee(ctx context.Context, identifier string) (*models.Employee, error)
	DeleteEmployee(ctx context.Context, identifier string) error
}

// Service orchestrates the office hierarchy. Every mutation runs inside Tx and
// emits exactly one event as its last step, so a failed command emits nothing.
type Service struct {
	store   Store
	emitter events.Emitter
	tx      Tx
	logger  *slog.Logger
	metrics *officemetrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithTx(tx Tx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *officemetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// New constructs a Service. Without WithTx mutations are serialized per
// tenant by an in-memory sharded lock, rolled back through the store when it
// implements Checkpointer.
func New(store Store, emitter events.Emitter, opts ...Option) *Service {
	s := &Service{
		store:   store,
		emitter: emitter,
		logger:  slog.Default(),
		tracer:  otel.Tracer("officehub/office"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		checkpointer, _ := store.(Checkpointer)
		s.tx = NewShardedTx(checkpointer)
	}
	return s
}

// CreateOffice inserts a new office. A parent identifier in the input must
// name an existing office.
func (s *Service) CreateOffice(ctx context.Context, input *models.Office) (*models.Office, error) {
	var created *models.Office
	err := s.mutate(ctx, "create_office", func(ctx context.Context) error {
		office, err := newOffice(ctx, input)
		if err != nil {
			return err
		}
		office.ParentIdentifier = input.ParentIdentifier
		if err := s.store.Insert(ctx, office); err != nil {
			return wrapInsertErr(err, office)
		}
		created = office
		return s.emit(ctx, models.EventPostOffice, office.Identifier)
	})
	if err != nil {
		return nil, err
	}
	s.incrementCreated()
	return created, nil
}

// AddBranch creates input as a direct child of parent. The parent is locked
// for the duration of the insert so a concurrent delete cannot orphan it.
func (s *Service) AddBranch(ctx context.Context, parent string, input *models.Office) (*models.Office, error) {
	var created *models.Office
	err := s.mutate(ctx, "add_branch", func(ctx context.Context) error {
		if _, err := s.findOffice(ctx, parent); err != nil {
			return err
		}
		if input.Identifier == parent {
			return dErrors.New(dErrors.CodeConflict, "branch identifier "+parent+" is already used by its parent")
		}
		office, err := newOffice(ctx, input)
		if err != nil {
			return err
		}
		office.ParentIdentifier = parent
		if err := s.store.Insert(ctx, office); err != nil {
			return wrapInsertErr(err, office)
		}
		created = office
		return s.emit(ctx, models.EventPostOffice, office.Identifier)
	})
	if err != nil {
		return nil, err
	}
	s.incrementCreated()
	return created, nil
}

// UpdateOffice replaces name and description. The identifier in input, when
// present, must equal identifier.
func (s *Service) UpdateOffice(ctx context.Context, identifier string, input *models.Office) (*models.Office, error) {
	var updated *models.Office
	err := s.mutate(ctx, "update_office", func(ctx context.Context) error {
		if input.Identifier != "" && input.Identifier != identifier {
			return dErrors.New(dErrors.CodeBadRequest, "identifier mismatch")
		}
		office, err := s.findOffice(ctx, identifier)
		if err != nil {
			return err
		}
		if err := models.ValidateDetails(input.Name, input.Description); err != nil {
			return asValidation(err)
		}
		office.ApplyDetails(input.Name, input.Description, requestcontext.User(ctx), requestcontext.Now(ctx))
		if err := s.store.UpdateDetails(ctx, office); err != nil {
			return wrapStoreErr(err, "office "+identifier+" not found", "failed to update office")
		}
		updated = office
		return s.emit(ctx, models.EventPutOffice, identifier)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteOffice removes an office that nothing references any more.
func (s *Service) DeleteOffice(ctx context.Context, identifier string) error {
	err := s.mutate(ctx, "delete_office", func(ctx context.Context) error {
		office, err := s.findOffice(ctx, identifier)
		if err != nil {
			return err
		}
		if err := office.CanDelete(); err != nil {
			return s.explainReferences(ctx, office, err)
		}
		if err := s.store.Delete(ctx, identifier); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				return dErrors.New(dErrors.CodeChildrenExist, "office "+identifier+" still has branches or employees")
			}
			return wrapStoreErr(err, "office "+identifier+" not found", "failed to delete office")
		}
		return s.emit(ctx, models.EventDeleteOffice, identifier)
	})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.IncrementOfficesDeleted()
	}
	return nil
}

// SetAddress creates or replaces the address of an office.
func (s *Service) SetAddress(ctx context.Context, identifier string, address models.Address) error {
	return s.mutate(ctx, "set_address", func(ctx context.Context) error {
		if err := address.Validate(); err != nil {
			return asValidation(err)
		}
		if _, err := s.findOffice(ctx, identifier); err != nil {
			return err
		}
		if err := s.store.SetAddress(ctx, identifier, address); err != nil {
			return wrapStoreErr(err, "office "+identifier+" not found", "failed to set address")
		}
		return s.emit(ctx, models.EventPutAddress, identifier)
	})
}

// GetAddress returns the address of an office, NotFound when either is absent.
func (s *Service) GetAddress(ctx context.Context, identifier string) (*models.Address, error) {
	var address *models.Address
	err := s.run(ctx, "get_address", func(ctx context.Context) error {
		found, err := s.store.FindAddress(ctx, identifier)
		if err != nil {
			return wrapStoreErr(err, "address of office "+identifier+" not found", "failed to load address")
		}
		address = found
		return nil
	})
	return address, err
}

// DeleteAddress clears the address. Clearing an absent address succeeds.
func (s *Service) DeleteAddress(ctx context.Context, identifier string) error {
	return s.mutate(ctx, "delete_address", func(ctx context.Context) error {
		if _, err := s.findOffice(ctx, identifier); err != nil {
			return err
		}
		if err := s.store.DeleteAddress(ctx, identifier); err != nil {
			return wrapStoreErr(err, "office "+identifier+" not found", "failed to delete address")
		}
		return s.emit(ctx, models.EventDeleteAddress, identifier)
	})
}

// AddExternalReference upserts ref by type and refreshes the derived flag.
func (s *Service) AddExternalReference(ctx context.Context, identifier string, ref models.ExternalReference) error {
	return s.mutate(ctx, "add_external_reference", func(ctx context.Context) error {
		ref.Type = strings.TrimSpace(ref.Type)
		if ref.Type == "" {
			return dErrors.New(dErrors.CodeValidation, "reference type is required")
		}
		if !ref.State.IsValid() {
			return dErrors.New(dErrors.CodeValidation, "reference state must be ACTIVE or INACTIVE")
		}
		if _, err := s.findOffice(ctx, identifier); err != nil {
			return err
		}
		if err := s.store.UpsertExternalReference(ctx, identifier, ref); err != nil {
			return wrapStoreErr(err, "office "+identifier+" not found", "failed to store external reference")
		}
		return s.emit(ctx, models.EventPutReference, identifier)
	})
}

// ListBranches pages through the direct children of parent.
func (s *Service) ListBranches(ctx context.Context, parent string, page models.PageRequest) (*models.OfficePage, error) {
	var result *models.OfficePage
	err := s.run(ctx, "list_branches", func(ctx context.Context) error {
		offices, total, err := s.store.ListChildren(ctx, parent, page)
		if err != nil {
			return wrapStoreErr(err, "office "+parent+" not found", "failed to list branches")
		}
		result = models.NewOfficePage(offices, total, page)
		return nil
	})
	return result, err
}

// ListOffices pages through root offices, filtered by page.Term when set.
func (s *Service) ListOffices(ctx context.Context, page models.PageRequest) (*models.OfficePage, error) {
	var result *models.OfficePage
	err := s.run(ctx, "list_offices", func(ctx context.Context) error {
		offices, total, err := s.store.ListRoots(ctx, page)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list offices")
		}
		result = models.NewOfficePage(offices, total, page)
		return nil
	})
	return result, err
}

func (s *Service) FindByIdentifier(ctx context.Context, identifier string) (*models.Office, error) {
	var office *models.Office
	err := s.run(ctx, "find_office", func(ctx context.Context) error {
		found, err := s.findOffice(ctx, identifier)
		office = found
		return err
	})
	return office, err
}

// CreateEmployee registers an employee, optionally assigned to an office.
func (s *Service) CreateEmployee(ctx context.Context, input *models.Employee) (*models.Employee, error) {
	var created *models.Employee
	err := s.mutate(ctx, "create_employee", func(ctx context.Context) error {
		employee, err := models.NewEmployee(
			input.Identifier, input.GivenName, input.MiddleName, input.Surname, input.AssignedOffice,
			requestcontext.User(ctx), requestcontext.Now(ctx),
		)
		if err != nil {
			return asValidation(err)
		}
		if employee.AssignedOffice != "" {
			if _, err := s.findOffice(ctx, employee.AssignedOffice); err != nil {
				return err
			}
		}
		if err := s.store.InsertEmployee(ctx, employee); err != nil {
			switch {
			case errors.Is(err, sentinel.ErrAlreadyUsed):
				return dErrors.New(dErrors.CodeConflict, "employee "+employee.Identifier+" already exists")
			case errors.Is(err, sentinel.ErrNotFound):
				return dErrors.New(dErrors.CodeNotFound, "office "+employee.AssignedOffice+" not found")
			default:
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create employee")
			}
		}
		created = employee
		return s.emit(ctx, models.EventPostEmployee, employee.Identifier)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Service) FindEmployee(ctx context.Context, identifier string) (*models.Employee, error) {
	var employee *models.Employee
	err := s.run(ctx, "find_employee", func(ctx context.Context) error {
		found, err := s.store.FindEmployee(ctx, identifier)
		if err != nil {
			return wrapStoreErr(err, "employee "+identifier+" not found", "failed to load employee")
		}
		employee = found
		return nil
	})
	return employee, err
}

// DeleteEmployee removes an employee and releases its office assignment.
func (s *Service) DeleteEmployee(ctx context.Context, identifier string) error {
	return s.mutate(ctx, "delete_employee", func(ctx context.Context) error {
		if err := s.store.DeleteEmployee(ctx, identifier); err != nil {
			return wrapStoreErr(err, "employee "+identifier+" not found", "failed to delete employee")
		}
		return s.emit(ctx, models.EventDeleteEmployee, identifier)
	})
}

func (s *Service) findOffice(ctx context.Context, identifier string) (*models.Office, error) {
	office, err := s.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, wrapStoreErr(err, "office "+identifier+" not found", "failed to load office")
	}
	return office, nil
}

// explainReferences turns a ChildrenExist error into one naming what still
// points at the office.
func (s *Service) explainReferences(ctx context.Context, office *models.Office, cause error) error {
	branches, err := s.store.CountChildren(ctx, office.Identifier)
	if err != nil {
		return cause
	}
	employees, err := s.store.CountEmployees(ctx, office.Identifier)
	if err != nil {
		return cause
	}
	return dErrors.New(dErrors.CodeChildrenExist, fmt.Sprintf(
		"office %s is still referenced: %d branches, %d employees, active external reference: %t",
		office.Identifier, branches, employees, office.HasActiveReference(),
	))
}

func (s *Service) emit(ctx context.Context, eventType, identifier string) error {
	if err := s.emitter.Emit(ctx, events.New(ctx, eventType, identifier)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to emit "+eventType)
	}
	return nil
}

// mutate runs fn as one transaction.
func (s *Service) mutate(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return s.run(ctx, op, func(ctx context.Context) error {
		return s.tx.RunInTx(ctx, fn)
	})
}

// run wraps one operation with tenant enforcement, a span, metrics and error
// logging.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	tenant := requestcontext.Tenant(ctx)
	ctx, span := s.tracer.Start(ctx, "office."+op,
		trace.WithAttributes(attribute.String("office.tenant", tenant)),
	)
	defer span.End()

	var err error
	if tenant == "" {
		err = dErrors.New(dErrors.CodeUnauthorized, "tenant is required")
	} else {
		err = fn(ctx)
	}

	if s.metrics != nil {
		s.metrics.ObserveOperation(op, start)
	}
	if err == nil {
		return nil
	}

	code := dErrors.CodeOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))
	if s.metrics != nil {
		s.metrics.IncrementFailure(op, string(code))
	}
	if code == dErrors.CodeInternal {
		s.logger.ErrorContext(ctx, "office operation failed",
			"operation", op,
			"tenant", tenant,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	return err
}

func (s *Service) incrementCreated() {
	if s.metrics != nil {
		s.metrics.IncrementOfficesCreated()
	}
}

func newOffice(ctx context.Context, input *models.Office) (*models.Office, error) {
	office, err := models.NewOffice(input.Identifier, input.Name, input.Description,
		requestcontext.User(ctx), requestcontext.Now(ctx))
	if err != nil {
		return nil, asValidation(err)
	}
	if input.Address != nil {
		if err := input.Address.Validate(); err != nil {
			return nil, asValidation(err)
		}
		address := *input.Address
		office.Address = &address
	}
	return office, nil
}

func wrapInsertErr(err error, office *models.Office) error {
	switch {
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeConflict, "office "+office.Identifier+" already exists")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "parent office "+office.ParentIdentifier+" not found")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create office")
	}
}

func wrapStoreErr(err error, notFound, internal string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, notFound)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, internal)
}

// asValidation converts invariant violations to validation errors for the API.
func asValidation(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	return err
}
