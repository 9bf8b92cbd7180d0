package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"officehub/internal/office/models"
	"officehub/pkg/platform/sentinel"
	"officehub/pkg/requestcontext"
)

// rootKey is the adjacency key under which root offices are listed.
const rootKey = ""

// tenantState is one tenant's office forest: an identifier index plus a
// parent -> ordered child identifiers adjacency list.
type tenantState struct {
	offices   map[string]*models.Office
	children  map[string][]string
	employees map[string]*models.Employee
	assigned  map[string]int
}

func newTenantState() *tenantState {
	return &tenantState{
		offices:   make(map[string]*models.Office),
		children:  make(map[string][]string),
		employees: make(map[string]*models.Employee),
		assigned:  make(map[string]int),
	}
}

// InMemory stores offices per tenant. Each method is individually safe for
// concurrent use; multi-step invariants are serialized by the service's
// RunInTx.
type InMemory struct {
	mu      sync.RWMutex
	tenants map[string]*tenantState
}

func NewInMemory() *InMemory {
	return &InMemory{tenants: make(map[string]*tenantState)}
}

// state returns the tenant namespace for ctx, creating it when create is set.
// Caller must hold s.mu.
func (s *InMemory) state(ctx context.Context, create bool) *tenantState {
	tenant := requestcontext.Tenant(ctx)
	ts, ok := s.tenants[tenant]
	if !ok && create {
		ts = newTenantState()
		s.tenants[tenant] = ts
	}
	return ts
}

func (s *InMemory) Insert(ctx context.Context, office *models.Office) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.state(ctx, true)
	if _, exists := ts.offices[office.Identifier]; exists {
		return sentinel.ErrAlreadyUsed
	}
	if office.IsBranch() {
		if _, ok := ts.offices[office.ParentIdentifier]; !ok {
			return sentinel.ErrNotFound
		}
	}

	stored := office.Clone()
	stored.RecomputeExternalReferences(0, 0)
	ts.offices[stored.Identifier] = stored
	ts.children[stored.ParentIdentifier] = append(ts.children[stored.ParentIdentifier], stored.Identifier)
	if stored.IsBranch() {
		ts.recompute(stored.ParentIdentifier)
	}
	return nil
}

func (s *InMemory) FindByIdentifier(ctx context.Context, identifier string) (*models.Office, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts := s.state(ctx, false)
	if ts == nil {
		return nil, sentinel.ErrNotFound
	}
	office, ok := ts.offices[identifier]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return office.Clone(), nil
}

func (s *InMemory) UpdateDetails(ctx context.Context, office *models.Office) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.lookup(ctx, office.Identifier)
	if err != nil {
		return err
	}
	stored.Name = office.Name
	stored.Description = office.Description
	stored.LastModifiedBy = office.LastModifiedBy
	stored.LastModifiedOn = office.LastModifiedOn
	return nil
}

func (s *InMemory) Delete(ctx context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.state(ctx, false)
	if ts == nil {
		return sentinel.ErrNotFound
	}
	office, ok := ts.offices[identifier]
	if !ok {
		return sentinel.ErrNotFound
	}
	if len(ts.children[identifier]) > 0 || ts.assigned[identifier] > 0 {
		return sentinel.ErrInvalidState
	}

	delete(ts.offices, identifier)
	delete(ts.children, identifier)
	delete(ts.assigned, identifier)
	parent := office.ParentIdentifier
	ts.children[parent] = removeID(ts.children[parent], identifier)
	if office.IsBranch() {
		ts.recompute(parent)
	}
	return nil
}

func (s *InMemory) SetAddress(ctx context.Context, identifier string, address models.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.lookup(ctx, identifier)
	if err != nil {
		return err
	}
	stored.Address = &address
	return nil
}

// FindAddress returns the office address, or ErrNotFound when the office is
// absent or has none.
func (s *InMemory) FindAddress(ctx context.Context, identifier string) (*models.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, err := s.lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if stored.Address == nil {
		return nil, sentinel.ErrNotFound
	}
	address := *stored.Address
	return &address, nil
}

func (s *InMemory) DeleteAddress(ctx context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.lookup(ctx, identifier)
	if err != nil {
		return err
	}
	stored.Address = nil
	return nil
}

func (s *InMemory) UpsertExternalReference(ctx context.Context, identifier string, ref models.ExternalReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.state(ctx, false)
	if ts == nil {
		return sentinel.ErrNotFound
	}
	stored, ok := ts.offices[identifier]
	if !ok {
		return sentinel.ErrNotFound
	}
	stored.UpsertReference(ref)
	ts.recompute(identifier)
	return nil
}

func (s *InMemory) CountChildren(ctx context.Context, identifier string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.lookup(ctx, identifier); err != nil {
		return 0, err
	}
	return len(s.state(ctx, false).children[identifier]), nil
}

func (s *InMemory) CountEmployees(ctx context.Context, identifier string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.lookup(ctx, identifier); err != nil {
		return 0, err
	}
	return s.state(ctx, false).assigned[identifier], nil
}

func (s *InMemory) ListChildren(ctx context.Context, parent string, page models.PageRequest) ([]*models.Office, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts := s.state(ctx, false)
	if ts == nil {
		return nil, 0, sentinel.ErrNotFound
	}
	if _, ok := ts.offices[parent]; !ok {
		return nil, 0, sentinel.ErrNotFound
	}
	return ts.page(ts.children[parent], page), int64(len(ts.children[parent])), nil
}

func (s *InMemory) ListRoots(ctx context.Context, page models.PageRequest) ([]*models.Office, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts := s.state(ctx, false)
	if ts == nil {
		return nil, 0, nil
	}
	ids := ts.children[rootKey]
	if term := strings.ToLower(strings.TrimSpace(page.Term)); term != "" {
		filtered := make([]string, 0, len(ids))
		for _, id := range ids {
			o := ts.offices[id]
			if strings.Contains(strings.ToLower(o.Identifier), term) || strings.Contains(strings.ToLower(o.Name), term) {
				filtered = append(filtered, id)
			}
		}
		ids = filtered
	}
	return ts.page(ids, page), int64(len(ids)), nil
}

func (s *InMemory) InsertEmployee(ctx context.Context, employee *models.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.state(ctx, true)
	if _, exists := ts.employees[employee.Identifier]; exists {
		return sentinel.ErrAlreadyUsed
	}
	if employee.AssignedOffice != "" {
		if _, ok := ts.offices[employee.AssignedOffice]; !ok {
			return sentinel.ErrNotFound
		}
	}
	stored := *employee
	ts.employees[stored.Identifier] = &stored
	if stored.AssignedOffice != "" {
		ts.assigned[stored.AssignedOffice]++
		ts.recompute(stored.AssignedOffice)
	}
	return nil
}

func (s *InMemory) FindEmployee(ctx context.Context, identifier string) (*models.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts := s.state(ctx, false)
	if ts == nil {
		return nil, sentinel.ErrNotFound
	}
	employee, ok := ts.employees[identifier]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	found := *employee
	return &found, nil
}

func (s *InMemory) DeleteEmployee(ctx context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.state(ctx, false)
	if ts == nil {
		return sentinel.ErrNotFound
	}
	employee, ok := ts.employees[identifier]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(ts.employees, identifier)
	if office := employee.AssignedOffice; office != "" {
		ts.assigned[office]--
		if ts.assigned[office] <= 0 {
			delete(ts.assigned, office)
		}
		ts.recompute(office)
	}
	return nil
}

// Checkpoint snapshots the tenant in ctx. The returned restore puts the
// snapshot back, dropping every write made in between.
func (s *InMemory) Checkpoint(ctx context.Context) func() {
	s.mu.RLock()
	tenant := requestcontext.Tenant(ctx)
	snapshot := s.tenants[tenant].clone()
	s.mu.RUnlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if snapshot == nil {
			delete(s.tenants, tenant)
			return
		}
		s.tenants[tenant] = snapshot
	}
}

// clone deep-copies the tenant state; a nil state clones to nil.
func (ts *tenantState) clone() *tenantState {
	if ts == nil {
		return nil
	}
	c := newTenantState()
	for id, o := range ts.offices {
		c.offices[id] = o.Clone()
	}
	for parent, ids := range ts.children {
		c.children[parent] = append([]string(nil), ids...)
	}
	for id, e := range ts.employees {
		employee := *e
		c.employees[id] = &employee
	}
	for id, n := range ts.assigned {
		c.assigned[id] = n
	}
	return c
}

// lookup returns the live office pointer. Caller must hold s.mu.
func (s *InMemory) lookup(ctx context.Context, identifier string) (*models.Office, error) {
	ts := s.state(ctx, false)
	if ts == nil {
		return nil, sentinel.ErrNotFound
	}
	stored, ok := ts.offices[identifier]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return stored, nil
}

// recompute refreshes the derived flag of one office from the adjacency list,
// the employee counts and its references.
func (ts *tenantState) recompute(identifier string) {
	office, ok := ts.offices[identifier]
	if !ok {
		return
	}
	office.RecomputeExternalReferences(len(ts.children[identifier]), ts.assigned[identifier])
}

func (ts *tenantState) page(ids []string, p models.PageRequest) []*models.Office {
	offices := make([]*models.Office, 0, len(ids))
	for _, id := range ids {
		offices = append(offices, ts.offices[id])
	}
	sort.SliceStable(offices, func(i, j int) bool {
		if p.SortDirection == models.SortDesc {
			return sortsBefore(offices[j], offices[i], p.SortColumn)
		}
		return sortsBefore(offices[i], offices[j], p.SortColumn)
	})

	start := p.Offset()
	if start < 0 || start >= len(offices) {
		return []*models.Office{}
	}
	end := start + min(p.Size, len(offices)-start)
	out := make([]*models.Office, 0, end-start)
	for _, o := range offices[start:end] {
		out = append(out, o.Clone())
	}
	return out
}

// sortsBefore orders by col and breaks ties on the identifier.
func sortsBefore(a, b *models.Office, col models.SortColumn) bool {
	switch col {
	case models.SortByName:
		if a.Name != b.Name {
			return a.Name < b.Name
		}
	case models.SortByDescription:
		if a.Description != b.Description {
			return a.Description < b.Description
		}
	case models.SortByCreatedOn:
		if !a.CreatedOn.Equal(b.CreatedOn) {
			return a.CreatedOn.Before(b.CreatedOn)
		}
	}
	return a.Identifier < b.Identifier
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
