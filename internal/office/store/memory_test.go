package store

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"officehub/internal/office/models"
	"officehub/pkg/platform/sentinel"
	"officehub/pkg/requestcontext"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTenant(context.Background(), "acme")
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) newOffice(identifier, parent string) *models.Office {
	o, err := models.NewOffice(identifier, "Office "+identifier, "", "tester", s.now)
	s.Require().NoError(err)
	o.ParentIdentifier = parent
	s.now = s.now.Add(time.Minute)
	return o
}

func (s *InMemoryStoreSuite) insert(identifier, parent string) {
	s.Require().NoError(s.store.Insert(s.ctx, s.newOffice(identifier, parent)))
}

func (s *InMemoryStoreSuite) find(identifier string) *models.Office {
	o, err := s.store.FindByIdentifier(s.ctx, identifier)
	s.Require().NoError(err)
	return o
}

// TestInsertAndFind verifies identifier uniqueness and parent existence.
func (s *InMemoryStoreSuite) TestInsertAndFind() {
	s.Run("creates and finds office", func() {
		s.insert("hq", "")
		found := s.find("hq")
		s.Equal("Office hq", found.Name)
		s.False(found.HasExternalReferences)
	})

	s.Run("rejects duplicate identifier", func() {
		err := s.store.Insert(s.ctx, s.newOffice("hq", ""))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("rejects unknown parent", func() {
		err := s.store.Insert(s.ctx, s.newOffice("orphan", "missing"))
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, err = s.store.FindByIdentifier(s.ctx, "orphan")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returns copies", func() {
		found := s.find("hq")
		found.Name = "mutated"
		s.Equal("Office hq", s.find("hq").Name)
	})
}

func (s *InMemoryStoreSuite) TestTenantIsolation() {
	s.insert("hq", "")

	other := requestcontext.WithTenant(context.Background(), "globex")
	_, err := s.store.FindByIdentifier(other, "hq")
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.Insert(other, s.newOffice("hq", "")))
	offices, total, err := s.store.ListRoots(other, models.PageRequest{Size: 10})
	s.Require().NoError(err)
	s.EqualValues(1, total)
	s.Len(offices, 1)
}

// TestDerivedReferences verifies the parent flag follows branches, employees
// and ACTIVE references.
func (s *InMemoryStoreSuite) TestDerivedReferences() {
	s.Run("branch marks parent", func() {
		s.insert("hq", "")
		s.insert("north", "hq")
		s.True(s.find("hq").HasExternalReferences)
		s.False(s.find("north").HasExternalReferences)
	})

	s.Run("deleting last branch clears parent", func() {
		s.Require().NoError(s.store.Delete(s.ctx, "north"))
		s.False(s.find("hq").HasExternalReferences)
	})

	s.Run("active reference marks office, inactive clears it", func() {
		ref := models.ExternalReference{Type: "loans", State: models.ReferenceStateActive}
		s.Require().NoError(s.store.UpsertExternalReference(s.ctx, "hq", ref))
		s.True(s.find("hq").HasExternalReferences)

		ref.State = models.ReferenceStateInactive
		s.Require().NoError(s.store.UpsertExternalReference(s.ctx, "hq", ref))
		found := s.find("hq")
		s.False(found.HasExternalReferences)
		s.Len(found.ExternalReferences, 1)
	})

	s.Run("employee marks assigned office", func() {
		emp, err := models.NewEmployee("jdoe", "Jane", "", "Doe", "hq", "tester", s.now)
		s.Require().NoError(err)
		s.Require().NoError(s.store.InsertEmployee(s.ctx, emp))
		s.True(s.find("hq").HasExternalReferences)

		n, err := s.store.CountEmployees(s.ctx, "hq")
		s.Require().NoError(err)
		s.Equal(1, n)

		s.Require().NoError(s.store.DeleteEmployee(s.ctx, "jdoe"))
		s.False(s.find("hq").HasExternalReferences)
	})
}

func (s *InMemoryStoreSuite) TestDelete() {
	s.insert("hq", "")
	s.insert("north", "hq")

	s.Run("refuses office with branches", func() {
		s.ErrorIs(s.store.Delete(s.ctx, "hq"), sentinel.ErrInvalidState)
	})

	s.Run("refuses office with employees", func() {
		emp, err := models.NewEmployee("jdoe", "Jane", "", "Doe", "north", "tester", s.now)
		s.Require().NoError(err)
		s.Require().NoError(s.store.InsertEmployee(s.ctx, emp))
		s.ErrorIs(s.store.Delete(s.ctx, "north"), sentinel.ErrInvalidState)
		s.Require().NoError(s.store.DeleteEmployee(s.ctx, "jdoe"))
	})

	s.Run("deletes leaf then root", func() {
		s.Require().NoError(s.store.Delete(s.ctx, "north"))
		s.Require().NoError(s.store.Delete(s.ctx, "hq"))
		_, err := s.store.FindByIdentifier(s.ctx, "hq")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("unknown office", func() {
		s.ErrorIs(s.store.Delete(s.ctx, "hq"), sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestAddress() {
	s.insert("hq", "")
	address := models.Address{Street: "1 Main St", City: "Vienna", CountryCode: "AT", Country: "Austria"}

	s.Run("set then find", func() {
		s.Require().NoError(s.store.SetAddress(s.ctx, "hq", address))
		found, err := s.store.FindAddress(s.ctx, "hq")
		s.Require().NoError(err)
		s.Equal(address, *found)
	})

	s.Run("delete then find reports not found", func() {
		s.Require().NoError(s.store.DeleteAddress(s.ctx, "hq"))
		_, err := s.store.FindAddress(s.ctx, "hq")
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.Require().NoError(s.store.DeleteAddress(s.ctx, "hq"))
	})

	s.Run("unknown office", func() {
		s.ErrorIs(s.store.SetAddress(s.ctx, "missing", address), sentinel.ErrNotFound)
		s.ErrorIs(s.store.DeleteAddress(s.ctx, "missing"), sentinel.ErrNotFound)
	})
}

// TestPaging verifies direct-children totals, sorting and page windows.
func (s *InMemoryStoreSuite) TestPaging() {
	s.insert("hq", "")
	for _, id := range []string{"c", "a", "e", "b", "d"} {
		s.insert(id, "hq")
	}
	s.insert("grandchild", "a")

	s.Run("totals count direct children only", func() {
		offices, total, err := s.store.ListChildren(s.ctx, "hq", models.PageRequest{Size: 2, SortColumn: models.SortByIdentifier, SortDirection: models.SortAsc})
		s.Require().NoError(err)
		s.EqualValues(5, total)
		s.Require().Len(offices, 2)
		s.Equal("a", offices[0].Identifier)
		s.Equal("b", offices[1].Identifier)
	})

	s.Run("descending second page", func() {
		offices, _, err := s.store.ListChildren(s.ctx, "hq", models.PageRequest{Index: 1, Size: 2, SortColumn: models.SortByIdentifier, SortDirection: models.SortDesc})
		s.Require().NoError(err)
		s.Require().Len(offices, 2)
		s.Equal("c", offices[0].Identifier)
		s.Equal("b", offices[1].Identifier)
	})

	s.Run("sort by creation time", func() {
		offices, _, err := s.store.ListChildren(s.ctx, "hq", models.PageRequest{Size: 10, SortColumn: models.SortByCreatedOn, SortDirection: models.SortAsc})
		s.Require().NoError(err)
		ids := make([]string, 0, len(offices))
		for _, o := range offices {
			ids = append(ids, o.Identifier)
		}
		s.Equal([]string{"c", "a", "e", "b", "d"}, ids)
	})

	s.Run("page past the end is empty", func() {
		offices, total, err := s.store.ListChildren(s.ctx, "hq", models.PageRequest{Index: 9, Size: 2})
		s.Require().NoError(err)
		s.EqualValues(5, total)
		s.Empty(offices)
	})

	s.Run("huge index is an empty page", func() {
		offices, total, err := s.store.ListChildren(s.ctx, "hq", models.PageRequest{Index: math.MaxInt, Size: 20})
		s.Require().NoError(err)
		s.EqualValues(5, total)
		s.Empty(offices)
	})

	s.Run("unknown parent", func() {
		_, _, err := s.store.ListChildren(s.ctx, "missing", models.PageRequest{Size: 2})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("roots filtered by term", func() {
		s.insert("branchless", "")
		offices, total, err := s.store.ListRoots(s.ctx, models.PageRequest{Size: 10, Term: "BRANCH"})
		s.Require().NoError(err)
		s.EqualValues(1, total)
		s.Equal("branchless", offices[0].Identifier)
	})

	s.Run("children count", func() {
		n, err := s.store.CountChildren(s.ctx, "hq")
		s.Require().NoError(err)
		s.Equal(5, n)
	})
}

func (s *InMemoryStoreSuite) TestEmployees() {
	s.insert("hq", "")

	emp, err := models.NewEmployee("jdoe", "Jane", "Q", "Doe", "hq", "tester", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.InsertEmployee(s.ctx, emp))
	s.ErrorIs(s.store.InsertEmployee(s.ctx, emp), sentinel.ErrAlreadyUsed)

	found, err := s.store.FindEmployee(s.ctx, "jdoe")
	s.Require().NoError(err)
	s.Equal("hq", found.AssignedOffice)

	stray, err := models.NewEmployee("stray", "Sam", "", "Ray", "missing", "tester", s.now)
	s.Require().NoError(err)
	s.ErrorIs(s.store.InsertEmployee(s.ctx, stray), sentinel.ErrNotFound)

	s.Require().NoError(s.store.DeleteEmployee(s.ctx, "jdoe"))
	s.ErrorIs(s.store.DeleteEmployee(s.ctx, "jdoe"), sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestCheckpointRestore() {
	s.insert("hq", "")
	restore := s.store.Checkpoint(s.ctx)

	s.insert("north", "hq")
	ref := models.ExternalReference{Type: "loans", State: models.ReferenceStateActive}
	s.Require().NoError(s.store.UpsertExternalReference(s.ctx, "hq", ref))
	s.Require().NoError(s.store.SetAddress(s.ctx, "hq", models.Address{Street: "1 Main St", City: "Vienna", CountryCode: "AT", Country: "Austria"}))
	restore()

	hq := s.find("hq")
	s.False(hq.HasExternalReferences)
	s.Empty(hq.ExternalReferences)
	s.Nil(hq.Address)
	_, err := s.store.FindByIdentifier(s.ctx, "north")
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Run("restoring an unseen tenant removes it", func() {
		other := requestcontext.WithTenant(context.Background(), "globex")
		restore := s.store.Checkpoint(other)
		s.Require().NoError(s.store.Insert(other, s.newOffice("hq", "")))
		restore()
		_, err := s.store.FindByIdentifier(other, "hq")
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.find("hq")
	})
}
