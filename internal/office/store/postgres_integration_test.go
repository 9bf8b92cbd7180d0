//go:build integration

package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"officehub/internal/office/models"
	"officehub/internal/office/store"
	"officehub/pkg/platform/sentinel"
	"officehub/pkg/requestcontext"
	"officehub/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
	tx       *store.PostgresTx
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.tx = store.NewPostgresTx(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.ctx = requestcontext.WithTenant(context.Background(), "acme")
	err := s.postgres.TruncateTables(context.Background(),
		"outbox", "employees", "office_external_references", "office_addresses", "offices")
	s.Require().NoError(err)
}

func newTestOffice(identifier, parent string) *models.Office {
	o, _ := models.NewOffice(identifier, "Office "+identifier, "", "tester", time.Now().UTC().Truncate(time.Microsecond))
	o.ParentIdentifier = parent
	return o
}

func (s *PostgresStoreSuite) insert(identifier, parent string) {
	s.Require().NoError(s.store.Insert(s.ctx, newTestOffice(identifier, parent)))
}

func (s *PostgresStoreSuite) find(identifier string) *models.Office {
	o, err := s.store.FindByIdentifier(s.ctx, identifier)
	s.Require().NoError(err)
	return o
}

func (s *PostgresStoreSuite) TestInsertAndFind() {
	office := newTestOffice("hq", "")
	office.Address = &models.Address{Street: "1 Main St", City: "Vienna", CountryCode: "AT", Country: "Austria"}
	s.Require().NoError(s.store.Insert(s.ctx, office))

	found := s.find("hq")
	s.Equal(office.Name, found.Name)
	s.Require().NotNil(found.Address)
	s.Equal("Vienna", found.Address.City)

	s.ErrorIs(s.store.Insert(s.ctx, newTestOffice("hq", "")), sentinel.ErrAlreadyUsed)
	s.ErrorIs(s.store.Insert(s.ctx, newTestOffice("orphan", "missing")), sentinel.ErrNotFound)

	other := requestcontext.WithTenant(context.Background(), "globex")
	_, err := s.store.FindByIdentifier(other, "hq")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestDerivedReferences() {
	s.insert("hq", "")
	s.insert("north", "hq")
	s.True(s.find("hq").HasExternalReferences)

	s.ErrorIs(s.store.Delete(s.ctx, "hq"), sentinel.ErrInvalidState)
	s.Require().NoError(s.store.Delete(s.ctx, "north"))
	s.False(s.find("hq").HasExternalReferences)

	ref := models.ExternalReference{Type: "loans", State: models.ReferenceStateActive}
	s.Require().NoError(s.store.UpsertExternalReference(s.ctx, "hq", ref))
	s.True(s.find("hq").HasExternalReferences)

	ref.State = models.ReferenceStateInactive
	s.Require().NoError(s.store.UpsertExternalReference(s.ctx, "hq", ref))
	found := s.find("hq")
	s.False(found.HasExternalReferences)
	s.Equal([]models.ExternalReference{ref}, found.ExternalReferences)

	emp, err := models.NewEmployee("jdoe", "Jane", "", "Doe", "hq", "tester", time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.InsertEmployee(s.ctx, emp))
	s.True(s.find("hq").HasExternalReferences)
	s.ErrorIs(s.store.Delete(s.ctx, "hq"), sentinel.ErrInvalidState)

	s.Require().NoError(s.store.DeleteEmployee(s.ctx, "jdoe"))
	s.False(s.find("hq").HasExternalReferences)
	s.Require().NoError(s.store.Delete(s.ctx, "hq"))
}

func (s *PostgresStoreSuite) TestAddress() {
	s.insert("hq", "")
	address := models.Address{Street: "1 Main St", City: "Vienna", Region: "W", CountryCode: "AT", Country: "Austria"}

	s.Require().NoError(s.store.SetAddress(s.ctx, "hq", address))
	address.City = "Graz"
	s.Require().NoError(s.store.SetAddress(s.ctx, "hq", address))

	found, err := s.store.FindAddress(s.ctx, "hq")
	s.Require().NoError(err)
	s.Equal(address, *found)

	s.Require().NoError(s.store.DeleteAddress(s.ctx, "hq"))
	_, err = s.store.FindAddress(s.ctx, "hq")
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.ErrorIs(s.store.SetAddress(s.ctx, "missing", address), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestPaging() {
	s.insert("hq", "")
	for _, id := range []string{"c", "a", "e", "b", "d"} {
		s.insert(id, "hq")
	}
	s.insert("grandchild", "a")

	page := models.PageRequest{Index: 1, Size: 2, SortColumn: models.SortByIdentifier, SortDirection: models.SortDesc}
	offices, total, err := s.store.ListChildren(s.ctx, "hq", page)
	s.Require().NoError(err)
	s.EqualValues(5, total)
	s.Require().Len(offices, 2)
	s.Equal("c", offices[0].Identifier)
	s.Equal("b", offices[1].Identifier)

	_, _, err = s.store.ListChildren(s.ctx, "missing", page)
	s.ErrorIs(err, sentinel.ErrNotFound)

	roots, total, err := s.store.ListRoots(s.ctx, models.PageRequest{Size: 10, SortColumn: models.SortByName, Term: "HQ"})
	s.Require().NoError(err)
	s.EqualValues(1, total)
	s.Equal("hq", roots[0].Identifier)
}

// TestConcurrentBranchAndDelete verifies that adding a branch and deleting its
// parent under row locks never leaves an orphan.
func (s *PostgresStoreSuite) TestConcurrentBranchAndDelete() {
	const rounds = 20
	for i := 0; i < rounds; i++ {
		parent := fmt.Sprintf("p%d", i)
		s.insert(parent, "")

		var wg sync.WaitGroup
		var branched, deleted atomic.Int32
		wg.Add(2)
		go func() {
			defer wg.Done()
			err := s.tx.RunInTx(s.ctx, func(ctx context.Context) error {
				if _, err := s.store.FindByIdentifier(ctx, parent); err != nil {
					return err
				}
				return s.store.Insert(ctx, newTestOffice(parent+"-b", parent))
			})
			if err == nil {
				branched.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			err := s.tx.RunInTx(s.ctx, func(ctx context.Context) error {
				office, err := s.store.FindByIdentifier(ctx, parent)
				if err != nil {
					return err
				}
				if office.HasExternalReferences {
					return sentinel.ErrInvalidState
				}
				return s.store.Delete(ctx, parent)
			})
			if err == nil {
				deleted.Add(1)
			} else if !errors.Is(err, sentinel.ErrInvalidState) && !errors.Is(err, sentinel.ErrNotFound) {
				s.T().Errorf("unexpected delete error: %v", err)
			}
		}()
		wg.Wait()

		s.Equal(int32(1), branched.Load()+deleted.Load(), "exactly one of branch or delete wins")
	}
}

func (s *PostgresStoreSuite) TestRollbackDiscardsWrites() {
	boom := errors.New("boom")
	err := s.tx.RunInTx(s.ctx, func(ctx context.Context) error {
		if err := s.store.Insert(ctx, newTestOffice("temp", "")); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.store.FindByIdentifier(s.ctx, "temp")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
