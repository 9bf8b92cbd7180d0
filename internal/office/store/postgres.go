package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"officehub/internal/office/models"
	"officehub/pkg/platform/sentinel"
	txcontext "officehub/pkg/platform/tx"
	"officehub/pkg/requestcontext"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var officeColumns = []string{
	"o.identifier", "o.parent_identifier", "o.name", "o.description",
	"o.has_external_references", "o.created_by", "o.created_on",
	"o.last_modified_by", "o.last_modified_on",
	"a.street", "a.city", "a.region", "a.postal_code", "a.country_code", "a.country",
}

var sortColumns = map[models.SortColumn]string{
	models.SortByIdentifier:  "o.identifier",
	models.SortByName:        "o.name",
	models.SortByDescription: "o.description",
	models.SortByCreatedOn:   "o.created_on",
}

// recomputeSQL refreshes the derived flag of one office from its branches,
// its assigned employees and its ACTIVE references.
const recomputeSQL = `
	UPDATE offices o SET has_external_references =
		EXISTS (SELECT 1 FROM offices c WHERE c.tenant_id = o.tenant_id AND c.parent_identifier = o.identifier)
		OR EXISTS (SELECT 1 FROM employees e WHERE e.tenant_id = o.tenant_id AND e.assigned_office = o.identifier)
		OR EXISTS (SELECT 1 FROM office_external_references r
			WHERE r.tenant_id = o.tenant_id AND r.office_identifier = o.identifier AND r.state = 'ACTIVE')
	WHERE o.tenant_id = $1 AND o.identifier = $2
`

// Postgres persists offices in tenant-scoped tables. Inside a transaction
// opened by PostgresTx, office reads take row locks so that parent lookup and
// child insert, reference recomputation and deletion are serialized.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) exec(ctx context.Context) txcontext.Executor {
	return txcontext.ExecutorFrom(ctx, s.db)
}

func (s *Postgres) Insert(ctx context.Context, office *models.Office) error {
	tenant := requestcontext.Tenant(ctx)
	query, args, err := psql.Insert("offices").
		Columns("tenant_id", "identifier", "parent_identifier", "name", "description",
			"created_by", "created_on", "last_modified_by", "last_modified_on").
		Values(tenant, office.Identifier, nullable(office.ParentIdentifier), office.Name, office.Description,
			office.CreatedBy, office.CreatedOn, office.LastModifiedBy, office.LastModifiedOn).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert office: %w", err)
	}
	if _, err := s.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		return mapPQError(err, "insert office")
	}

	if office.Address != nil {
		if err := s.SetAddress(ctx, office.Identifier, *office.Address); err != nil {
			return err
		}
	}
	if office.ParentIdentifier != "" {
		return s.recompute(ctx, office.ParentIdentifier)
	}
	return nil
}

func (s *Postgres) FindByIdentifier(ctx context.Context, identifier string) (*models.Office, error) {
	builder := selectOffices(ctx).Where(sq.Eq{"o.identifier": identifier})
	if _, inTx := txcontext.From(ctx); inTx {
		builder = builder.Suffix("FOR UPDATE OF o")
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find office: %w", err)
	}

	office, err := scanOffice(s.exec(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find office: %w", err)
	}

	refs, err := s.references(ctx, identifier)
	if err != nil {
		return nil, err
	}
	office.ExternalReferences = refs
	return office, nil
}

func (s *Postgres) UpdateDetails(ctx context.Context, office *models.Office) error {
	query, args, err := psql.Update("offices").
		Set("name", office.Name).
		Set("description", office.Description).
		Set("last_modified_by", office.LastModifiedBy).
		Set("last_modified_on", office.LastModifiedOn).
		Where(sq.Eq{"tenant_id": requestcontext.Tenant(ctx), "identifier": office.Identifier}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update office: %w", err)
	}
	res, err := s.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update office: %w", err)
	}
	return requireAffected(res)
}

func (s *Postgres) Delete(ctx context.Context, identifier string) error {
	query, args, err := psql.Delete("offices").
		Where(sq.Eq{"tenant_id": requestcontext.Tenant(ctx), "identifier": identifier}).
		Suffix("RETURNING parent_identifier").
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete office: %w", err)
	}

	var parent sql.NullString
	err = s.exec(ctx).QueryRowContext(ctx, query, args...).Scan(&parent)
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if isPQCode(err, pqForeignKeyViolation) {
		return sentinel.ErrInvalidState
	}
	if err != nil {
		return fmt.Errorf("delete office: %w", err)
	}
	if parent.Valid {
		return s.recompute(ctx, parent.String)
	}
	return nil
}

func (s *Postgres) SetAddress(ctx context.Context, identifier string, address models.Address) error {
	query, args, err := psql.Insert("office_addresses").
		Columns("tenant_id", "office_identifier", "street", "city", "region", "postal_code", "country_code", "country").
		Values(requestcontext.Tenant(ctx), identifier, address.Street, address.City, address.Region,
			address.PostalCode, address.CountryCode, address.Country).
		Suffix(`ON CONFLICT (tenant_id, office_identifier) DO UPDATE SET
			street = EXCLUDED.street, city = EXCLUDED.city, region = EXCLUDED.region,
			postal_code = EXCLUDED.postal_code, country_code = EXCLUDED.country_code, country = EXCLUDED.country`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set address: %w", err)
	}
	if _, err := s.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		return mapPQError(err, "set address")
	}
	return nil
}

func (s *Postgres) FindAddress(ctx context.Context, identifier string) (*models.Address, error) {
	if err := s.requireOffice(ctx, identifier); err != nil {
		return nil, err
	}
	query, args, err := psql.Select("street", "city", "region", "postal_code", "country_code", "country").
		From("office_addresses").
		Where(sq.Eq{"tenant_id": requestcontext.Tenant(ctx), "office_identifier": identifier}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find address: %w", err)
	}
	var a models.Address
	err = s.exec(ctx).QueryRowContext(ctx, query, args...).Scan(
		&a.Street, &a.City, &a.Region, &a.PostalCode, &a.CountryCode, &a.Country,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find address: %w", err)
	}
	return &a, nil
}

func (s *Postgres) DeleteAddress(ctx context.Context, identifier string) error {
	if err := s.requireOffice(ctx, identifier); err != nil {
		return err
	}
	query, args, err := psql.Delete("office_addresses").
		Where(sq.Eq{"tenant_id": requestcontext.Tenant(ctx), "office_identifier": identifier}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete address: %w", err)
	}
	if _, err := s.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete address: %w", err)
	}
	return nil
}

func (s *Postgres) UpsertExternalReference(ctx context.Context, identifier string, ref models.ExternalReference) error {
	query, args, err := psql.Insert("office_external_references").
		Columns("tenant_id", "office_identifier", "type", "state").
		Values(requestcontext.Tenant(ctx), identifier, ref.Type, string(ref.State)).
		Suffix("ON CONFLICT (tenant_id, office_identifier, type) DO UPDATE SET state = EXCLUDED.state").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert reference: %w", err)
	}
	if _, err := s.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		return mapPQError(err, "upsert reference")
	}
	return s.recompute(ctx, identifier)
}

func (s *Postgres) CountChildren(ctx context.Context, identifier string) (int, error) {
	return s.count(ctx, identifier, "offices", "parent_identifier")
}

func (s *Postgres) CountEmployees(ctx context.Context, identifier string) (int, error) {
	return s.count(ctx, identifier, "employees", "assigned_office")
}

func (s *Postgres) count(ctx context.Context, identifier, table, column string) (int, error) {
	if err := s.requireOffice(ctx, identifier); err != nil {
		return 0, err
	}
	query, args, err := psql.Select("COUNT(*)").From(table).
		Where(sq.Eq{"tenant_id": requestcontext.Tenant(ctx), column: identifier}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count %s: %w", table, err)
	}
	var n int
	if err := s.exec(ctx).QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *Postgres) ListChildren(ctx context.Context, parent string, page models.PageRequest) ([]*models.Office, int64, error) {
	if err := s.requireOffice(ctx, parent); err != nil {
		return nil, 0, err
	}
	return s.list(ctx, sq.Eq{"o.parent_identifier": parent}, page)
}

func (s *Postgres) ListRoots(ctx context.Context, page models.PageRequest) ([]*models.Office, int64, error) {
	var where sq.Sqlizer = sq.Eq{"o.parent_identifier": nil}
	if page.Term != "" {
		like := "%" + page.Term + "%"
		where = sq.And{where, sq.Or{sq.ILike{"o.identifier": like}, sq.ILike{"o.name": like}}}
	}
	return s.list(ctx, where, page)
}

func (s *Postgres) list(ctx context.Context, where sq.Sqlizer, page models.PageRequest) ([]*models.Office, int64, error) {
	tenant := requestcontext.Tenant(ctx)

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("offices o").
		Where(sq.Eq{"o.tenant_id": tenant}).Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count offices: %w", err)
	}
	var total int64
	if err := s.exec(ctx).QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count offices: %w", err)
	}

	direction := "ASC"
	if page.SortDirection == models.SortDesc {
		direction = "DESC"
	}
	column, ok := sortColumns[page.SortColumn]
	if !ok {
		column = sortColumns[models.SortByIdentifier]
	}
	query, args, err := selectOffices(ctx).Where(where).
		OrderBy(column+" "+direction, "o.identifier "+direction).
		Limit(uint64(page.Size)).
		Offset(uint64(page.Offset())).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list offices: %w", err)
	}

	rows, err := s.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list offices: %w", err)
	}
	defer rows.Close()

	offices := make([]*models.Office, 0, page.Size)
	for rows.Next() {
		office, err := scanOffice(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan office: %w", err)
		}
		offices = append(offices, office)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate offices: %w", err)
	}
	return offices, total, nil
}

func (s *Postgres) InsertEmployee(ctx context.Context, employee *models.Employee) error {
	query, args, err := psql.Insert("employees").
		Columns("tenant_id", "identifier", "given_name", "middle_name", "surname",
			"assigned_office", "created_by", "created_on").
		Values(requestcontext.Tenant(ctx), employee.Identifier, employee.GivenName, employee.MiddleName,
			employee.Surname, nullable(employee.AssignedOffice), employee.CreatedBy, employee.CreatedOn).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert employee: %w", err)
	}
	if _, err := s.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		return mapPQError(err, "insert employee")
	}
	if employee.AssignedOffice != "" {
		return s.recompute(ctx, employee.AssignedOffice)
	}
	return nil
}

func (s *Postgres) FindEmployee(ctx context.Context, identifier string) (*models.Employee, error) {
	query, args, err := psql.Select("identifier", "given_name", "middle_name", "surname",
		"assigned_office", "created_by", "created_on").
		From("employees").
		Where(sq.Eq{"tenant_id": requestcontext.Tenant(ctx), "identifier": identifier}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find employee: %w", err)
	}

	var (
		e      models.Employee
		office sql.NullString
	)
	err = s.exec(ctx).QueryRowContext(ctx, query, args...).Scan(
		&e.Identifier, &e.GivenName, &e.MiddleName, &e.Surname, &office, &e.CreatedBy, &e.CreatedOn,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find employee: %w", err)
	}
	e.AssignedOffice = office.String
	return &e, nil
}

func (s *Postgres) DeleteEmployee(ctx context.Context, identifier string) error {
	query, args, err := psql.Delete("employees").
		Where(sq.Eq{"tenant_id": requestcontext.Tenant(ctx), "identifier": identifier}).
		Suffix("RETURNING assigned_office").
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete employee: %w", err)
	}
	var office sql.NullString
	err = s.exec(ctx).QueryRowContext(ctx, query, args...).Scan(&office)
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete employee: %w", err)
	}
	if office.Valid {
		return s.recompute(ctx, office.String)
	}
	return nil
}

func (s *Postgres) recompute(ctx context.Context, identifier string) error {
	if _, err := s.exec(ctx).ExecContext(ctx, recomputeSQL, requestcontext.Tenant(ctx), identifier); err != nil {
		return fmt.Errorf("recompute external references: %w", err)
	}
	return nil
}

func (s *Postgres) requireOffice(ctx context.Context, identifier string) error {
	query, args, err := psql.Select("1").From("offices").
		Where(sq.Eq{"tenant_id": requestcontext.Tenant(ctx), "identifier": identifier}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build office lookup: %w", err)
	}
	var one int
	err = s.exec(ctx).QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("office lookup: %w", err)
	}
	return nil
}

func (s *Postgres) references(ctx context.Context, identifier string) ([]models.ExternalReference, error) {
	query, args, err := psql.Select("type", "state").From("office_external_references").
		Where(sq.Eq{"tenant_id": requestcontext.Tenant(ctx), "office_identifier": identifier}).
		OrderBy("type").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list references: %w", err)
	}
	rows, err := s.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	defer rows.Close()

	var refs []models.ExternalReference
	for rows.Next() {
		var (
			ref   models.ExternalReference
			state string
		)
		if err := rows.Scan(&ref.Type, &state); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		ref.State = models.ReferenceState(state)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate references: %w", err)
	}
	return refs, nil
}

func selectOffices(ctx context.Context) sq.SelectBuilder {
	return psql.Select(officeColumns...).
		From("offices o").
		LeftJoin("office_addresses a ON a.tenant_id = o.tenant_id AND a.office_identifier = o.identifier").
		Where(sq.Eq{"o.tenant_id": requestcontext.Tenant(ctx)})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOffice(row rowScanner) (*models.Office, error) {
	var (
		o                                                      models.Office
		parent                                                 sql.NullString
		street, city, region, postalCode, countryCode, country sql.NullString
	)
	err := row.Scan(
		&o.Identifier, &parent, &o.Name, &o.Description,
		&o.HasExternalReferences, &o.CreatedBy, &o.CreatedOn,
		&o.LastModifiedBy, &o.LastModifiedOn,
		&street, &city, &region, &postalCode, &countryCode, &country,
	)
	if err != nil {
		return nil, err
	}
	o.ParentIdentifier = parent.String
	if street.Valid {
		o.Address = &models.Address{
			Street:      street.String,
			City:        city.String,
			Region:      region.String,
			PostalCode:  postalCode.String,
			CountryCode: countryCode.String,
			Country:     country.String,
		}
	}
	return &o, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isPQCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

// mapPQError turns constraint violations into sentinel errors: a duplicate key
// means the identifier is taken, a dangling foreign key means the referenced
// office does not exist.
func mapPQError(err error, op string) error {
	switch {
	case isPQCode(err, pqUniqueViolation):
		return sentinel.ErrAlreadyUsed
	case isPQCode(err, pqForeignKeyViolation):
		return sentinel.ErrNotFound
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
