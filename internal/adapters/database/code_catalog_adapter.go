package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/pgvector/pgvector-go"
	"github.com/zatekoja/codelookup/internal/domain/entities"
	"github.com/zatekoja/codelookup/internal/domain/repositories"
	"github.com/zatekoja/codelookup/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/codelookup/pkg/errors"
)

const codeEntriesTable = "code_entries"

// codeEntryColumns is the select list shared by every code entry query; scanCodeEntry reads it in order
var codeEntryColumns = []interface{}{
	goqu.I("ce.code"),
	goqu.I("ce.code_system"),
	goqu.I("ce.version_year"),
	goqu.I("ce.license_status"),
	goqu.I("ce.open_description"),
	goqu.I("ce.licensed_description"),
	goqu.I("ce.long_descriptor"),
	goqu.I("ce.short_descriptor"),
	goqu.I("ce.category"),
	goqu.I("ce.procedure_type"),
	goqu.I("ce.is_active"),
	goqu.I("ce.effective_date"),
	goqu.I("ce.expiry_date"),
	goqu.L(`"ce"."embedding" IS NOT NULL`).As("has_embedding"),
}

// CodeCatalogAdapter implements CodeCatalogRepository
type CodeCatalogAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewCodeCatalogAdapter creates a new code catalog adapter
func NewCodeCatalogAdapter(client *postgres.Client) repositories.CodeCatalogRepository {
	return &CodeCatalogAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

func (a *CodeCatalogAdapter) baseQuery() *goqu.SelectDataset {
	return a.db.From(goqu.T(codeEntriesTable).As("ce")).Select(codeEntryColumns...)
}

// applyCodeFilter adds the active/system/year predicates every branch shares
func applyCodeFilter(ds *goqu.SelectDataset, filter repositories.CodeFilter) *goqu.SelectDataset {
	if !filter.IncludeInactive {
		ds = ds.Where(goqu.I("ce.is_active").IsTrue())
	}
	if filter.CodeSystem != nil {
		ds = ds.Where(goqu.I("ce.code_system").Eq(string(*filter.CodeSystem)))
	}
	if filter.VersionYear != nil {
		ds = ds.Where(goqu.I("ce.version_year").Eq(*filter.VersionYear))
	}
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}
	return ds
}

func catalogOrder(ds *goqu.SelectDataset) *goqu.SelectDataset {
	return ds.Order(goqu.I("ce.code").Asc(), goqu.I("ce.code_system").Asc(), goqu.I("ce.version_year").Desc())
}

// Find lists entries matching the filter
func (a *CodeCatalogAdapter) Find(ctx context.Context, filter repositories.CodeFilter) ([]*entities.CodeEntry, error) {
	ds := catalogOrder(applyCodeFilter(a.baseQuery(), filter))
	return a.queryEntries(ctx, ds, "failed to find code entries")
}

// FindByIdentity retrieves one entry by its full identity; inactive entries are included
func (a *CodeCatalogAdapter) FindByIdentity(ctx context.Context, code string, system entities.CodeSystem, versionYear int) (*entities.CodeEntry, error) {
	ds := a.baseQuery().Where(goqu.Ex{
		"ce.code":         code,
		"ce.code_system":  string(system),
		"ce.version_year": versionYear,
	})
	return a.queryEntry(ctx, ds, fmt.Sprintf("code %s (%s, %d) not found", code, system, versionYear))
}

// FindLatest retrieves the entry with the largest version year for (code, system)
func (a *CodeCatalogAdapter) FindLatest(ctx context.Context, code string, system entities.CodeSystem) (*entities.CodeEntry, error) {
	ds := a.baseQuery().
		Where(goqu.Ex{
			"ce.code":        code,
			"ce.code_system": string(system),
		}).
		Order(goqu.I("ce.version_year").Desc()).
		Limit(1)
	return a.queryEntry(ctx, ds, fmt.Sprintf("code %s (%s) not found", code, system))
}

// SearchByCodePrefix matches entries whose code starts with prefix
func (a *CodeCatalogAdapter) SearchByCodePrefix(ctx context.Context, prefix string, filter repositories.CodeFilter) ([]*entities.CodeEntry, error) {
	ds := a.baseQuery().Where(goqu.I("ce.code").ILike(escapeLike(prefix) + "%"))
	ds = catalogOrder(applyCodeFilter(ds, filter))
	return a.queryEntries(ctx, ds, "failed to search codes by prefix")
}

// SearchBySubstring matches term against code, open description, licensed description or category
func (a *CodeCatalogAdapter) SearchBySubstring(ctx context.Context, term string, filter repositories.CodeFilter) ([]*entities.CodeEntry, error) {
	pattern := "%" + escapeLike(term) + "%"
	ds := a.baseQuery().Where(goqu.Or(
		goqu.I("ce.code").ILike(pattern),
		goqu.I("ce.open_description").ILike(pattern),
		goqu.I("ce.licensed_description").ILike(pattern),
		goqu.I("ce.category").ILike(pattern),
	))
	ds = catalogOrder(applyCodeFilter(ds, filter))
	return a.queryEntries(ctx, ds, "failed to search codes by keyword")
}

// NearestBySimilarity ranks entries with an embedding by cosine similarity to vector
func (a *CodeCatalogAdapter) NearestBySimilarity(ctx context.Context, vector []float32, filter repositories.CodeFilter, minSimilarity float64) ([]entities.ScoredEntry, error) {
	if len(vector) == 0 {
		return nil, apperrors.NewValidationError("query vector is empty")
	}

	similarity := goqu.L(`1 - ("ce"."embedding" <=> ?::vector)`, pgvector.NewVector(vector))

	columns := append(append([]interface{}{}, codeEntryColumns...), similarity.As("similarity"))
	ds := a.db.From(goqu.T(codeEntriesTable).As("ce")).
		Select(columns...).
		Where(
			goqu.I("ce.embedding").IsNotNull(),
			similarity.Gte(minSimilarity),
		).
		Order(similarity.Desc(), goqu.I("ce.code").Asc(), goqu.I("ce.code_system").Asc(), goqu.I("ce.version_year").Desc())
	ds = applyCodeFilter(ds, filter)

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build similarity query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to run similarity search", err)
	}
	defer rows.Close()

	results := make([]entities.ScoredEntry, 0)
	for rows.Next() {
		var sim float64
		entry, err := scanCodeEntry(rows, &sim)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan code entry", err)
		}
		// A zero-norm stored vector yields NaN, which Postgres orders above every number
		if math.IsNaN(sim) {
			continue
		}
		results = append(results, entities.ScoredEntry{Entry: entry, Similarity: math.Min(1, sim)})
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("error iterating similarity results", err)
	}

	return results, nil
}

// FindByFacets joins entries with facets on (code, code_system) and applies every constraint
func (a *CodeCatalogAdapter) FindByFacets(ctx context.Context, filter repositories.FacetFilter) ([]*entities.CodeEntry, error) {
	ds := a.baseQuery().
		Join(
			goqu.T(codeFacetsTable).As("cf"),
			goqu.On(
				goqu.I("cf.code").Eq(goqu.I("ce.code")),
				goqu.I("cf.code_system").Eq(goqu.I("ce.code_system")),
			),
		).
		Where(facetConstraintExpressions(filter.Constraints)...)

	ds = catalogOrder(applyCodeFilter(ds, repositories.CodeFilter{
		CodeSystem:  filter.CodeSystem,
		VersionYear: filter.VersionYear,
		Limit:       filter.Limit,
	}))
	return a.queryEntries(ctx, ds, "failed to run faceted search")
}

func facetConstraintExpressions(c entities.FacetConstraints) []exp.Expression {
	exprs := make([]exp.Expression, 0)
	addString := func(column string, value *string) {
		if value != nil {
			exprs = append(exprs, goqu.I("cf."+column).Eq(*value))
		}
	}

	addString("body_region", c.BodyRegion)
	addString("body_system", c.BodySystem)
	addString("procedure_category", c.ProcedureCategory)
	addString("complexity_level", c.ComplexityLevel)
	addString("service_location", c.ServiceLocation)
	addString("em_level", c.EMLevel)
	addString("em_patient_type", c.EMPatientType)
	addString("imaging_modality", c.ImagingModality)
	if c.IsMajorSurgery != nil {
		exprs = append(exprs, goqu.I("cf.is_major_surgery").Eq(*c.IsMajorSurgery))
	}

	return exprs
}

func (a *CodeCatalogAdapter) queryEntries(ctx context.Context, ds *goqu.SelectDataset, failMsg string) ([]*entities.CodeEntry, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError(failMsg, err)
	}
	defer rows.Close()

	entries := make([]*entities.CodeEntry, 0)
	for rows.Next() {
		entry, err := scanCodeEntry(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan code entry", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("error iterating code entries", err)
	}

	return entries, nil
}

func (a *CodeCatalogAdapter) queryEntry(ctx context.Context, ds *goqu.SelectDataset, notFoundMsg string) (*entities.CodeEntry, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	entry, err := scanCodeEntry(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(notFoundMsg)
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get code entry", err)
	}
	return entry, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanCodeEntry reads codeEntryColumns followed by any extra destinations
func scanCodeEntry(row rowScanner, extra ...interface{}) (*entities.CodeEntry, error) {
	entry := &entities.CodeEntry{}
	var (
		codeSystem, licenseStatus         string
		licensedDesc, longDesc, shortDesc sql.NullString
		category, procedureType           sql.NullString
		effectiveDate, expiryDate         sql.NullTime
	)

	dest := []interface{}{
		&entry.Code,
		&codeSystem,
		&entry.VersionYear,
		&licenseStatus,
		&entry.OpenDescription,
		&licensedDesc,
		&longDesc,
		&shortDesc,
		&category,
		&procedureType,
		&entry.IsActive,
		&effectiveDate,
		&expiryDate,
		&entry.HasEmbedding,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	entry.CodeSystem = entities.CodeSystem(codeSystem)
	entry.LicenseStatus = entities.LicenseStatus(licenseStatus)
	entry.LicensedDescription = nullStringPtr(licensedDesc)
	entry.LongDescriptor = nullStringPtr(longDesc)
	entry.ShortDescriptor = nullStringPtr(shortDesc)
	entry.Category = category.String
	entry.ProcedureType = procedureType.String
	if effectiveDate.Valid {
		t := effectiveDate.Time
		entry.EffectiveDate = &t
	}
	if expiryDate.Valid {
		t := expiryDate.Time
		entry.ExpiryDate = &t
	}

	return entry, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes user input match literally inside an ILIKE pattern
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
