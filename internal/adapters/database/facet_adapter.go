package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/lib/pq"
	"github.com/zatekoja/codelookup/internal/domain/entities"
	"github.com/zatekoja/codelookup/internal/domain/repositories"
	"github.com/zatekoja/codelookup/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/codelookup/pkg/errors"
)

const codeFacetsTable = "code_facets"

// FacetAdapter implements FacetRepository
type FacetAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewFacetAdapter creates a new facet adapter
func NewFacetAdapter(client *postgres.Client) repositories.FacetRepository {
	return &FacetAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

func (a *FacetAdapter) baseQuery() *goqu.SelectDataset {
	return a.db.From(codeFacetsTable).Select(
		"code",
		"code_system",
		"body_region",
		"body_system",
		"procedure_category",
		"complexity_level",
		"service_location",
		"em_level",
		"em_patient_type",
		"is_major_surgery",
		"surgical_approach",
		"imaging_modality",
		"extensions",
	)
}

// GetByCode retrieves the facet for (code, system)
func (a *FacetAdapter) GetByCode(ctx context.Context, code string, system entities.CodeSystem) (*entities.Facet, error) {
	query, args, err := a.baseQuery().Where(goqu.Ex{
		"code":        code,
		"code_system": string(system),
	}).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	facet, err := scanFacet(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get facet", err)
	}
	return facet, nil
}

// ListByCodes retrieves the facets for many codes
func (a *FacetAdapter) ListByCodes(ctx context.Context, keys []entities.CodeKey) (map[entities.CodeKey]*entities.Facet, error) {
	result := make(map[entities.CodeKey]*entities.Facet)
	if len(keys) == 0 {
		return result, nil
	}

	query, args, err := a.baseQuery().Where(codeKeysExpression("code", "code_system", keys)).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list facets", err)
	}
	defer rows.Close()

	for rows.Next() {
		facet, err := scanFacet(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan facet", err)
		}
		result[facet.CodeKey()] = facet
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("error iterating facets", err)
	}

	return result, nil
}

// codeKeysExpression matches any of keys, grouping codes per system so each system is one ANY(array) predicate
func codeKeysExpression(codeColumn, systemColumn string, keys []entities.CodeKey) exp.Expression {
	bySystem := make(map[entities.CodeSystem][]string)
	for _, k := range keys {
		bySystem[k.CodeSystem] = append(bySystem[k.CodeSystem], k.Code)
	}

	systems := make([]string, 0, len(bySystem))
	for s := range bySystem {
		systems = append(systems, string(s))
	}
	sort.Strings(systems)

	ors := make([]exp.Expression, 0, len(systems))
	for _, s := range systems {
		codes := bySystem[entities.CodeSystem(s)]
		sort.Strings(codes)
		ors = append(ors, goqu.And(
			goqu.I(systemColumn).Eq(s),
			goqu.L("? = ANY(?)", goqu.I(codeColumn), pq.Array(codes)),
		))
	}
	return goqu.Or(ors...)
}

func scanFacet(row rowScanner) (*entities.Facet, error) {
	facet := &entities.Facet{}
	var (
		codeSystem                                string
		bodyRegion, bodySystem, procedureCategory sql.NullString
		complexityLevel, serviceLocation          sql.NullString
		emLevel, emPatientType                    sql.NullString
		surgicalApproach, imagingModality         sql.NullString
		isMajorSurgery                            sql.NullBool
		extensions                                []byte
	)

	err := row.Scan(
		&facet.Code,
		&codeSystem,
		&bodyRegion,
		&bodySystem,
		&procedureCategory,
		&complexityLevel,
		&serviceLocation,
		&emLevel,
		&emPatientType,
		&isMajorSurgery,
		&surgicalApproach,
		&imagingModality,
		&extensions,
	)
	if err != nil {
		return nil, err
	}

	facet.CodeSystem = entities.CodeSystem(codeSystem)
	facet.BodyRegion = nullStringPtr(bodyRegion)
	facet.BodySystem = nullStringPtr(bodySystem)
	facet.ProcedureCategory = nullStringPtr(procedureCategory)
	facet.ComplexityLevel = nullStringPtr(complexityLevel)
	facet.ServiceLocation = nullStringPtr(serviceLocation)
	facet.EMLevel = nullStringPtr(emLevel)
	facet.EMPatientType = nullStringPtr(emPatientType)
	facet.SurgicalApproach = nullStringPtr(surgicalApproach)
	facet.ImagingModality = nullStringPtr(imagingModality)
	if isMajorSurgery.Valid {
		v := isMajorSurgery.Bool
		facet.IsMajorSurgery = &v
	}
	if len(extensions) > 0 {
		if err := json.Unmarshal(extensions, &facet.Extensions); err != nil {
			return nil, err
		}
	}

	return facet, nil
}
