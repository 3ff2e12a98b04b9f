package database

import (
	"context"
	"database/sql"

	"github.com/doug-martin/goqu/v9"
	"github.com/zatekoja/codelookup/internal/domain/entities"
	"github.com/zatekoja/codelookup/internal/domain/repositories"
	"github.com/zatekoja/codelookup/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/codelookup/pkg/errors"
)

const codeMappingsTable = "code_mappings"

// MappingAdapter implements MappingRepository
type MappingAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewMappingAdapter creates a new mapping adapter
func NewMappingAdapter(client *postgres.Client) repositories.MappingRepository {
	return &MappingAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

func (a *MappingAdapter) baseQuery() *goqu.SelectDataset {
	return a.db.From(codeMappingsTable).
		Select("from_system", "from_code", "to_system", "to_code", "map_type", "confidence").
		Order(goqu.I("from_code").Asc(), goqu.I("to_system").Asc(), goqu.I("to_code").Asc())
}

// ListFrom retrieves every mapping whose source is (code, system)
func (a *MappingAdapter) ListFrom(ctx context.Context, code string, system entities.CodeSystem) ([]entities.Mapping, error) {
	ds := a.baseQuery().Where(goqu.Ex{
		"from_code":   code,
		"from_system": string(system),
	})

	mappings := make([]entities.Mapping, 0)
	err := a.each(ctx, ds, func(m entities.Mapping) {
		mappings = append(mappings, m)
	})
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

// ListFromCodes retrieves outgoing mappings for many codes
func (a *MappingAdapter) ListFromCodes(ctx context.Context, keys []entities.CodeKey) (map[entities.CodeKey][]entities.Mapping, error) {
	result := make(map[entities.CodeKey][]entities.Mapping)
	if len(keys) == 0 {
		return result, nil
	}

	ds := a.baseQuery().Where(codeKeysExpression("from_code", "from_system", keys))
	err := a.each(ctx, ds, func(m entities.Mapping) {
		result[m.SourceKey()] = append(result[m.SourceKey()], m)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (a *MappingAdapter) each(ctx context.Context, ds *goqu.SelectDataset, fn func(entities.Mapping)) error {
	query, args, err := ds.ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to list mappings", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m          entities.Mapping
			fromSystem string
			mapType    sql.NullString
			confidence sql.NullFloat64
		)
		if err := rows.Scan(&fromSystem, &m.FromCode, &m.ToSystem, &m.ToCode, &mapType, &confidence); err != nil {
			return apperrors.NewInternalError("failed to scan mapping", err)
		}
		m.FromSystem = entities.CodeSystem(fromSystem)
		m.MapType = mapType.String
		if confidence.Valid {
			c := confidence.Float64
			m.Confidence = &c
		}
		fn(m)
	}
	if err := rows.Err(); err != nil {
		return apperrors.NewInternalError("error iterating mappings", err)
	}
	return nil
}
