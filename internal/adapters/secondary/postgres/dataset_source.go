package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"model-pipeline-service/internal/core/domain"
	"model-pipeline-service/internal/core/ports/output"
)

// datasetSource reads labelled training rows straight from a Postgres
// table. The reported column types decide the feature encoding: integer
// and floating point columns become numeric features, text columns
// categorical ones. The label column must be text.
type datasetSource struct {
	pool *pgxpool.Pool
}

func NewDatasetSource(pool *pgxpool.Pool) ports.DatasetSource {
	return &datasetSource{pool: pool}
}

func (s *datasetSource) Fetch(ctx context.Context, spec ports.QuerySpec) (*domain.Dataset, error) {
	// 1. Project exactly the requested feature columns plus the label.
	projection := make([]string, 0, len(spec.Features)+1)
	for _, feature := range spec.Features {
		projection = append(projection, pgx.Identifier{feature}.Sanitize())
	}
	projection = append(projection, pgx.Identifier{spec.Label}.Sanitize())

	query := fmt.Sprintf("SELECT %s FROM %s",
		strings.Join(projection, ", "), pgx.Identifier{spec.Table}.Sanitize())
	if spec.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", spec.Limit)
	}

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, classifyQueryError(err)
	}
	defer rows.Close()

	// 2. Derive the feature schema from the column types Postgres reports.
	schema, err := schemaFromFields(spec, rows.FieldDescriptions())
	if err != nil {
		return nil, err
	}

	// 3. Scan every row into the storage-independent dataset form.
	ds := &domain.Dataset{Schema: schema}
	numVals := make([]*float64, len(schema.Columns))
	strVals := make([]*string, len(schema.Columns))
	for rows.Next() {
		dests := make([]interface{}, 0, len(schema.Columns)+1)
		for i, col := range schema.Columns {
			if col.Type == domain.ColumnNumeric {
				dests = append(dests, &numVals[i])
			} else {
				dests = append(dests, &strVals[i])
			}
		}
		var label *string
		dests = append(dests, &label)

		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("%w: scan row %d: %v", domain.ErrSchemaMismatch, ds.Len(), err)
		}

		row := domain.Row{}
		for i, col := range schema.Columns {
			switch col.Type {
			case domain.ColumnNumeric:
				if numVals[i] == nil {
					return nil, fmt.Errorf("%w: column %q is NULL at row %d", domain.ErrSchemaMismatch, col.Name, ds.Len())
				}
				row[col.Name] = *numVals[i]
			default:
				if strVals[i] == nil {
					return nil, fmt.Errorf("%w: column %q is NULL at row %d", domain.ErrSchemaMismatch, col.Name, ds.Len())
				}
				row[col.Name] = *strVals[i]
			}
		}
		if label == nil {
			return nil, fmt.Errorf("%w: label column %q is NULL at row %d", domain.ErrSchemaMismatch, spec.Label, ds.Len())
		}
		ds.Rows = append(ds.Rows, row)
		ds.Labels = append(ds.Labels, *label)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyQueryError(err)
	}

	return ds, nil
}

// schemaFromFields maps the result columns onto the feature schema. The
// projection puts the label last, so fields line up with spec.Features
// plus one.
func schemaFromFields(spec ports.QuerySpec, fields []pgconn.FieldDescription) (domain.FeatureSchema, error) {
	if len(fields) != len(spec.Features)+1 {
		return domain.FeatureSchema{}, fmt.Errorf("%w: expected %d result columns, got %d",
			domain.ErrSchemaMismatch, len(spec.Features)+1, len(fields))
	}

	columns := make([]domain.FeatureColumn, len(spec.Features))
	for i, feature := range spec.Features {
		colType, ok := columnTypeForOID(fields[i].DataTypeOID)
		if !ok {
			return domain.FeatureSchema{}, fmt.Errorf("%w: column %q has unsupported type oid %d",
				domain.ErrSchemaMismatch, feature, fields[i].DataTypeOID)
		}
		columns[i] = domain.FeatureColumn{Name: feature, Type: colType}
	}

	labelType, ok := columnTypeForOID(fields[len(fields)-1].DataTypeOID)
	if !ok || labelType != domain.ColumnCategorical {
		return domain.FeatureSchema{}, fmt.Errorf("%w: label column %q must be a text type",
			domain.ErrSchemaMismatch, spec.Label)
	}

	return domain.FeatureSchema{Columns: columns}, nil
}

func columnTypeForOID(oid uint32) (domain.ColumnType, bool) {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID,
		pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return domain.ColumnNumeric, true
	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID:
		return domain.ColumnCategorical, true
	}
	return "", false
}

// classifyQueryError sorts Postgres failures into the retryable
// source-unavailable bucket and the structural schema-mismatch bucket.
// Errors that never produced a server response, dial failures included,
// count as the source being unreachable.
func classifyQueryError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", domain.ErrRunCancelled, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42P01" || pgErr.Code == "42703":
			// undefined table / undefined column
			return fmt.Errorf("%w: %s", domain.ErrSchemaMismatch, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			strings.HasPrefix(pgErr.Code, "57"):
			// connection exceptions, resource exhaustion, shutdown
			return fmt.Errorf("%w: %s", domain.ErrSourceUnavailable, pgErr.Message)
		default:
			return fmt.Errorf("query training rows: %w", err)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
}
