package domain

import "fmt"

// ============================================================================
// Feature Schema
// ============================================================================

// ColumnType classifies the values a feature column holds.
type ColumnType string

const (
	ColumnNumeric     ColumnType = "numeric"
	ColumnCategorical ColumnType = "categorical"
)

// IsValid checks if the column type is known.
func (t ColumnType) IsValid() bool {
	return t == ColumnNumeric || t == ColumnCategorical
}

// FeatureColumn describes one feature column. Categorical columns carry
// their category list in first-seen order; that ordering is part of the
// fitted model and must be identical at training and serving time.
type FeatureColumn struct {
	Name       string     `json:"name"`
	Type       ColumnType `json:"type"`
	Categories []string   `json:"categories,omitempty"`
}

// FeatureSchema is the ordered list of feature columns a model was trained
// on and validates requests against. Column order is significant.
type FeatureSchema struct {
	Columns []FeatureColumn `json:"columns"`
}

// Names returns the column names in schema order.
func (s FeatureSchema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

// Equal reports whether two schemas match exactly, including column order
// and category order.
func (s FeatureSchema) Equal(other FeatureSchema) bool {
	if len(s.Columns) != len(other.Columns) {
		return false
	}
	for i, col := range s.Columns {
		o := other.Columns[i]
		if col.Name != o.Name || col.Type != o.Type || len(col.Categories) != len(o.Categories) {
			return false
		}
		for j, c := range col.Categories {
			if c != o.Categories[j] {
				return false
			}
		}
	}
	return true
}

func (s FeatureSchema) column(name string) bool {
	for _, col := range s.Columns {
		if col.Name == name {
			return true
		}
	}
	return false
}

// Vectorize validates a feature row against the schema and encodes it into
// the model input vector: numeric values pass through, categorical values
// become their category index. Violations wrap ErrRequestValidation.
func (s FeatureSchema) Vectorize(row Row) ([]float64, error) {
	vec := make([]float64, len(s.Columns))
	for i, col := range s.Columns {
		raw, ok := row[col.Name]
		if !ok {
			return nil, fmt.Errorf("missing feature %q: %w", col.Name, ErrRequestValidation)
		}
		switch col.Type {
		case ColumnNumeric:
			v, ok := asNumber(raw)
			if !ok {
				return nil, fmt.Errorf("feature %q expects a numeric value, got %T: %w", col.Name, raw, ErrRequestValidation)
			}
			vec[i] = v
		case ColumnCategorical:
			v, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("feature %q expects a categorical value, got %T: %w", col.Name, raw, ErrRequestValidation)
			}
			idx := -1
			for j, c := range col.Categories {
				if c == v {
					idx = j
					break
				}
			}
			if idx < 0 {
				return nil, fmt.Errorf("feature %q has unknown category %q: %w", col.Name, v, ErrRequestValidation)
			}
			vec[i] = float64(idx)
		default:
			return nil, fmt.Errorf("feature %q has unsupported type %q: %w", col.Name, col.Type, ErrRequestValidation)
		}
	}
	if len(row) > len(s.Columns) {
		for name := range row {
			if !s.column(name) {
				return nil, fmt.Errorf("unknown feature %q: %w", name, ErrRequestValidation)
			}
		}
	}
	return vec, nil
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ============================================================================
// Dataset
// ============================================================================

// Row is a single feature row keyed by column name. Values are float64 for
// numeric columns and string for categorical columns.
type Row map[string]interface{}

// Dataset is an immutable, ordered collection of feature rows with their
// labels, produced by the data source adapter for one training run. Every
// row shares the schema; Labels is parallel to Rows.
type Dataset struct {
	Schema FeatureSchema
	Rows   []Row
	Labels []string
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.Rows)
}

// ClassCounts tallies rows per label class.
func (d *Dataset) ClassCounts() map[string]int {
	counts := make(map[string]int)
	for _, l := range d.Labels {
		counts[l]++
	}
	return counts
}

// DeriveSchema returns a copy of the dataset schema with categorical
// category lists filled from the rows in first-seen order. The result is
// what a trained artifact embeds, so serving encodes requests exactly as
// training encoded the rows.
func (d *Dataset) DeriveSchema() (FeatureSchema, error) {
	derived := FeatureSchema{Columns: make([]FeatureColumn, len(d.Schema.Columns))}
	for i, col := range d.Schema.Columns {
		derived.Columns[i] = FeatureColumn{Name: col.Name, Type: col.Type}
		if col.Type != ColumnCategorical {
			continue
		}
		seen := make(map[string]bool)
		for _, row := range d.Rows {
			raw, ok := row[col.Name]
			if !ok {
				return FeatureSchema{}, fmt.Errorf("row is missing column %q: %w", col.Name, ErrSchemaMismatch)
			}
			v, ok := raw.(string)
			if !ok {
				return FeatureSchema{}, fmt.Errorf("column %q holds %T, expected a categorical value: %w", col.Name, raw, ErrSchemaMismatch)
			}
			if !seen[v] {
				seen[v] = true
				derived.Columns[i].Categories = append(derived.Columns[i].Categories, v)
			}
		}
	}
	return derived, nil
}
