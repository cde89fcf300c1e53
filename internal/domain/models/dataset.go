package models

// Label is the binarized target of a row.
type Label int

const (
	LabelIndeterminate Label = -1
	LabelNegative      Label = 0
	LabelPositive      Label = 1
)

// RowMeta identifies a dataset row.
type RowMeta struct {
	Security     string  `json:"security"`
	Date         string  `json:"date"`
	FeatureCount int     `json:"feature_count"`
	Gain         float64 `json:"gain"`
	Live         bool    `json:"live,omitempty"`
}

// DatasetRow carries features, labels, weight and metadata together so no
// parallel stream can fall out of alignment.
type DatasetRow struct {
	Meta     RowMeta   `json:"meta"`
	Features []float64 `json:"features"`
	Label    Label     `json:"label"`
	Weight   float64   `json:"weight"`
}

// Indeterminate reports whether the gain fell between max_neg and min_pos.
func (r *DatasetRow) Indeterminate() bool {
	return r.Label == LabelIndeterminate
}

// Dataset is an ordered row set with its feature column names.
type Dataset struct {
	Features []string     `json:"features"`
	Rows     []DatasetRow `json:"-"`
}
