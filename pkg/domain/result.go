package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// Table is a column-oriented annotation table. Index holds the row labels
// (cell names for obs, gene names for var).
type Table struct {
	Index   []string         `json:"index"`
	Columns map[string][]any `json:"columns"`
}

// NRows returns the number of rows in the table.
func (t *Table) NRows() int {
	return len(t.Index)
}

// Layer is a dense cells x genes (or cells x k) matrix stored row-major.
// Missing entries are NaN in memory and null on the wire.
type Layer struct {
	Rows   int
	Cols   int
	Values []float64
}

type layerJSON struct {
	Rows   int        `json:"rows"`
	Cols   int        `json:"cols"`
	Values []*float64 `json:"values"`
}

// MarshalJSON writes non-finite values as null.
func (l Layer) MarshalJSON() ([]byte, error) {
	values := make([]*float64, len(l.Values))
	for i, v := range l.Values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			values[i] = &l.Values[i]
		}
	}
	return json.Marshal(layerJSON{Rows: l.Rows, Cols: l.Cols, Values: values})
}

// UnmarshalJSON reads null values back as NaN.
func (l *Layer) UnmarshalJSON(data []byte) error {
	var raw layerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	values := make([]float64, len(raw.Values))
	for i, v := range raw.Values {
		if v == nil {
			values[i] = math.NaN()
			continue
		}
		values[i] = *v
	}
	*l = Layer{Rows: raw.Rows, Cols: raw.Cols, Values: values}
	return nil
}

// AnnData is the full annotated dataset as extracted after the last step.
// Layers and Obsm are materialised; Obsp and Uns entries are summarised
// because they may hold sparse graphs or arbitrary objects.
type AnnData struct {
	ObsNames []string          `json:"obs_names"`
	VarNames []string          `json:"var_names"`
	Obs      Table             `json:"obs"`
	Var      Table             `json:"var"`
	X        *Layer            `json:"X,omitempty"`
	Layers   map[string]*Layer `json:"layers"`
	Obsm     map[string]*Layer `json:"obsm"`
	Obsp     map[string]string `json:"obsp"`
	Uns      map[string]any    `json:"uns"`
}

// HasAnnotations reports whether every slot in a is present in the dataset.
func (d *AnnData) HasAnnotations(a Annotations) bool {
	for _, col := range a.Obs {
		if _, ok := d.Obs.Columns[col]; !ok {
			return false
		}
	}
	for _, col := range a.Var {
		if _, ok := d.Var.Columns[col]; !ok {
			return false
		}
	}
	for _, key := range a.Layers {
		if _, ok := d.Layers[key]; !ok {
			return false
		}
	}
	for _, key := range a.Obsm {
		if _, ok := d.Obsm[key]; !ok {
			return false
		}
	}
	for _, key := range a.Obsp {
		if _, ok := d.Obsp[key]; !ok {
			return false
		}
	}
	for _, key := range a.Uns {
		if _, ok := d.Uns[key]; !ok {
			return false
		}
	}
	return true
}

// Result is what a pipeline call returns: per-cell and per-gene tables and,
// when requested, the full dataset.
type Result struct {
	Obs     Table    `json:"obs"`
	Var     Table    `json:"var"`
	AnnData *AnnData `json:"adata,omitempty"`
}

// Request is one pipeline invocation.
type Request struct {
	Spliced       *CountMatrix `json:"spliced"`
	Unspliced     *CountMatrix `json:"unspliced"`
	OutputAnnData bool         `json:"output_anndata"`
	Params        Params       `json:"params"`
}

// requestMode picks the mode out of a request document.
type requestMode struct {
	Params modeOnly `json:"params"`
}

// DecodeRequest decodes a request document. The mode is looked up first,
// so a request without one fails with ErrMissingMode even when other
// parameters are unknown or malformed; the rest is then decoded strictly.
func DecodeRequest(data []byte) (*Request, error) {
	var head requestMode
	if err := lookupMode(data, &head); err != nil {
		return nil, err
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return &req, nil
}
