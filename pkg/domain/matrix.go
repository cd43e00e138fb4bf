package domain

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// CountMatrix holds transcript counts with genes as rows and cells as
// columns.
type CountMatrix struct {
	Genes  []string
	Cells  []string
	Counts *mat.Dense
}

// NewCountMatrix builds a matrix from row-major data (one row per gene).
func NewCountMatrix(genes, cells []string, data []float64) (*CountMatrix, error) {
	if len(genes) == 0 || len(cells) == 0 {
		return nil, fmt.Errorf("count matrix needs at least one gene and one cell")
	}
	if len(data) != len(genes)*len(cells) {
		return nil, fmt.Errorf("count matrix data has %d values, want %d genes x %d cells",
			len(data), len(genes), len(cells))
	}
	return &CountMatrix{
		Genes:  genes,
		Cells:  cells,
		Counts: mat.NewDense(len(genes), len(cells), data),
	}, nil
}

// Dims returns the number of genes and cells.
func (m *CountMatrix) Dims() (genes, cells int) {
	if m == nil || m.Counts == nil {
		return 0, 0
	}
	return m.Counts.Dims()
}

// CellMajor returns the counts transposed to cells x genes, flattened
// row-major. This is the orientation of the annotated dataset.
func (m *CountMatrix) CellMajor() []float64 {
	genes, cells := m.Dims()
	out := make([]float64, 0, genes*cells)
	t := m.Counts.T()
	for i := 0; i < cells; i++ {
		for j := 0; j < genes; j++ {
			out = append(out, t.At(i, j))
		}
	}
	return out
}

type countMatrixJSON struct {
	Genes  []string    `json:"genes"`
	Cells  []string    `json:"cells"`
	Counts [][]float64 `json:"counts"`
}

// MarshalJSON encodes the matrix with one inner array per gene.
func (m *CountMatrix) MarshalJSON() ([]byte, error) {
	genes, cells := m.Dims()
	rows := make([][]float64, genes)
	for i := range rows {
		rows[i] = make([]float64, cells)
		mat.Row(rows[i], i, m.Counts)
	}
	return json.Marshal(countMatrixJSON{Genes: m.Genes, Cells: m.Cells, Counts: rows})
}

// UnmarshalJSON decodes the form written by MarshalJSON. Ragged rows are
// rejected.
func (m *CountMatrix) UnmarshalJSON(data []byte) error {
	var raw countMatrixJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Counts) != len(raw.Genes) {
		return fmt.Errorf("count matrix has %d rows for %d genes", len(raw.Counts), len(raw.Genes))
	}
	flat := make([]float64, 0, len(raw.Genes)*len(raw.Cells))
	for i, row := range raw.Counts {
		if len(row) != len(raw.Cells) {
			return fmt.Errorf("count matrix row %d (%s) has %d values for %d cells",
				i, raw.Genes[i], len(row), len(raw.Cells))
		}
		flat = append(flat, row...)
	}
	parsed, err := NewCountMatrix(raw.Genes, raw.Cells, flat)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}
