package memory

import (
	"fmt"

	"github.com/aescanero/velodago/pkg/domain"
)

// dataset mirrors the slots of an annotated dataset (cells x genes).
type dataset struct {
	cells  []string
	genes  []string
	x      *domain.Layer
	obs    map[string][]any
	vars   map[string][]any
	layers map[string]*domain.Layer
	obsm   map[string]*domain.Layer
	obsp   map[string]string
	uns    map[string]any
	steps  map[domain.StepName]bool
}

func newDataset(spliced, unspliced *domain.CountMatrix) *dataset {
	genes, cells := spliced.Dims()
	x := &domain.Layer{Rows: cells, Cols: genes, Values: spliced.CellMajor()}

	return &dataset{
		cells: append([]string(nil), spliced.Cells...),
		genes: append([]string(nil), spliced.Genes...),
		x:     x,
		obs:   make(map[string][]any),
		vars:  make(map[string][]any),
		layers: map[string]*domain.Layer{
			"spliced":   x,
			"unspliced": {Rows: cells, Cols: genes, Values: unspliced.CellMajor()},
		},
		obsm:  make(map[string]*domain.Layer),
		obsp:  make(map[string]string),
		uns:   make(map[string]any),
		steps: make(map[domain.StepName]bool),
	}
}

// apply writes placeholder values into every slot step annotates.
func (d *dataset) apply(step domain.StepName) {
	a := step.Annotations()
	n, g := len(d.cells), len(d.genes)

	for _, col := range a.Obs {
		values := make([]any, n)
		for i := range values {
			values[i] = float64(i) / float64(n)
		}
		d.obs[col] = values
	}
	for _, col := range a.Var {
		values := make([]any, g)
		for i := range values {
			values[i] = float64(i) / float64(g)
		}
		d.vars[col] = values
	}
	for _, key := range a.Layers {
		d.layers[key] = &domain.Layer{Rows: n, Cols: g, Values: make([]float64, n*g)}
	}
	for _, key := range a.Obsm {
		k := min(g, 2)
		d.obsm[key] = &domain.Layer{Rows: n, Cols: k, Values: make([]float64, n*k)}
	}
	for _, key := range a.Obsp {
		d.obsp[key] = fmt.Sprintf("csr_matrix %dx%d", n, n)
	}
	for _, key := range a.Uns {
		d.uns[key] = map[string]any{"step": string(step)}
	}

	d.steps[step] = true
}

func copyColumns(src map[string][]any) map[string][]any {
	out := make(map[string][]any, len(src))
	for k, v := range src {
		out[k] = append([]any(nil), v...)
	}
	return out
}

func (d *dataset) obsTable() domain.Table {
	return domain.Table{
		Index:   append([]string(nil), d.cells...),
		Columns: copyColumns(d.obs),
	}
}

func (d *dataset) varTable() domain.Table {
	return domain.Table{
		Index:   append([]string(nil), d.genes...),
		Columns: copyColumns(d.vars),
	}
}

func (d *dataset) annData() *domain.AnnData {
	out := &domain.AnnData{
		ObsNames: append([]string(nil), d.cells...),
		VarNames: append([]string(nil), d.genes...),
		Obs:      d.obsTable(),
		Var:      d.varTable(),
		X:        d.x,
		Layers:   make(map[string]*domain.Layer, len(d.layers)),
		Obsm:     make(map[string]*domain.Layer, len(d.obsm)),
		Obsp:     make(map[string]string, len(d.obsp)),
		Uns:      make(map[string]any, len(d.uns)),
	}
	for k, v := range d.layers {
		out.Layers[k] = v
	}
	for k, v := range d.obsm {
		out.Obsm[k] = v
	}
	for k, v := range d.obsp {
		out.Obsp[k] = v
	}
	for k, v := range d.uns {
		out.Uns[k] = v
	}
	return out
}
