package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// FilterAndNormalizeOptions are the recognised options of pp.filter_and_normalize.
type FilterAndNormalizeOptions struct {
	MinCounts            *int     `json:"min_counts,omitempty"`
	MinCountsU           *int     `json:"min_counts_u,omitempty"`
	MinCells             *int     `json:"min_cells,omitempty"`
	MinCellsU            *int     `json:"min_cells_u,omitempty"`
	MinSharedCounts      *int     `json:"min_shared_counts,omitempty"`
	MinSharedCells       *int     `json:"min_shared_cells,omitempty"`
	NTopGenes            *int     `json:"n_top_genes,omitempty"`
	RetainGenes          []string `json:"retain_genes,omitempty"`
	SubsetHighlyVariable *bool    `json:"subset_highly_variable,omitempty"`
	Flavor               *string  `json:"flavor,omitempty"`
	Log                  *bool    `json:"log,omitempty"`
	LayersNormalize      []string `json:"layers_normalize,omitempty"`
}

// MomentsOptions are the recognised options of pp.moments.
type MomentsOptions struct {
	NNeighbors        *int    `json:"n_neighbors,omitempty"`
	NPCs              *int    `json:"n_pcs,omitempty"`
	Mode              *string `json:"mode,omitempty"`
	Method            *string `json:"method,omitempty"`
	UseRep            *string `json:"use_rep,omitempty"`
	UseHighlyVariable *bool   `json:"use_highly_variable,omitempty"`
}

// RecoverDynamicsOptions are the recognised options of tl.recover_dynamics.
type RecoverDynamicsOptions struct {
	VarNames              *string  `json:"var_names,omitempty"`
	NTopGenes             *int     `json:"n_top_genes,omitempty"`
	MaxIter               *int     `json:"max_iter,omitempty"`
	AssignmentMode        *string  `json:"assignment_mode,omitempty"`
	TMax                  *float64 `json:"t_max,omitempty"`
	FitTime               *bool    `json:"fit_time,omitempty"`
	FitScaling            *bool    `json:"fit_scaling,omitempty"`
	FitSteadyStates       *bool    `json:"fit_steady_states,omitempty"`
	FitConnectedStates    *bool    `json:"fit_connected_states,omitempty"`
	FitBasalTranscription *bool    `json:"fit_basal_transcription,omitempty"`
	UseRaw                *bool    `json:"use_raw,omitempty"`
	AddKey                *string  `json:"add_key,omitempty"`
	NJobs                 *int     `json:"n_jobs,omitempty"`
	Backend               *string  `json:"backend,omitempty"`
	ShowProgressBar       *bool    `json:"show_progress_bar,omitempty"`
	SteadyStatePrior      []bool   `json:"steady_state_prior,omitempty"`
}

// VelocityOptions are the recognised options of tl.velocity. Mode is the
// only option the pipeline requires.
type VelocityOptions struct {
	Mode              Mode      `json:"mode,omitempty"`
	Vkey              *string   `json:"vkey,omitempty"`
	FitOffset         *bool     `json:"fit_offset,omitempty"`
	FitOffset2        *bool     `json:"fit_offset2,omitempty"`
	FilterGenes       *bool     `json:"filter_genes,omitempty"`
	Groups            []string  `json:"groups,omitempty"`
	Groupby           *string   `json:"groupby,omitempty"`
	GroupsForFit      []string  `json:"groups_for_fit,omitempty"`
	ConstrainRatio    []float64 `json:"constrain_ratio,omitempty"`
	UseRaw            *bool     `json:"use_raw,omitempty"`
	UseLatentTime     *bool     `json:"use_latent_time,omitempty"`
	Perc              []float64 `json:"perc,omitempty"`
	MinR2             *float64  `json:"min_r2,omitempty"`
	MinLikelihood     *float64  `json:"min_likelihood,omitempty"`
	R2Adjusted        *bool     `json:"r2_adjusted,omitempty"`
	UseHighlyVariable *bool     `json:"use_highly_variable,omitempty"`
	DiffKinetics      *bool     `json:"diff_kinetics,omitempty"`
}

// VelocityGraphOptions are the recognised options of tl.velocity_graph.
type VelocityGraphOptions struct {
	Vkey                  *string  `json:"vkey,omitempty"`
	Xkey                  *string  `json:"xkey,omitempty"`
	Tkey                  *string  `json:"tkey,omitempty"`
	Basis                 *string  `json:"basis,omitempty"`
	NNeighbors            *int     `json:"n_neighbors,omitempty"`
	NRecurseNeighbors     *int     `json:"n_recurse_neighbors,omitempty"`
	RandomNeighborsAtMax  *int     `json:"random_neighbors_at_max,omitempty"`
	SqrtTransform         *bool    `json:"sqrt_transform,omitempty"`
	VarianceStabilization *bool    `json:"variance_stabilization,omitempty"`
	GeneSubset            []string `json:"gene_subset,omitempty"`
	ComputeUncertainties  *bool    `json:"compute_uncertainties,omitempty"`
	Approx                *bool    `json:"approx,omitempty"`
	ModeNeighbors         *string  `json:"mode_neighbors,omitempty"`
	NJobs                 *int     `json:"n_jobs,omitempty"`
	Backend               *string  `json:"backend,omitempty"`
	ShowProgressBar       *bool    `json:"show_progress_bar,omitempty"`
}

// VelocityPseudotimeOptions are the recognised options of tl.velocity_pseudotime.
type VelocityPseudotimeOptions struct {
	Vkey             *string  `json:"vkey,omitempty"`
	Groupby          *string  `json:"groupby,omitempty"`
	Groups           []string `json:"groups,omitempty"`
	RootKey          *string  `json:"root_key,omitempty"`
	EndKey           *string  `json:"end_key,omitempty"`
	NDCs             *int     `json:"n_dcs,omitempty"`
	UseVelocityGraph *bool    `json:"use_velocity_graph,omitempty"`
	SaveDiffmap      *bool    `json:"save_diffmap,omitempty"`
}

// LatentTimeOptions are the recognised options of tl.latent_time.
type LatentTimeOptions struct {
	Vkey             *string  `json:"vkey,omitempty"`
	MinLikelihood    *float64 `json:"min_likelihood,omitempty"`
	MinConfidence    *float64 `json:"min_confidence,omitempty"`
	MinCorrDiffusion *float64 `json:"min_corr_diffusion,omitempty"`
	WeightDiffusion  *float64 `json:"weight_diffusion,omitempty"`
	RootKey          *string  `json:"root_key,omitempty"`
	EndKey           *string  `json:"end_key,omitempty"`
	TMax             *float64 `json:"t_max,omitempty"`
}

// VelocityConfidenceOptions are the recognised options of tl.velocity_confidence.
type VelocityConfidenceOptions struct {
	Vkey *string `json:"vkey,omitempty"`
}

// Params is the step parameter bundle. Every sub-bundle defaults to empty,
// in which case the external defaults apply.
type Params struct {
	FilterAndNormalize FilterAndNormalizeOptions `json:"filter_and_normalize"`
	Moments            MomentsOptions            `json:"moments"`
	RecoverDynamics    RecoverDynamicsOptions    `json:"recover_dynamics"`
	Velocity           VelocityOptions           `json:"velocity"`
	VelocityGraph      VelocityGraphOptions      `json:"velocity_graph"`
	VelocityPseudotime VelocityPseudotimeOptions `json:"velocity_pseudotime"`
	LatentTime         LatentTimeOptions         `json:"latent_time"`
	VelocityConfidence VelocityConfidenceOptions `json:"velocity_confidence"`
}

// DecodeParams strictly decodes a parameter bundle: unknown step names and
// unknown options are rejected. A bundle without a mode fails with
// ErrMissingMode whatever else it contains.
func DecodeParams(r io.Reader) (Params, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Params{}, fmt.Errorf("failed to read params: %w", err)
	}

	var head modeOnly
	if err := lookupMode(data, &head); err != nil {
		return Params{}, err
	}

	var p Params
	if err := p.UnmarshalJSON(data); err != nil {
		return Params{}, fmt.Errorf("invalid params: %w", err)
	}
	return p, nil
}

// modeOnly picks the mode out of a bundle and ignores everything else.
type modeOnly struct {
	Velocity struct {
		Mode *string `json:"mode"`
	} `json:"velocity"`
}

// lookupMode leniently decodes data into dst. Only malformed JSON is an
// error besides a missing mode; type mismatches elsewhere are left for the
// strict pass.
func lookupMode(data []byte, dst any) error {
	err := json.Unmarshal(data, dst)
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Errorf("invalid params: %w", err)
	}

	var mode *string
	switch p := dst.(type) {
	case *modeOnly:
		mode = p.Velocity.Mode
	case *requestMode:
		mode = p.Params.Velocity.Mode
	}
	if mode == nil || *mode == "" {
		return ErrMissingMode
	}
	return nil
}

// UnmarshalJSON decodes a bundle strictly, so a bundle embedded in a larger
// request is held to the same rules as DecodeParams.
func (p *Params) UnmarshalJSON(data []byte) error {
	type plain Params
	var decoded plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&decoded); err != nil {
		return err
	}
	*p = Params(decoded)
	return nil
}

// Mode returns the estimation mode carried by the velocity sub-bundle.
func (p *Params) Mode() Mode {
	return p.Velocity.Mode
}

func (p *Params) options(step StepName) (any, error) {
	switch step {
	case StepFilterAndNormalize:
		return p.FilterAndNormalize, nil
	case StepMoments:
		return p.Moments, nil
	case StepRecoverDynamics:
		return p.RecoverDynamics, nil
	case StepVelocity:
		return p.Velocity, nil
	case StepVelocityGraph:
		return p.VelocityGraph, nil
	case StepVelocityPseudotime:
		return p.VelocityPseudotime, nil
	case StepLatentTime:
		return p.LatentTime, nil
	case StepVelocityConfidence:
		return p.VelocityConfidence, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownStep, step)
}

// StepKwargs renders the keyword arguments forwarded to the external
// operation for step. Only options that were set appear in the map.
func (p *Params) StepKwargs(step StepName) (map[string]any, error) {
	opts, err := p.options(step)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s options: %w", step, err)
	}

	kwargs := make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&kwargs); err != nil {
		return nil, fmt.Errorf("failed to decode %s options: %w", step, err)
	}

	return kwargs, nil
}
