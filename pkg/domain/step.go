package domain

// StepName identifies one external pipeline operation. The values double
// as the keys of the parameter bundle.
type StepName string

const (
	StepFilterAndNormalize StepName = "filter_and_normalize"
	StepMoments            StepName = "moments"
	StepRecoverDynamics    StepName = "recover_dynamics"
	StepVelocity           StepName = "velocity"
	StepVelocityGraph      StepName = "velocity_graph"
	StepVelocityPseudotime StepName = "velocity_pseudotime"
	StepLatentTime         StepName = "latent_time"
	StepVelocityConfidence StepName = "velocity_confidence"
)

// Steps lists every pipeline step in execution order.
var Steps = []StepName{
	StepFilterAndNormalize,
	StepMoments,
	StepRecoverDynamics,
	StepVelocity,
	StepVelocityGraph,
	StepVelocityPseudotime,
	StepLatentTime,
	StepVelocityConfidence,
}

// Annotations lists the dataset slots a step writes.
type Annotations struct {
	Obs    []string
	Var    []string
	Layers []string
	Obsm   []string
	Obsp   []string
	Uns    []string
}

type stepInfo struct {
	function    string
	dynamical   bool
	annotations Annotations
}

var stepTable = map[StepName]stepInfo{
	StepFilterAndNormalize: {
		function: "pp.filter_and_normalize",
		annotations: Annotations{
			Obs: []string{"initial_size_spliced", "initial_size_unspliced", "initial_size", "n_counts"},
		},
	},
	StepMoments: {
		function: "pp.moments",
		annotations: Annotations{
			Layers: []string{"Ms", "Mu"},
			Obsm:   []string{"X_pca"},
			Obsp:   []string{"distances", "connectivities"},
			Uns:    []string{"neighbors", "pca"},
		},
	},
	StepRecoverDynamics: {
		function:  "tl.recover_dynamics",
		dynamical: true,
		annotations: Annotations{
			Var:    []string{"fit_alpha", "fit_beta", "fit_gamma", "fit_t_", "fit_scaling", "fit_likelihood"},
			Layers: []string{"fit_t", "fit_tau", "fit_tau_"},
			Uns:    []string{"recover_dynamics"},
		},
	},
	StepVelocity: {
		function: "tl.velocity",
		annotations: Annotations{
			Var:    []string{"velocity_genes"},
			Layers: []string{"velocity"},
			Uns:    []string{"velocity_params"},
		},
	},
	StepVelocityGraph: {
		function: "tl.velocity_graph",
		annotations: Annotations{
			Obs: []string{"velocity_self_transition"},
			Uns: []string{"velocity_graph", "velocity_graph_neg"},
		},
	},
	StepVelocityPseudotime: {
		function: "tl.velocity_pseudotime",
		annotations: Annotations{
			Obs: []string{"velocity_pseudotime"},
		},
	},
	StepLatentTime: {
		function:  "tl.latent_time",
		dynamical: true,
		annotations: Annotations{
			Obs: []string{"latent_time"},
		},
	},
	StepVelocityConfidence: {
		function: "tl.velocity_confidence",
		annotations: Annotations{
			Obs: []string{"velocity_length", "velocity_confidence"},
		},
	},
}

// Valid reports whether s names a pipeline step.
func (s StepName) Valid() bool {
	_, ok := stepTable[s]
	return ok
}

// Function returns the external function, relative to the library root,
// that implements the step.
func (s StepName) Function() string {
	return stepTable[s].function
}

// DynamicalOnly reports whether the step runs only in dynamical mode.
func (s StepName) DynamicalOnly() bool {
	return stepTable[s].dynamical
}

// Requires returns the steps whose annotations s reads.
func (s StepName) Requires() []StepName {
	return dependencies[s]
}

// Annotations returns the slots the step adds to the dataset.
func (s StepName) Annotations() Annotations {
	return stepTable[s].annotations
}
