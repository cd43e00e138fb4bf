// Package domain defines the types shared by the velocity pipeline:
// count matrices, the estimation mode, per-step option bundles, the step
// plan, pipeline results and run bookkeeping (states and events).
package domain
