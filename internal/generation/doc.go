// Package generation defines the boundary between the scheduler and the
// external text-generation service. It holds the Generator and Reasoner
// interfaces, the per-component generation catalog and the prompt frame
// workers render before calling the model.
package generation
