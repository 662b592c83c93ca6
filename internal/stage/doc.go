// Package stage defines the contract between the workflow executor and the
// stage logic functions.
//
// A stage is a Func that receives the accumulated results of earlier stages
// plus the run configuration and returns its own result. The executor is
// stage agnostic: it marshals whatever the Func returns and stores it under
// the stage's name. Stages report fractional progress through a Reporter and
// call Input.Checkpoint between units of work so pause and cancel take effect
// mid-stage.
package stage
