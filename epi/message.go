package epi

import (
	kurobako "github.com/HideakiImamura/kurobako"
)

// Message type tags for the problem protocol.
const (
	TypeProblemSpecCast      = "PROBLEM_SPEC_CAST"
	TypeCreateProblemCast    = "CREATE_PROBLEM_CAST"
	TypeDropProblemCast      = "DROP_PROBLEM_CAST"
	TypeCreateEvaluatorCall  = "CREATE_EVALUATOR_CALL"
	TypeCreateEvaluatorReply = "CREATE_EVALUATOR_REPLY"
	TypeDropEvaluatorCast    = "DROP_EVALUATOR_CAST"
	TypeEvaluateCall         = "EVALUATE_CALL"
	TypeEvaluateReply        = "EVALUATE_REPLY"
)

// Message type tags for the solver protocol.
const (
	TypeSolverSpecCast   = "SOLVER_SPEC_CAST"
	TypeCreateSolverCast = "CREATE_SOLVER_CAST"
	TypeDropSolverCast   = "DROP_SOLVER_CAST"
	TypeAskCall          = "ASK_CALL"
	TypeAskReply         = "ASK_REPLY"
	TypeTellCall         = "TELL_CALL"
	TypeTellReply        = "TELL_REPLY"
)

// TypeErrorReply is shared by both protocols.
const TypeErrorReply = "ERROR_REPLY"

// Problem protocol messages.

// ProblemSpecCast is a problem peer's unsolicited first message.
type ProblemSpecCast struct {
	Type string               `json:"type"`
	Spec kurobako.ProblemSpec `json:"spec"`
}

// NewProblemSpecCast makes a ProblemSpecCast message.
func NewProblemSpecCast(spec kurobako.ProblemSpec) ProblemSpecCast {
	return ProblemSpecCast{Type: TypeProblemSpecCast, Spec: spec}
}

// CreateProblemCast instantiates a problem instance from a seed. No reply.
type CreateProblemCast struct {
	Type       string `json:"type"`
	ProblemID  uint64 `json:"problem_id"`
	RandomSeed uint64 `json:"random_seed"`
}

// NewCreateProblemCast makes a CreateProblemCast message.
func NewCreateProblemCast(problemID, randomSeed uint64) CreateProblemCast {
	return CreateProblemCast{Type: TypeCreateProblemCast, ProblemID: problemID, RandomSeed: randomSeed}
}

// DropProblemCast is a best-effort teardown notification. No reply.
type DropProblemCast struct {
	Type      string `json:"type"`
	ProblemID uint64 `json:"problem_id"`
}

// NewDropProblemCast makes a DropProblemCast message.
func NewDropProblemCast(problemID uint64) DropProblemCast {
	return DropProblemCast{Type: TypeDropProblemCast, ProblemID: problemID}
}

// CreateEvaluatorCall binds an evaluator to a parameter assignment.
type CreateEvaluatorCall struct {
	Type        string          `json:"type"`
	ProblemID   uint64          `json:"problem_id"`
	EvaluatorID uint64          `json:"evaluator_id"`
	Params      kurobako.Params `json:"params"`
}

// NewCreateEvaluatorCall makes a CreateEvaluatorCall message.
func NewCreateEvaluatorCall(problemID, evaluatorID uint64, params kurobako.Params) CreateEvaluatorCall {
	return CreateEvaluatorCall{
		Type:        TypeCreateEvaluatorCall,
		ProblemID:   problemID,
		EvaluatorID: evaluatorID,
		Params:      params,
	}
}

// CreateEvaluatorReply acknowledges a CreateEvaluatorCall.
type CreateEvaluatorReply struct {
	Type string `json:"type"`
}

// NewCreateEvaluatorReply makes a CreateEvaluatorReply message.
func NewCreateEvaluatorReply() CreateEvaluatorReply {
	return CreateEvaluatorReply{Type: TypeCreateEvaluatorReply}
}

// DropEvaluatorCast is a best-effort teardown notification. No reply.
type DropEvaluatorCast struct {
	Type        string `json:"type"`
	ProblemID   uint64 `json:"problem_id"`
	EvaluatorID uint64 `json:"evaluator_id"`
}

// NewDropEvaluatorCast makes a DropEvaluatorCast message.
func NewDropEvaluatorCast(problemID, evaluatorID uint64) DropEvaluatorCast {
	return DropEvaluatorCast{Type: TypeDropEvaluatorCast, ProblemID: problemID, EvaluatorID: evaluatorID}
}

// EvaluateCall advances an evaluator up to a fidelity step.
type EvaluateCall struct {
	Type        string `json:"type"`
	ProblemID   uint64 `json:"problem_id"`
	EvaluatorID uint64 `json:"evaluator_id"`
	NextStep    uint64 `json:"next_step"`
}

// NewEvaluateCall makes an EvaluateCall message.
func NewEvaluateCall(problemID, evaluatorID, nextStep uint64) EvaluateCall {
	return EvaluateCall{
		Type:        TypeEvaluateCall,
		ProblemID:   problemID,
		EvaluatorID: evaluatorID,
		NextStep:    nextStep,
	}
}

// EvaluateReply carries the outcome of an EvaluateCall.
type EvaluateReply struct {
	Type        string          `json:"type"`
	CurrentStep uint64          `json:"current_step"`
	Values      kurobako.Values `json:"values"`
}

// NewEvaluateReply makes an EvaluateReply message.
func NewEvaluateReply(currentStep uint64, values kurobako.Values) EvaluateReply {
	return EvaluateReply{Type: TypeEvaluateReply, CurrentStep: currentStep, Values: values}
}

// Solver protocol messages.

// SolverSpecCast is a solver peer's unsolicited first message.
type SolverSpecCast struct {
	Type string              `json:"type"`
	Spec kurobako.SolverSpec `json:"spec"`
}

// NewSolverSpecCast makes a SolverSpecCast message.
func NewSolverSpecCast(spec kurobako.SolverSpec) SolverSpecCast {
	return SolverSpecCast{Type: TypeSolverSpecCast, Spec: spec}
}

// CreateSolverCast instantiates a solver instance for a problem. No reply.
type CreateSolverCast struct {
	Type       string               `json:"type"`
	SolverID   uint64               `json:"solver_id"`
	RandomSeed uint64               `json:"random_seed"`
	Problem    kurobako.ProblemSpec `json:"problem"`
}

// NewCreateSolverCast makes a CreateSolverCast message.
func NewCreateSolverCast(solverID, randomSeed uint64, problem kurobako.ProblemSpec) CreateSolverCast {
	return CreateSolverCast{
		Type:       TypeCreateSolverCast,
		SolverID:   solverID,
		RandomSeed: randomSeed,
		Problem:    problem,
	}
}

// DropSolverCast is a best-effort teardown notification. No reply.
type DropSolverCast struct {
	Type     string `json:"type"`
	SolverID uint64 `json:"solver_id"`
}

// NewDropSolverCast makes a DropSolverCast message.
func NewDropSolverCast(solverID uint64) DropSolverCast {
	return DropSolverCast{Type: TypeDropSolverCast, SolverID: solverID}
}

// AskCall requests the solver's next trial. NextTrialID carries the host's
// ID generator position so the peer can mint collision-free IDs.
type AskCall struct {
	Type        string `json:"type"`
	SolverID    uint64 `json:"solver_id"`
	NextTrialID uint64 `json:"next_trial_id"`
}

// NewAskCall makes an AskCall message.
func NewAskCall(solverID, nextTrialID uint64) AskCall {
	return AskCall{Type: TypeAskCall, SolverID: solverID, NextTrialID: nextTrialID}
}

// AskReply carries the proposed trial. NextTrialID reports the peer's ID
// generator position so the host can pre-advance its own.
type AskReply struct {
	Type        string             `json:"type"`
	Trial       kurobako.NextTrial `json:"trial"`
	NextTrialID uint64             `json:"next_trial_id"`
}

// NewAskReply makes an AskReply message.
func NewAskReply(trial kurobako.NextTrial, nextTrialID uint64) AskReply {
	return AskReply{Type: TypeAskReply, Trial: trial, NextTrialID: nextTrialID}
}

// TellCall delivers an observation to the solver.
type TellCall struct {
	Type     string                  `json:"type"`
	SolverID uint64                  `json:"solver_id"`
	Trial    kurobako.EvaluatedTrial `json:"trial"`
}

// NewTellCall makes a TellCall message.
func NewTellCall(solverID uint64, trial kurobako.EvaluatedTrial) TellCall {
	return TellCall{Type: TypeTellCall, SolverID: solverID, Trial: trial}
}

// TellReply acknowledges a TellCall.
type TellReply struct {
	Type string `json:"type"`
}

// NewTellReply makes a TellReply message.
func NewTellReply() TellReply {
	return TellReply{Type: TypeTellReply}
}

// ErrorReply is a typed error response to a call, shared by both protocols.
type ErrorReply struct {
	Type    string  `json:"type"`
	Kind    string  `json:"kind"`
	Message *string `json:"message,omitempty"`
}

// NewErrorReply makes an ErrorReply from an error, mapping its kind onto the
// wire error taxonomy.
func NewErrorReply(err error) ErrorReply {
	msg := err.Error()
	return ErrorReply{Type: TypeErrorReply, Kind: errorKindToWire(kurobako.KindOf(err)), Message: &msg}
}

// Err converts the reply back into a classified error on the host side.
func (r ErrorReply) Err() error {
	kind := errorKindFromWire(r.Kind)
	if r.Message != nil {
		return kurobako.NewErrorf(kind, "peer error: %s", *r.Message)
	}
	return kurobako.NewError(kind, "peer error")
}

// The wire taxonomy is narrower than the host one; host-only kinds collapse
// onto their nearest wire kind.
func errorKindToWire(kind kurobako.ErrorKind) string {
	switch kind {
	case kurobako.InvalidInput, kurobako.CapabilityMismatch:
		return "INVALID_INPUT"
	case kurobako.IOError, kurobako.TransportClosed:
		return "IO_ERROR"
	case kurobako.Unevaluable:
		return "UNEVALUABLE"
	case kurobako.Bug, kurobako.ProtocolViolation:
		return "BUG"
	default:
		return "OTHER"
	}
}

func errorKindFromWire(kind string) kurobako.ErrorKind {
	switch kind {
	case "INVALID_INPUT":
		return kurobako.InvalidInput
	case "IO_ERROR":
		return kurobako.IOError
	case "UNEVALUABLE":
		return kurobako.Unevaluable
	case "BUG":
		return kurobako.Bug
	default:
		return kurobako.Other
	}
}
