package epi

import (
	"encoding/json"
	"os"
	"sync/atomic"

	kurobako "github.com/HideakiImamura/kurobako"
	"github.com/HideakiImamura/kurobako/rng"
)

// CommandSolverRecipe runs an external program as a solver over the EPI
// protocol.
type CommandSolverRecipe struct {
	// Path is the program to execute.
	Path string `json:"path"`

	// Args are the program arguments, fixed at construction.
	Args []string `json:"args,omitempty"`

	// Dir is the working directory. Empty means inherit.
	Dir string `json:"dir,omitempty"`
}

// CreateFactory spawns the program and waits for its unsolicited
// SOLVER_SPEC_CAST.
func (r *CommandSolverRecipe) CreateFactory() (*CommandSolverFactory, error) {
	proc, err := spawnProcess(r.Path, r.Args, r.Dir, os.Stderr)
	if err != nil {
		return nil, kurobako.Wrap(err, "create solver factory")
	}
	return newCommandSolverFactory(proc)
}

func newCommandSolverFactory(proc *process) (*CommandSolverFactory, error) {
	msgType, raw, err := proc.recv()
	if err != nil {
		proc.kill()
		return nil, kurobako.Wrap(err, "await solver spec cast")
	}
	if msgType != TypeSolverSpecCast {
		proc.kill()
		return nil, kurobako.NewErrorf(kurobako.ProtocolViolation,
			"expected %s as the first message, got %s", TypeSolverSpecCast, msgType)
	}

	var cast SolverSpecCast
	if err := json.Unmarshal(raw, &cast); err != nil {
		proc.kill()
		return nil, kurobako.WrapError(kurobako.IOError, err, "decode solver spec cast")
	}

	return &CommandSolverFactory{spec: cast.Spec, proc: proc}, nil
}

// CommandSolverFactory is the host-side handle of an external solver
// program. One factory owns one subprocess; many solver instances can live
// inside it.
type CommandSolverFactory struct {
	spec         kurobako.SolverSpec
	proc         *process
	nextSolverID atomic.Uint64
}

var _ kurobako.SolverFactory = (*CommandSolverFactory)(nil)

// Specification returns the spec the program cast on startup.
func (f *CommandSolverFactory) Specification() (*kurobako.SolverSpec, error) {
	spec := f.spec
	return &spec, nil
}

// CreateSolver instantiates a solver instance inside the subprocess for the
// given problem, deriving the peer's seed from r.
func (f *CommandSolverFactory) CreateSolver(r *rng.Rng, problem *kurobako.ProblemSpec) (kurobako.Solver, error) {
	if !f.spec.Capabilities.Contains(problem.Requirements()) {
		return nil, kurobako.NewErrorf(kurobako.CapabilityMismatch,
			"solver %q lacks capabilities required by problem %q: have %s, need %s",
			f.spec.Name, problem.Name, f.spec.Capabilities, problem.Requirements())
	}

	solverID := f.nextSolverID.Add(1) - 1
	if err := f.proc.cast(NewCreateSolverCast(solverID, r.GenSeed(), *problem)); err != nil {
		return nil, kurobako.Wrap(err, "create solver")
	}
	return &CommandSolver{solverID: solverID, proc: f.proc}, nil
}

// Close kills the subprocess and reaps it.
func (f *CommandSolverFactory) Close() error {
	f.proc.kill()
	return nil
}

// CommandSolver is one solver instance living inside an external program.
type CommandSolver struct {
	solverID uint64
	proc     *process
}

var _ kurobako.Solver = (*CommandSolver)(nil)

// Ask requests the solver's next trial. The peer may mint trial IDs locally;
// the reply's next_trial_id hint fast-forwards the host generator so IDs
// stay collision-free.
func (s *CommandSolver) Ask(_ *rng.Rng, idg *kurobako.TrialIDGenerator) (kurobako.NextTrial, error) {
	msgType, raw, err := s.proc.call(NewAskCall(s.solverID, idg.Next))
	if err != nil {
		return kurobako.NextTrial{}, kurobako.Wrap(err, "ask")
	}

	switch msgType {
	case TypeAskReply:
		var reply AskReply
		if err := json.Unmarshal(raw, &reply); err != nil {
			return kurobako.NextTrial{}, kurobako.WrapError(kurobako.IOError, err, "decode ask reply")
		}
		idg.FastForward(reply.NextTrialID)
		return reply.Trial, nil
	case TypeErrorReply:
		var reply ErrorReply
		if err := json.Unmarshal(raw, &reply); err != nil {
			return kurobako.NextTrial{}, kurobako.WrapError(kurobako.IOError, err, "decode error reply")
		}
		return kurobako.NextTrial{}, kurobako.Wrap(reply.Err(), "ask")
	default:
		return kurobako.NextTrial{}, kurobako.NewErrorf(kurobako.ProtocolViolation, "unexpected message: %s", msgType)
	}
}

// Tell delivers an observation to the peer.
func (s *CommandSolver) Tell(trial kurobako.EvaluatedTrial) error {
	msgType, raw, err := s.proc.call(NewTellCall(s.solverID, trial))
	if err != nil {
		return kurobako.Wrap(err, "tell")
	}

	switch msgType {
	case TypeTellReply:
		return nil
	case TypeErrorReply:
		var reply ErrorReply
		if err := json.Unmarshal(raw, &reply); err != nil {
			return kurobako.WrapError(kurobako.IOError, err, "decode error reply")
		}
		return kurobako.Wrap(reply.Err(), "tell")
	default:
		return kurobako.NewErrorf(kurobako.ProtocolViolation, "unexpected message: %s", msgType)
	}
}

// Close notifies the subprocess that this solver instance is done.
func (s *CommandSolver) Close() error {
	return s.proc.cast(NewDropSolverCast(s.solverID))
}
