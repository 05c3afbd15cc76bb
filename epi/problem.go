package epi

import (
	"encoding/json"
	"os"
	"sync/atomic"

	kurobako "github.com/HideakiImamura/kurobako"
	"github.com/HideakiImamura/kurobako/rng"
)

// CommandProblemRecipe runs an external program as a problem over the EPI
// protocol.
type CommandProblemRecipe struct {
	// Path is the program to execute.
	Path string `json:"path"`

	// Args are the program arguments, fixed at construction.
	Args []string `json:"args,omitempty"`

	// Dir is the working directory. Empty means inherit.
	Dir string `json:"dir,omitempty"`
}

// CreateFactory spawns the program and waits for its unsolicited
// PROBLEM_SPEC_CAST.
func (r *CommandProblemRecipe) CreateFactory() (*CommandProblemFactory, error) {
	proc, err := spawnProcess(r.Path, r.Args, r.Dir, os.Stderr)
	if err != nil {
		return nil, kurobako.Wrap(err, "create problem factory")
	}
	return newCommandProblemFactory(proc)
}

func newCommandProblemFactory(proc *process) (*CommandProblemFactory, error) {
	msgType, raw, err := proc.recv()
	if err != nil {
		proc.kill()
		return nil, kurobako.Wrap(err, "await problem spec cast")
	}
	if msgType != TypeProblemSpecCast {
		proc.kill()
		return nil, kurobako.NewErrorf(kurobako.ProtocolViolation,
			"expected %s as the first message, got %s", TypeProblemSpecCast, msgType)
	}

	var cast ProblemSpecCast
	if err := json.Unmarshal(raw, &cast); err != nil {
		proc.kill()
		return nil, kurobako.WrapError(kurobako.IOError, err, "decode problem spec cast")
	}

	return &CommandProblemFactory{spec: cast.Spec, proc: proc}, nil
}

// CommandProblemFactory is the host-side handle of an external problem
// program. One factory owns one subprocess; every problem and evaluator it
// creates routes calls through that subprocess.
type CommandProblemFactory struct {
	spec          kurobako.ProblemSpec
	proc          *process
	nextProblemID atomic.Uint64
}

var _ kurobako.ProblemFactory = (*CommandProblemFactory)(nil)

// Specification returns the spec the program cast on startup.
func (f *CommandProblemFactory) Specification() (*kurobako.ProblemSpec, error) {
	spec := f.spec
	return &spec, nil
}

// CreateProblem instantiates a problem instance inside the subprocess,
// deriving the peer's seed from r.
func (f *CommandProblemFactory) CreateProblem(r *rng.Rng) (kurobako.Problem, error) {
	problemID := f.nextProblemID.Add(1) - 1
	if err := f.proc.cast(NewCreateProblemCast(problemID, r.GenSeed())); err != nil {
		return nil, kurobako.Wrap(err, "create problem")
	}
	return &CommandProblem{problemID: problemID, proc: f.proc}, nil
}

// Close kills the subprocess and reaps it.
func (f *CommandProblemFactory) Close() error {
	f.proc.kill()
	return nil
}

// CommandProblem is one problem instance living inside an external program.
type CommandProblem struct {
	problemID       uint64
	proc            *process
	nextEvaluatorID atomic.Uint64
}

var _ kurobako.Problem = (*CommandProblem)(nil)

// CreateEvaluator binds a fresh evaluator to params inside the subprocess.
func (p *CommandProblem) CreateEvaluator(params kurobako.Params) (kurobako.Evaluator, error) {
	evaluatorID := p.nextEvaluatorID.Add(1) - 1
	msgType, raw, err := p.proc.call(NewCreateEvaluatorCall(p.problemID, evaluatorID, params))
	if err != nil {
		return nil, kurobako.Wrap(err, "create evaluator")
	}

	switch msgType {
	case TypeCreateEvaluatorReply:
		return &CommandEvaluator{problemID: p.problemID, evaluatorID: evaluatorID, proc: p.proc}, nil
	case TypeErrorReply:
		var reply ErrorReply
		if err := json.Unmarshal(raw, &reply); err != nil {
			return nil, kurobako.WrapError(kurobako.IOError, err, "decode error reply")
		}
		return nil, kurobako.Wrap(reply.Err(), "create evaluator")
	default:
		return nil, kurobako.NewErrorf(kurobako.ProtocolViolation, "unexpected message: %s", msgType)
	}
}

// Close notifies the subprocess that this problem instance is done.
func (p *CommandProblem) Close() error {
	return p.proc.cast(NewDropProblemCast(p.problemID))
}

// CommandEvaluator is one evaluator living inside an external program.
type CommandEvaluator struct {
	problemID   uint64
	evaluatorID uint64
	proc        *process
}

var _ kurobako.Evaluator = (*CommandEvaluator)(nil)

// Evaluate advances the evaluation up to nextStep inside the subprocess.
func (e *CommandEvaluator) Evaluate(nextStep uint64) (uint64, kurobako.Values, error) {
	msgType, raw, err := e.proc.call(NewEvaluateCall(e.problemID, e.evaluatorID, nextStep))
	if err != nil {
		return 0, nil, kurobako.Wrap(err, "evaluate")
	}

	switch msgType {
	case TypeEvaluateReply:
		var reply EvaluateReply
		if err := json.Unmarshal(raw, &reply); err != nil {
			return 0, nil, kurobako.WrapError(kurobako.IOError, err, "decode evaluate reply")
		}
		return reply.CurrentStep, reply.Values, nil
	case TypeErrorReply:
		var reply ErrorReply
		if err := json.Unmarshal(raw, &reply); err != nil {
			return 0, nil, kurobako.WrapError(kurobako.IOError, err, "decode error reply")
		}
		return 0, nil, kurobako.Wrap(reply.Err(), "evaluate")
	default:
		return 0, nil, kurobako.NewErrorf(kurobako.ProtocolViolation, "unexpected message: %s", msgType)
	}
}

// Close notifies the subprocess that this evaluator is done.
func (e *CommandEvaluator) Close() error {
	return e.proc.cast(NewDropEvaluatorCast(e.problemID, e.evaluatorID))
}
