package epi

import (
	"encoding/json"
	"io"

	kurobako "github.com/HideakiImamura/kurobako"
	"github.com/HideakiImamura/kurobako/rng"
)

// ProblemRunner serves a ProblemFactory as an EPI peer: it casts the problem
// spec once, then answers the host's calls until the host closes the pipe.
type ProblemRunner struct {
	factory    kurobako.ProblemFactory
	problems   map[uint64]kurobako.Problem
	evaluators map[evaluatorKey]kurobako.Evaluator
}

type evaluatorKey struct {
	problemID   uint64
	evaluatorID uint64
}

// NewProblemRunner makes a runner serving factory.
func NewProblemRunner(factory kurobako.ProblemFactory) *ProblemRunner {
	return &ProblemRunner{
		factory:    factory,
		problems:   map[uint64]kurobako.Problem{},
		evaluators: map[evaluatorKey]kurobako.Evaluator{},
	}
}

// Run serves the protocol over the given stream pair until EOF.
func (r *ProblemRunner) Run(in io.Reader, out io.Writer) error {
	tx := NewMessageSender(out)
	rx := NewMessageReceiver(in, io.Discard)

	spec, err := r.factory.Specification()
	if err != nil {
		return kurobako.Wrap(err, "problem specification")
	}
	if err := tx.Send(NewProblemSpecCast(*spec)); err != nil {
		return err
	}

	for {
		msgType, raw, err := rx.Recv()
		if err != nil {
			if kurobako.KindOf(err) == kurobako.TransportClosed {
				return nil
			}
			return err
		}
		if err := r.handle(tx, msgType, raw); err != nil {
			return err
		}
	}
}

func (r *ProblemRunner) handle(tx *MessageSender, msgType string, raw json.RawMessage) error {
	switch msgType {
	case TypeCreateProblemCast:
		var m CreateProblemCast
		if err := json.Unmarshal(raw, &m); err != nil {
			return kurobako.WrapError(kurobako.IOError, err, "decode create problem cast")
		}
		problem, err := r.factory.CreateProblem(rng.New(m.RandomSeed))
		if err != nil {
			return kurobako.Wrap(err, "create problem")
		}
		r.problems[m.ProblemID] = problem
		return nil

	case TypeDropProblemCast:
		var m DropProblemCast
		if err := json.Unmarshal(raw, &m); err != nil {
			return kurobako.WrapError(kurobako.IOError, err, "decode drop problem cast")
		}
		if p, ok := r.problems[m.ProblemID]; ok {
			if c, ok := p.(io.Closer); ok {
				c.Close()
			}
			delete(r.problems, m.ProblemID)
		}
		return nil

	case TypeCreateEvaluatorCall:
		var m CreateEvaluatorCall
		if err := json.Unmarshal(raw, &m); err != nil {
			return kurobako.WrapError(kurobako.IOError, err, "decode create evaluator call")
		}
		problem, ok := r.problems[m.ProblemID]
		if !ok {
			return tx.Send(NewErrorReply(kurobako.NewErrorf(kurobako.InvalidInput, "unknown problem: %d", m.ProblemID)))
		}
		evaluator, err := problem.CreateEvaluator(m.Params)
		if err != nil {
			return tx.Send(NewErrorReply(err))
		}
		r.evaluators[evaluatorKey{m.ProblemID, m.EvaluatorID}] = evaluator
		return tx.Send(NewCreateEvaluatorReply())

	case TypeDropEvaluatorCast:
		var m DropEvaluatorCast
		if err := json.Unmarshal(raw, &m); err != nil {
			return kurobako.WrapError(kurobako.IOError, err, "decode drop evaluator cast")
		}
		key := evaluatorKey{m.ProblemID, m.EvaluatorID}
		if e, ok := r.evaluators[key]; ok {
			if c, ok := e.(io.Closer); ok {
				c.Close()
			}
			delete(r.evaluators, key)
		}
		return nil

	case TypeEvaluateCall:
		var m EvaluateCall
		if err := json.Unmarshal(raw, &m); err != nil {
			return kurobako.WrapError(kurobako.IOError, err, "decode evaluate call")
		}
		evaluator, ok := r.evaluators[evaluatorKey{m.ProblemID, m.EvaluatorID}]
		if !ok {
			return tx.Send(NewErrorReply(kurobako.NewErrorf(kurobako.InvalidInput, "unknown evaluator: %d", m.EvaluatorID)))
		}
		currentStep, values, err := evaluator.Evaluate(m.NextStep)
		if err != nil {
			return tx.Send(NewErrorReply(err))
		}
		return tx.Send(NewEvaluateReply(currentStep, values))

	default:
		return kurobako.NewErrorf(kurobako.ProtocolViolation, "unexpected message: %s", msgType)
	}
}
