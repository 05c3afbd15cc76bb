package epi

import (
	"encoding/json"
	"io"

	kurobako "github.com/HideakiImamura/kurobako"
	"github.com/HideakiImamura/kurobako/rng"
)

// SolverRunner serves a SolverFactory as an EPI peer: it casts the solver
// spec once, then answers the host's calls until the host closes the pipe.
// Programs use it from main:
//
//	runner := epi.NewSolverRunner(factory)
//	if err := runner.Run(os.Stdin, os.Stdout); err != nil { ... }
type SolverRunner struct {
	factory kurobako.SolverFactory
	solvers map[uint64]*servedSolver
}

type servedSolver struct {
	solver kurobako.Solver
	rng    *rng.Rng
}

// NewSolverRunner makes a runner serving factory.
func NewSolverRunner(factory kurobako.SolverFactory) *SolverRunner {
	return &SolverRunner{factory: factory, solvers: map[uint64]*servedSolver{}}
}

// Run serves the protocol over the given stream pair until EOF.
func (r *SolverRunner) Run(in io.Reader, out io.Writer) error {
	tx := NewMessageSender(out)
	rx := NewMessageReceiver(in, io.Discard)

	spec, err := r.factory.Specification()
	if err != nil {
		return kurobako.Wrap(err, "solver specification")
	}
	if err := tx.Send(NewSolverSpecCast(*spec)); err != nil {
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

func (r *SolverRunner) handle(tx *MessageSender, msgType string, raw json.RawMessage) error {
	switch msgType {
	case TypeCreateSolverCast:
		var m CreateSolverCast
		if err := json.Unmarshal(raw, &m); err != nil {
			return kurobako.WrapError(kurobako.IOError, err, "decode create solver cast")
		}
		seeded := rng.New(m.RandomSeed)
		solver, err := r.factory.CreateSolver(seeded, &m.Problem)
		if err != nil {
			return kurobako.Wrap(err, "create solver")
		}
		r.solvers[m.SolverID] = &servedSolver{solver: solver, rng: seeded}
		return nil

	case TypeDropSolverCast:
		var m DropSolverCast
		if err := json.Unmarshal(raw, &m); err != nil {
			return kurobako.WrapError(kurobako.IOError, err, "decode drop solver cast")
		}
		if s, ok := r.solvers[m.SolverID]; ok {
			if c, ok := s.solver.(io.Closer); ok {
				c.Close()
			}
			delete(r.solvers, m.SolverID)
		}
		return nil

	case TypeAskCall:
		var m AskCall
		if err := json.Unmarshal(raw, &m); err != nil {
			return kurobako.WrapError(kurobako.IOError, err, "decode ask call")
		}
		s, ok := r.solvers[m.SolverID]
		if !ok {
			return tx.Send(NewErrorReply(kurobako.NewErrorf(kurobako.InvalidInput, "unknown solver: %d", m.SolverID)))
		}
		idg := &kurobako.TrialIDGenerator{Next: m.NextTrialID}
		trial, err := s.solver.Ask(s.rng, idg)
		if err != nil {
			return tx.Send(NewErrorReply(err))
		}
		return tx.Send(NewAskReply(trial, idg.Next))

	case TypeTellCall:
		var m TellCall
		if err := json.Unmarshal(raw, &m); err != nil {
			return kurobako.WrapError(kurobako.IOError, err, "decode tell call")
		}
		s, ok := r.solvers[m.SolverID]
		if !ok {
			return tx.Send(NewErrorReply(kurobako.NewErrorf(kurobako.InvalidInput, "unknown solver: %d", m.SolverID)))
		}
		if err := s.solver.Tell(m.Trial); err != nil {
			return tx.Send(NewErrorReply(err))
		}
		return tx.Send(NewTellReply())

	default:
		return kurobako.NewErrorf(kurobako.ProtocolViolation, "unexpected message: %s", msgType)
	}
}
