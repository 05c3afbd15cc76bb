// Package report renders human-readable summaries of study traces.
package report

import (
	"fmt"
	"io"
	"math"
	"sort"

	kurobako "github.com/HideakiImamura/kurobako"
	"github.com/HideakiImamura/kurobako/record"
)

// Reporter aggregates study records by solver/problem pair.
type Reporter struct {
	studies []record.StudyRecord
}

// NewReporter makes a reporter over the given studies.
func NewReporter(studies []record.StudyRecord) *Reporter {
	return &Reporter{studies: studies}
}

type pairKey struct {
	solver  string
	problem string
}

type pairSummary struct {
	studies     int
	trials      int
	unevaluable int
	best        float64
	hasBest     bool
	elapsed     float64
}

// WriteMarkdown writes a per-pair summary table. The best value is the
// minimum, over all of a pair's trials, of each trial's last observed first
// objective; trials that stopped before the final step are included.
func (r *Reporter) WriteMarkdown(w io.Writer) error {
	if len(r.studies) == 0 {
		return kurobako.NewError(kurobako.InvalidInput, "no studies to report")
	}

	summaries := map[pairKey]*pairSummary{}
	for _, study := range r.studies {
		key := pairKey{solver: study.Solver.Spec.Name, problem: study.Problem.Spec.Name}
		s, ok := summaries[key]
		if !ok {
			s = &pairSummary{best: math.Inf(1)}
			summaries[key] = s
		}

		s.studies++
		s.trials += len(study.Trials)
		s.unevaluable += study.UnevaluableTrials
		s.elapsed += study.EndTime.Sub(study.StartTime).Seconds()
		for i := range study.Trials {
			if v, ok := study.Trials[i].BestValue(); ok && v < s.best {
				s.best = v
				s.hasBest = true
			}
		}
	}

	keys := make([]pairKey, 0, len(summaries))
	for key := range summaries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].problem != keys[j].problem {
			return keys[i].problem < keys[j].problem
		}
		return keys[i].solver < keys[j].solver
	})

	fmt.Fprintln(w, "# Benchmark Result Report")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Problem | Solver | Studies | Trials | Unevaluable | Best Value | Elapsed (s) |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|")
	for _, key := range keys {
		s := summaries[key]
		best := "-"
		if s.hasBest {
			best = fmt.Sprintf("%g", s.best)
		}
		fmt.Fprintf(w, "| %s | %s | %d | %d | %d | %s | %.2f |\n",
			key.problem, key.solver, s.studies, s.trials, s.unevaluable, best, s.elapsed)
	}
	return nil
}
