// Command kurobako is the benchmark CLI: it prints canonical recipes,
// runs studies, and summarizes the resulting traces.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	kurobako "github.com/HideakiImamura/kurobako"
	"github.com/HideakiImamura/kurobako/config"
	"github.com/HideakiImamura/kurobako/epi"
	"github.com/HideakiImamura/kurobako/problems/sphere"
	"github.com/HideakiImamura/kurobako/record"
	"github.com/HideakiImamura/kurobako/report"
	"github.com/HideakiImamura/kurobako/rng"
	"github.com/HideakiImamura/kurobako/runner"
	"github.com/HideakiImamura/kurobako/solvers/randomsearch"
	"github.com/HideakiImamura/kurobako/study"
)

func main() {
	// A .env file, when present, seeds the KUROBAKO_* environment.
	_ = godotenv.Load()
	cfg := config.FromEnv()

	root := &cobra.Command{
		Use:           "kurobako",
		Short:         "A black-box optimization benchmark harness",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newSolverCommand(),
		newProblemCommand(),
		newStudyCommand(cfg),
		newStudiesCommand(cfg),
		newRunCommand(cfg),
		newReportCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kurobako: %v\n", err)
		if kurobako.KindOf(err) == kurobako.InvalidInput {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(v)
}

func newSolverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solver",
		Short: "Print a canonical solver recipe",
	}

	var askAllSteps bool
	random := &cobra.Command{
		Use:   "random",
		Short: "Random search solver",
		RunE: func(*cobra.Command, []string) error {
			r := study.SolverRecipe{Random: &randomsearch.Recipe{AskAllSteps: askAllSteps}}
			return printJSON(r)
		},
	}
	random.Flags().BoolVar(&askAllSteps, "ask-all-steps", false,
		"advance trials one fidelity step at a time")

	command := &cobra.Command{
		Use:   "command PATH [ARGS...]",
		Short: "External solver program speaking the framed-JSON protocol",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			r := study.SolverRecipe{Command: &epi.CommandSolverRecipe{Path: args[0], Args: args[1:]}}
			return printJSON(r)
		},
	}

	cmd.AddCommand(random, command)
	return cmd
}

func newProblemCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "problem",
		Short: "Print a canonical problem recipe",
	}

	var dims int
	sphereCmd := &cobra.Command{
		Use:   "sphere",
		Short: "Sphere benchmark function",
		RunE: func(*cobra.Command, []string) error {
			r := study.ProblemRecipe{Sphere: &sphere.Recipe{Dims: dims}}
			return printJSON(r)
		},
	}
	sphereCmd.Flags().IntVar(&dims, "dims", 2, "number of input dimensions")

	command := &cobra.Command{
		Use:   "command PATH [ARGS...]",
		Short: "External problem program speaking the framed-JSON protocol",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			r := study.ProblemRecipe{Command: &epi.CommandProblemRecipe{Path: args[0], Args: args[1:]}}
			return printJSON(r)
		},
	}

	cmd.AddCommand(sphereCmd, command)
	return cmd
}

func studyFlags(cmd *cobra.Command, cfg *config.Config, solverJSON, problemJSON *string, budget *uint64, seed *uint64, seedSet *bool) {
	cmd.Flags().StringVar(solverJSON, "solver", "", "solver recipe JSON (required)")
	cmd.Flags().StringVar(problemJSON, "problem", "", "problem recipe JSON (required)")
	cmd.Flags().Uint64Var(budget, "budget", cfg.Budget, "number of complete evaluations")
	cmd.Flags().Uint64Var(seed, "seed", 0, "random seed")
	cmd.MarkFlagRequired("solver")
	cmd.MarkFlagRequired("problem")
	cmd.PreRun = func(c *cobra.Command, _ []string) {
		*seedSet = c.Flags().Changed("seed")
	}
}

func newStudyCommand(cfg *config.Config) *cobra.Command {
	var (
		solverJSON  string
		problemJSON string
		budget      uint64
		seed        uint64
		seedSet     bool
	)
	cmd := &cobra.Command{
		Use:   "study",
		Short: "Print a canonical study recipe",
		RunE: func(*cobra.Command, []string) error {
			recipe, err := buildStudyRecipe(solverJSON, problemJSON, budget, seed, seedSet, cfg)
			if err != nil {
				return err
			}
			return printJSON(recipe)
		},
	}
	studyFlags(cmd, cfg, &solverJSON, &problemJSON, &budget, &seed, &seedSet)
	return cmd
}

func newStudiesCommand(cfg *config.Config) *cobra.Command {
	var (
		solverJSONs  []string
		problemJSONs []string
		budget       uint64
		repeats      int
		seed         uint64
		seedSet      bool
	)
	cmd := &cobra.Command{
		Use:   "studies",
		Short: "Print the cross product of solver and problem recipes, one study per line",
		RunE: func(c *cobra.Command, _ []string) error {
			recipe := study.StudiesRecipe{Budget: budget, Repeats: repeats}
			for _, raw := range solverJSONs {
				var r study.SolverRecipe
				if err := json.Unmarshal([]byte(raw), &r); err != nil {
					return kurobako.WrapError(kurobako.InvalidInput, err, "parse solver recipe")
				}
				recipe.Solvers = append(recipe.Solvers, r)
			}
			for _, raw := range problemJSONs {
				var r study.ProblemRecipe
				if err := json.Unmarshal([]byte(raw), &r); err != nil {
					return kurobako.WrapError(kurobako.InvalidInput, err, "parse problem recipe")
				}
				recipe.Problems = append(recipe.Problems, r)
			}
			if c.Flags().Changed("seed") {
				recipe.Seed = &seed
			} else if cfg.Seed != nil {
				recipe.Seed = cfg.Seed
			}

			for _, s := range recipe.Studies() {
				if err := printJSON(s); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&solverJSONs, "solvers", nil, "solver recipe JSON (repeatable)")
	cmd.Flags().StringArrayVar(&problemJSONs, "problems", nil, "problem recipe JSON (repeatable)")
	cmd.Flags().Uint64Var(&budget, "budget", cfg.Budget, "number of complete evaluations per study")
	cmd.Flags().IntVar(&repeats, "repeats", 1, "studies per solver/problem pair")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "base random seed")
	cmd.MarkFlagRequired("solvers")
	cmd.MarkFlagRequired("problems")
	return cmd
}

func buildStudyRecipe(solverJSON, problemJSON string, budget, seed uint64, seedSet bool, cfg *config.Config) (*study.StudyRecipe, error) {
	recipe := &study.StudyRecipe{Budget: budget}
	if err := json.Unmarshal([]byte(solverJSON), &recipe.Solver); err != nil {
		return nil, kurobako.WrapError(kurobako.InvalidInput, err, "parse solver recipe")
	}
	if err := json.Unmarshal([]byte(problemJSON), &recipe.Problem); err != nil {
		return nil, kurobako.WrapError(kurobako.InvalidInput, err, "parse problem recipe")
	}
	if seedSet {
		recipe.Seed = &seed
	} else if cfg.Seed != nil {
		recipe.Seed = cfg.Seed
	}
	if err := recipe.Validate(); err != nil {
		return nil, err
	}
	return recipe, nil
}

func newRunCommand(cfg *config.Config) *cobra.Command {
	var traceSpans bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the studies read from stdin and write their traces to stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var tp oteltrace.TracerProvider
			if traceSpans {
				exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
				if err != nil {
					return kurobako.WrapError(kurobako.IOError, err, "create span exporter")
				}
				sdktp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
				defer sdktp.Shutdown(context.Background())
				tp = sdktp
			}
			return runStudies(cmd.Context(), os.Stdin, os.Stdout, cfg, tp)
		},
	}
	cmd.Flags().BoolVar(&traceSpans, "trace-spans", false, "emit OpenTelemetry spans on stderr")
	return cmd
}

func runStudies(ctx context.Context, in io.Reader, out io.Writer, cfg *config.Config, tp oteltrace.TracerProvider) error {
	// Seeds for unseeded studies derive from the configured base seed, or
	// from the process entropy when none is set.
	var seeder *rng.Rng
	if cfg.Seed != nil {
		seeder = rng.New(*cfg.Seed)
	} else {
		seeder = rng.New(entropySeed())
	}

	failures := 0
	dec := json.NewDecoder(in)
	for dec.More() {
		var recipe study.StudyRecipe
		if err := dec.Decode(&recipe); err != nil {
			return kurobako.WrapError(kurobako.InvalidInput, err, "parse study recipe")
		}
		if err := runStudy(ctx, &recipe, out, cfg, tp, seeder); err != nil {
			cfg.Logger.Error("study failed", "err", err)
			failures++
		}
	}

	if failures > 0 {
		return kurobako.NewErrorf(kurobako.Other, "%d of the studies failed", failures)
	}
	return nil
}

func runStudy(ctx context.Context, recipe *study.StudyRecipe, out io.Writer, cfg *config.Config, tp oteltrace.TracerProvider, seeder *rng.Rng) error {
	if err := recipe.Validate(); err != nil {
		return err
	}

	solverFactory, err := recipe.Solver.CreateFactory()
	if err != nil {
		return err
	}
	defer closeQuietly(solverFactory)
	problemFactory, err := recipe.Problem.CreateFactory()
	if err != nil {
		return err
	}
	defer closeQuietly(problemFactory)

	budget := recipe.Budget
	if budget == 0 {
		budget = cfg.Budget
	}
	concurrency := recipe.Concurrency
	if concurrency == 0 {
		concurrency = cfg.Concurrency
	}
	seed := seeder.GenSeed()
	if recipe.Seed != nil {
		seed = *recipe.Seed
	}
	solverJSON, err := recipe.SolverJSON()
	if err != nil {
		return kurobako.WrapError(kurobako.Bug, err, "encode solver recipe")
	}
	problemJSON, err := recipe.ProblemJSON()
	if err != nil {
		return kurobako.WrapError(kurobako.Bug, err, "encode problem recipe")
	}

	r, err := runner.NewStudyRunner(solverFactory, problemFactory, runner.Options{
		Budget:         budget,
		Concurrency:    concurrency,
		Seed:           seed,
		SolverRecipe:   solverJSON,
		ProblemRecipe:  problemJSON,
		TracerProvider: tp,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return err
	}

	trace, err := r.Run(ctx)
	if err != nil {
		return err
	}
	return trace.Write(out)
}

func newReportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Summarize the study traces read from stdin as markdown",
		RunE: func(*cobra.Command, []string) error {
			studies, err := record.Load(os.Stdin)
			if err != nil {
				return err
			}
			return report.NewReporter(studies).WriteMarkdown(os.Stdout)
		},
	}
}

func closeQuietly(v any) {
	if c, ok := v.(io.Closer); ok {
		c.Close()
	}
}

// entropySeed derives a base seed for runs that did not pin one.
func entropySeed() uint64 {
	return uint64(time.Now().UnixNano())
}
