package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/rushteam/shelfrec/pkg/logging"
	"github.com/rushteam/shelfrec/train"
)

const trainLongDesc string = `Run an offline trainer and overwrite the vectors it produces.

Both trainers compute the full model before writing anything, so a failed
run leaves the previously stored vectors untouched.

Stored vectors fix the dimension of their kind. To retrain with a different
--factors or --dim, pass --reset: the kind's existing vectors are cleared
after training succeeds and before the new ones are written.`

func newTrainCmd(root *rootCommander) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run offline trainers",
		Long:  trainLongDesc,
	}
	cmd.AddCommand(newTrainCFCmd(root))
	cmd.AddCommand(newTrainGraphCmd(root))
	return cmd
}

func newTrainCFCmd(root *rootCommander) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "cf",
		Short: "Train ALS collaborative-filtering vectors for users and books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := logging.With("train")
			ac := root.cfg.Train.ALS

			a, err := openApp(ctx, root.cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			opts := []train.Option{train.WithLogger(logger)}
			if reset {
				opts = append(opts, train.WithReset())
			}
			trainer := train.NewALSTrainer(train.ALSConfig{
				Factors:         ac.Factors,
				Iterations:      ac.Iterations,
				Regularization:  ac.Regularization,
				MinInteractions: ac.MinInteractions,
				Seed:            ac.Seed,
				Workers:         ac.Workers,
			}, a.interactions, a.vectors, opts...)

			start := time.Now()
			model, err := trainer.Run(ctx)
			if err != nil {
				return err
			}
			logger.Info().
				Int("users", len(model.UserVectors)).
				Int("books", len(model.BookVectors)).
				Dur("elapsed", time.Since(start)).
				Msg("cf vectors written")
			return a.persist()
		},
	}

	d := train.DefaultALSConfig()
	flags := cmd.Flags()
	flags.Int("min-interactions", d.MinInteractions, "Minimum interactions for a user or book to be trained")
	flags.Int("factors", d.Factors, "Latent factor dimension")
	flags.Int("iterations", d.Iterations, "Number of ALS iterations")
	flags.Float64("regularization", d.Regularization, "L2 regularization strength")
	flags.Int64("seed", d.Seed, "Random seed for factor initialization")
	flags.Int("workers", 0, "Parallel solvers (0 uses all CPUs)")
	flags.BoolVar(&reset, "reset", false, "Clear all cf vectors before writing, required when --factors changes")
	bindFlag(flags, "min-interactions", "train.als.min_interactions")
	bindFlag(flags, "factors", "train.als.factors")
	bindFlag(flags, "iterations", "train.als.iterations")
	bindFlag(flags, "regularization", "train.als.regularization")
	bindFlag(flags, "seed", "train.als.seed")
	bindFlag(flags, "workers", "train.als.workers")

	return cmd
}

func newTrainGraphCmd(root *rootCommander) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Train graph-propagated book vectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := logging.With("train")
			gc := root.cfg.Train.Graph

			a, err := openApp(ctx, root.cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			opts := []train.Option{train.WithLogger(logger)}
			if reset {
				opts = append(opts, train.WithReset())
			}
			trainer := train.NewGraphTrainer(train.GraphConfig{
				Dim:             gc.Dim,
				Rounds:          gc.Rounds,
				MinInteractions: gc.MinInteractions,
				Seed:            gc.Seed,
			}, a.interactions, a.vectors, opts...)

			start := time.Now()
			vectors, err := trainer.Run(ctx)
			if err != nil {
				return err
			}
			logger.Info().
				Int("books", len(vectors)).
				Dur("elapsed", time.Since(start)).
				Msg("graph vectors written")
			return a.persist()
		},
	}

	d := train.DefaultGraphConfig()
	flags := cmd.Flags()
	flags.Int("min-interactions", d.MinInteractions, "Minimum interactions for a book to join the graph")
	flags.Int("dim", d.Dim, "Embedding dimension")
	flags.Int("rounds", d.Rounds, "Propagation rounds")
	flags.Int64("seed", d.Seed, "Random seed for initial vectors")
	flags.BoolVar(&reset, "reset", false, "Clear all graph vectors before writing, required when --dim changes")
	bindFlag(flags, "min-interactions", "train.graph.min_interactions")
	bindFlag(flags, "dim", "train.graph.dim")
	bindFlag(flags, "rounds", "train.graph.rounds")
	bindFlag(flags, "seed", "train.graph.seed")

	return cmd
}
