package main

import (
	"github.com/spf13/cobra"

	"github.com/rushteam/shelfrec/eval"
	"github.com/rushteam/shelfrec/pkg/logging"
)

const evaluateLongDesc string = `Evaluate the recommender offline and print a JSON report.

Each user's interactions are split by time: the most recent share becomes
the test set. Recommendations are generated with the training books
excluded and scored with Precision, Recall and nDCG at every k. Rating
prediction error (RMSE, MAE) is measured on test interactions that carry an
explicit rating, using the stored cf vectors. The report also carries a
coverage block: user, book and interaction totals plus how many users and
books have each kind of vector.`

func newEvaluateCmd(root *rootCommander) *cobra.Command {
	var (
		pretty    bool
		predictor string
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run the offline evaluation",
		Long:  evaluateLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := logging.With("eval")
			ec := root.cfg.Eval

			a, err := openApp(ctx, root.cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			engine, err := a.engine()
			if err != nil {
				return err
			}

			opts := []eval.Option{eval.WithLogger(logger), eval.WithCatalog(a.catalog)}
			if predictor == "dot" {
				opts = append(opts, eval.WithPredictor(eval.DotRatingPredictor{}))
			}
			harness := eval.NewHarness(a.interactions, a.vectors, engine, opts...)

			report, err := harness.Evaluate(ctx, eval.Options{
				KValues:         ec.KValues,
				MinInteractions: ec.MinInteractions,
				TestRatio:       ec.TestRatio,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd, report, pretty)
		},
	}

	flags := cmd.Flags()
	flags.IntSlice("k", eval.DefaultKValues, "Cutoffs for ranking metrics")
	flags.Int("min-interactions", eval.DefaultMinInteractions, "Minimum interactions for a user to be evaluated")
	flags.Float64("test-ratio", eval.DefaultTestRatio, "Share of each user's most recent interactions held out")
	flags.StringVar(&predictor, "predictor", "cosine", "Rating predictor: cosine or dot")
	flags.BoolVar(&pretty, "pretty", false, "Indent JSON output")
	bindFlag(flags, "k", "eval.k_values")
	bindFlag(flags, "min-interactions", "eval.min_interactions")
	bindFlag(flags, "test-ratio", "eval.test_ratio")

	return cmd
}
