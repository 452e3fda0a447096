package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/pkg/logging"
	"github.com/rushteam/shelfrec/recommend"
)

const recommendLongDesc string = `Recommend books for a user and print the result as JSON.

Users below the personalization threshold get an empty list together with
metadata describing how many more interactions they need.

Example:
  shelfrec recommend --user 6f1c... --limit 20
  shelfrec recommend --user 6f1c... --exclude 12,34`

const recommendShortDesc string = "Recommend books for a user"

type recommendCommander struct {
	root *rootCommander

	userID  string
	limit   int
	exclude []int64
	pretty  bool
}

func newRecommendCmd(root *rootCommander) *cobra.Command {
	cmder := &recommendCommander{root: root}

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: recommendShortDesc,
		Long:  recommendLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.userID, "user", "u", "", "User id to recommend for")
	cmd.Flags().IntVarP(&cmder.limit, "limit", "n", recommend.DefaultLimit, "Number of books to return")
	cmd.Flags().Int64SliceVar(&cmder.exclude, "exclude", nil, "Book ids to exclude instead of the user's interaction history")
	cmd.Flags().BoolVar(&cmder.pretty, "pretty", false, "Indent JSON output")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func (c *recommendCommander) run(cmd *cobra.Command) error {
	ctx := cmd.Context()
	logger := logging.With("cli")

	a, err := openApp(ctx, c.root.cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	engine, err := a.engine()
	if err != nil {
		return err
	}

	req := recommend.Request{UserID: c.userID, Limit: c.limit}
	if cmd.Flags().Changed("exclude") {
		req.Exclude = core.IDSet(c.exclude)
	}

	res, err := engine.Recommend(ctx, req)
	if err != nil {
		return fmt.Errorf("recommend: %w", err)
	}
	return writeJSON(cmd, res, c.pretty)
}

func writeJSON(cmd *cobra.Command, v any, pretty bool) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
