package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rushteam/shelfrec/core"
	"github.com/rushteam/shelfrec/encoder"
	"github.com/rushteam/shelfrec/pkg/logging"
)

const embedLongDesc string = `Generate embeddings that are missing from the vector store.

Books without a content embedding are encoded from title, author, genres and
description. Users with KYC preferences but no KYC embedding are encoded
from their preferences. Existing vectors are never overwritten unless
--force is given.`

type embedCommander struct {
	root *rootCommander

	skipBooks bool
	skipUsers bool
	force     bool
}

func newEmbedCmd(root *rootCommander) *cobra.Command {
	cmder := &embedCommander{root: root}

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Generate missing content and KYC embeddings",
		Long:  embedLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&cmder.skipBooks, "skip-books", false, "Do not encode book content")
	flags.BoolVar(&cmder.skipUsers, "skip-users", false, "Do not encode user KYC preferences")
	flags.BoolVar(&cmder.force, "force", false, "Re-encode entities that already have a vector")
	flags.Int("batch-size", 64, "Texts per encoder request")
	bindFlag(flags, "batch-size", "encoder.batch_size")

	return cmd
}

func (c *embedCommander) run(ctx context.Context) error {
	logger := logging.With("embed")
	cfg := c.root.cfg

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	enc, err := a.encoder()
	if err != nil {
		return err
	}
	batch := cfg.Encoder.BatchSize
	if batch <= 0 {
		batch = 64
	}

	if !c.skipBooks {
		n, err := c.embedBooks(ctx, a, enc, batch, logger)
		if err != nil {
			return err
		}
		logger.Info().Int("books", n).Msg("content embeddings written")
	}
	if !c.skipUsers {
		n, err := c.embedUsers(ctx, a, enc, batch, logger)
		if err != nil {
			return err
		}
		logger.Info().Int("users", n).Msg("kyc embeddings written")
	}
	return a.persist()
}

// embedBooks 按 ID 分页遍历目录，每页只编码缺少 content 向量的图书
func (c *embedCommander) embedBooks(ctx context.Context, a *app, enc core.TextEncoder, batch int, logger zerolog.Logger) (int, error) {
	written := 0
	var after int64
	for {
		books, err := a.catalog.ListBooks(ctx, after, batch)
		if err != nil {
			return written, fmt.Errorf("list books: %w", err)
		}
		if len(books) == 0 {
			return written, nil
		}
		after = books[len(books)-1].ID

		pending := books
		if !c.force {
			ids := make([]int64, len(books))
			for i, b := range books {
				ids[i] = b.ID
			}
			existing, err := a.vectors.BookVectors(ctx, core.VectorKindContent, ids)
			if err != nil {
				return written, fmt.Errorf("load content vectors: %w", err)
			}
			pending = nil
			for _, b := range books {
				if _, ok := existing[b.ID]; !ok {
					pending = append(pending, b)
				}
			}
		}
		if len(pending) == 0 {
			continue
		}

		texts := make([]string, len(pending))
		for i, b := range pending {
			texts[i] = encoder.BookText(b)
		}
		vecs, err := encoder.EncodeAll(ctx, enc, texts)
		if err != nil {
			return written, fmt.Errorf("encode books: %w", err)
		}

		out := make(map[int64][]float64, len(pending))
		for i, b := range pending {
			out[b.ID] = vecs[i]
		}
		if err := a.vectors.SetBookVectors(ctx, core.VectorKindContent, out); err != nil {
			return written, err
		}
		written += len(out)
		logger.Debug().Int64("after_id", after).Int("encoded", len(out)).Msg("book batch encoded")
	}
}

// embedUsers 只处理填写了偏好的用户；UserStore 不支持遍历时跳过
func (c *embedCommander) embedUsers(ctx context.Context, a *app, enc core.TextEncoder, batch int, logger zerolog.Logger) (int, error) {
	lister, ok := a.users.(core.UserLister)
	if !ok {
		logger.Warn().Msg("user store cannot list users, skipping kyc embeddings")
		return 0, nil
	}
	users, err := lister.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	var pending []*core.User
	for _, u := range users {
		if u.Preferences.IsEmpty() {
			continue
		}
		if !c.force {
			v, err := a.vectors.GetUserVector(ctx, u.ID, core.VectorKindKYC)
			if err != nil {
				return 0, err
			}
			if v != nil {
				continue
			}
		}
		pending = append(pending, u)
	}

	written := 0
	for start := 0; start < len(pending); start += batch {
		chunk := pending[start:min(start+batch, len(pending))]
		texts := make([]string, len(chunk))
		for i, u := range chunk {
			texts[i] = encoder.KYCText(u.Preferences)
		}
		vecs, err := encoder.EncodeAll(ctx, enc, texts)
		if err != nil {
			return written, fmt.Errorf("encode users: %w", err)
		}
		out := make(map[string][]float64, len(chunk))
		for i, u := range chunk {
			out[u.ID] = vecs[i]
		}
		if err := a.vectors.SetUserVectors(ctx, core.VectorKindKYC, out); err != nil {
			return written, err
		}
		written += len(out)
	}
	return written, nil
}
