package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/rushteam/shelfrec/core"
)

const bookFields = `id, title, author, description, genres`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanBook 读取 bookFields，extra 追加在其后
func scanBook(row rowScanner, extra ...any) (*core.Book, error) {
	var b core.Book
	var genres []string
	dest := append([]any{&b.ID, &b.Title, &b.Author, &b.Description, pq.Array(&genres)}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, errors.Wrap(err, "failed to scan book")
	}
	b.Genres = genres
	return &b, nil
}

func (d *DB) queryBooks(ctx context.Context, query string, args ...any) ([]*core.Book, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query books")
	}
	defer rows.Close()

	var list []*core.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

func excludeIDs(exclude map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(exclude))
	for id := range exclude {
		ids = append(ids, id)
	}
	return ids
}

func (d *DB) GetBooks(ctx context.Context, ids []int64) (map[int64]*core.Book, error) {
	out := make(map[int64]*core.Book, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	list, err := d.queryBooks(ctx, `SELECT `+bookFields+` FROM books WHERE id = ANY(`+placeholder(1)+`)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	for _, b := range list {
		out[b.ID] = b
	}
	return out, nil
}

func (d *DB) FindByGenresOrAuthors(ctx context.Context, genres, authors []string, exclude map[int64]struct{}, limit int) ([]*core.Book, error) {
	if len(genres) == 0 && len(authors) == 0 {
		return nil, nil
	}
	query := `
		SELECT ` + bookFields + `
		FROM books
		WHERE (genres && ` + placeholder(1) + ` OR lower(author) = ANY(` + placeholder(2) + `))
			AND NOT (id = ANY(` + placeholder(3) + `))
		ORDER BY (lower(author) = ANY(` + placeholder(2) + `)) DESC, id DESC
		LIMIT ` + placeholder(4)
	return d.queryBooks(ctx, query, pq.Array(genres), pq.Array(lowerAll(authors)), pq.Array(excludeIDs(exclude)), limitOrAll(limit))
}

func (d *DB) ListRecent(ctx context.Context, exclude map[int64]struct{}, limit int) ([]*core.Book, error) {
	query := `
		SELECT ` + bookFields + `
		FROM books
		WHERE NOT (id = ANY(` + placeholder(1) + `))
		ORDER BY id DESC
		LIMIT ` + placeholder(2)
	return d.queryBooks(ctx, query, pq.Array(excludeIDs(exclude)), limitOrAll(limit))
}

func (d *DB) ListBooks(ctx context.Context, afterID int64, limit int) ([]*core.Book, error) {
	query := `
		SELECT ` + bookFields + `
		FROM books
		WHERE id > ` + placeholder(1) + `
		ORDER BY id
		LIMIT ` + placeholder(2)
	return d.queryBooks(ctx, query, afterID, limitOrAll(limit))
}

// limitOrAll 把非正数转为 NULL，LIMIT NULL 等价于不限制
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

func (d *DB) GetUser(ctx context.Context, userID string) (*core.User, error) {
	var raw []byte
	err := d.db.QueryRowContext(ctx, `SELECT preferences FROM users WHERE id = `+placeholder(1), userID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, core.ErrStoreNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user")
	}
	return decodeUser(userID, raw)
}

func (d *DB) ListUsers(ctx context.Context) ([]*core.User, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, preferences FROM users ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	defer rows.Close()

	var list []*core.User
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, errors.Wrap(err, "failed to scan user")
		}
		u, err := decodeUser(id, raw)
		if err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

func decodeUser(id string, raw []byte) (*core.User, error) {
	u := &core.User{ID: id}
	if len(raw) == 0 {
		return u, nil
	}
	var prefs core.KYCPreferences
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return nil, errors.Wrapf(err, "failed to decode preferences of user %s", id)
	}
	u.Preferences = &prefs
	return u, nil
}

func (d *DB) ListInteractions(ctx context.Context, userID string) ([]core.Interaction, error) {
	query := `SELECT user_id, book_id, interaction_type, rating, created_at FROM interactions`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ` + placeholder(1)
		args = append(args, userID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list interactions")
	}
	defer rows.Close()

	list := []core.Interaction{}
	for rows.Next() {
		var in core.Interaction
		var kind string
		var rating sql.NullFloat64
		if err := rows.Scan(&in.UserID, &in.BookID, &kind, &rating, &in.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan interaction")
		}
		in.Kind = core.InteractionKind(kind)
		if rating.Valid {
			r := rating.Float64
			in.Rating = &r
		}
		list = append(list, in)
	}
	return list, rows.Err()
}

func (d *DB) CountInteractions(ctx context.Context, userID string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interactions WHERE user_id = `+placeholder(1), userID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count interactions")
	}
	return n, nil
}

var (
	_ core.InteractionStore = (*DB)(nil)
	_ core.UserStore        = (*DB)(nil)
	_ core.UserLister       = (*DB)(nil)
	_ core.BookCatalog      = (*DB)(nil)
)
