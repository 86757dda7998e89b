package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/kirillkom/self-correcting-rag/internal/core/domain"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

type LexicalOptions struct {
	// Table must expose id, title, body and a tsvector column.
	Table        string
	VectorColumn string
	// TextSearchConfig is the postgres text search configuration, e.g.
	// "english" or "simple".
	TextSearchConfig string
}

// LexicalIndex ranks documents with postgres full text search
// (ts_rank_cd over a tsvector column).
type LexicalIndex struct {
	db    *sql.DB
	opts  LexicalOptions
	query string
}

func NewLexicalIndex(db *sql.DB, opts LexicalOptions) (*LexicalIndex, error) {
	if opts.Table == "" {
		opts.Table = "documents"
	}
	if opts.VectorColumn == "" {
		opts.VectorColumn = "search_vector"
	}
	if opts.TextSearchConfig == "" {
		opts.TextSearchConfig = "english"
	}
	if !identifierPattern.MatchString(opts.Table) || !identifierPattern.MatchString(opts.VectorColumn) {
		return nil, domain.WrapError(domain.ErrConfiguration, "lexical index", fmt.Errorf("invalid table or column name %q.%q", opts.Table, opts.VectorColumn))
	}
	// Identifiers are validated above; values travel as parameters.
	query := fmt.Sprintf(`
SELECT id, COALESCE(title, ''), body, ts_rank_cd(%[2]s, q) AS score
FROM %[1]s, websearch_to_tsquery($1::regconfig, $2) AS q
WHERE %[2]s @@ q
ORDER BY score DESC, id ASC
LIMIT $3
`, opts.Table, opts.VectorColumn)
	return &LexicalIndex{db: db, opts: opts, query: query}, nil
}

func (l *LexicalIndex) Search(ctx context.Context, queryText string, topK int) ([]domain.PathHit, error) {
	terms := lexicalTerms(queryText)
	if terms == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}

	rows, err := l.db.QueryContext(ctx, l.query, l.opts.TextSearchConfig, terms, topK)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	out := make([]domain.PathHit, 0, topK)
	for rows.Next() {
		var hit domain.PathHit
		if err := rows.Scan(&hit.DocumentID, &hit.Title, &hit.Text, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan lexical hit: %w", err)
		}
		out = append(out, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lexical hits: %w", err)
	}
	return out, nil
}

// EnsureReady fails with a ConfigurationError when the table is missing.
func (l *LexicalIndex) EnsureReady(ctx context.Context) error {
	var name sql.NullString
	if err := l.db.QueryRowContext(ctx, `SELECT to_regclass($1)::text`, l.opts.Table).Scan(&name); err != nil {
		return domain.WrapError(domain.ErrConfiguration, "lexical index", fmt.Errorf("lookup table %s: %w", l.opts.Table, err))
	}
	if !name.Valid {
		return domain.WrapError(domain.ErrConfiguration, "lexical index", fmt.Errorf("table %s does not exist", l.opts.Table))
	}
	return nil
}

// lexicalTerms turns a question into an OR query so a document matching
// any keyword is ranked instead of requiring every word.
func lexicalTerms(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " or ")
}
