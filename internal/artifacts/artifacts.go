// Package artifacts turns extracted artifact databases into tables.
// Parsers are selected by artifact kind.
package artifacts

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"slices"

	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/models"
	"github.com/starford/perthro/internal/sqlitero"
)

// Table is the tabular content of one parsed artifact.
type Table struct {
	Kind    models.ArtifactKind `json:"kind"`
	Title   string              `json:"title"`
	Columns []string            `json:"columns"`
	Rows    [][]string          `json:"rows"`
}

// WriteCSV writes the table with a header row.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("artifacts: write csv: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("artifacts: write csv: %w", err)
	}
	return nil
}

// Parser reads one artifact file.
type Parser interface {
	Parse(ctx context.Context, path string) (*Table, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(ctx context.Context, path string) (*Table, error)

// Parse calls f.
func (f ParserFunc) Parse(ctx context.Context, path string) (*Table, error) { return f(ctx, path) }

var registry = map[models.ArtifactKind]Parser{
	models.KindPhotos:       ParserFunc(parsePhotos),
	models.KindAccounts:     query(models.KindAccounts, "Accounts", accountsQuery, nil),
	models.KindAddressBook:  query(models.KindAddressBook, "Contacts", addressBookQuery, nil),
	models.KindDataUsage:    query(models.KindDataUsage, "Data usage", dataUsageQuery, nil),
	models.KindCallHistory:  query(models.KindCallHistory, "Call history", callHistoryQuery, nil),
	models.KindNotes:        query(models.KindNotes, "Notes", notesQuery, cleanNotes),
	models.KindSafari:       query(models.KindSafari, "Safari history", safariQuery, nil),
	models.KindPermissions:  query(models.KindPermissions, "Privacy permissions", tccQuery, nil),
	models.KindInteractions: query(models.KindInteractions, "Interactions", interactionsQuery, nil),
	models.KindCellular:     query(models.KindCellular, "Cellular subscribers", cellularQuery, nil),
	models.KindVoicemail:    query(models.KindVoicemail, "Voicemail", voicemailQuery, nil),
	models.KindMessages:     ParserFunc(parseMessages),
}

// Lookup returns the parser registered for kind.
func Lookup(kind models.ArtifactKind) (Parser, bool) {
	p, ok := registry[kind]
	return p, ok
}

// Kinds returns every kind that has a parser, sorted.
func Kinds() []models.ArtifactKind {
	out := make([]models.ArtifactKind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Parse parses the artifact at path with the parser registered for kind.
// Kinds without a parser wrap apperr.ErrNotFound.
func Parse(ctx context.Context, kind models.ArtifactKind, path string) (*Table, error) {
	p, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("artifacts: no parser for %s: %w", kind, apperr.ErrNotFound)
	}
	t, err := p.Parse(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("artifacts: parse %s: %w", kind, err)
	}
	return t, nil
}

type queryParser struct {
	kind  models.ArtifactKind
	title string
	query string
	post  func(*Table)
}

func query(kind models.ArtifactKind, title, q string, post func(*Table)) Parser {
	return &queryParser{kind: kind, title: title, query: q, post: post}
}

func (p *queryParser) Parse(ctx context.Context, path string) (*Table, error) {
	db, err := sqlitero.Open(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	t, err := runQuery(ctx, db, p.query)
	if err != nil {
		return nil, err
	}
	t.Kind = p.kind
	t.Title = p.title
	if p.post != nil {
		p.post(t)
	}
	return t, nil
}

// runQuery returns every row of q as strings. NULL becomes "".
func runQuery(ctx context.Context, db *sql.DB, q string) (*Table, error) {
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	t := &Table{Columns: cols, Rows: [][]string{}}
	vals := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			row[i] = v.String
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return t, nil
}
