package artifacts

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/starford/perthro/internal/models"
	"github.com/starford/perthro/internal/photos"
	"github.com/starford/perthro/internal/sqlitero"
)

// StripHTML reduces note markup to plain text on one line. Entities are
// decoded and script and style bodies dropped.
func StripHTML(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	var sb strings.Builder
	noteText(doc, &sb)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func noteText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Head:
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		noteText(c, sb)
	}
	if n.Type == html.ElementNode && blockElement(n.DataAtom) {
		sb.WriteByte(' ')
	}
}

// blockElement reports whether a starts a new line of note text.
func blockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Li, atom.Tr, atom.Td, atom.Th,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Ul, atom.Ol, atom.Table, atom.Blockquote, atom.Pre:
		return true
	}
	return false
}

func cleanNotes(t *Table) {
	for _, row := range t.Rows {
		for i := range row {
			row[i] = StripHTML(row[i])
		}
	}
}

func parsePhotos(ctx context.Context, path string) (*Table, error) {
	recs, err := photos.Query(ctx, path)
	if err != nil {
		return nil, err
	}
	t := &Table{
		Kind:    models.KindPhotos,
		Title:   "Photo scene classifications",
		Columns: []string{"Path", "Filename", "Scene", "Confidence", "Date Created", "Date Added"},
		Rows:    make([][]string, 0, len(recs)),
	}
	for _, r := range recs {
		t.Rows = append(t.Rows, []string{
			r.Path, r.Filename, r.SceneClassification, strconv.Itoa(r.Confidence),
			formatTime(r.DateCreated), formatTime(r.DateAdded),
		})
	}
	return t, nil
}

type chat struct {
	name         string
	participants []string
	group        bool
}

// groupDisplay names a group chat by its title or its first participants.
func (c chat) groupDisplay() string {
	if !c.group {
		return ""
	}
	if c.name != "" {
		return c.name
	}
	if len(c.participants) <= 3 {
		return strings.Join(c.participants, ", ")
	}
	return fmt.Sprintf("%s... (+%d)", strings.Join(c.participants[:3], ", "), len(c.participants)-3)
}

// parseMessages reads sms.db and annotates each message with its chat's
// group status.
func parseMessages(ctx context.Context, path string) (*Table, error) {
	db, err := sqlitero.Open(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	chats, err := loadChats(ctx, db)
	if err != nil {
		return nil, err
	}
	t, err := runQuery(ctx, db, messagesQuery)
	if err != nil {
		return nil, err
	}
	t.Kind = models.KindMessages
	t.Title = "Messages"
	t.Columns = append(t.Columns, "Is Group Chat", "Group Name")

	chatCol := 1
	for i, row := range t.Rows {
		c, ok := chats[row[chatCol]]
		isGroup := "No"
		if ok && c.group {
			isGroup = "Yes"
		}
		t.Rows[i] = append(row, isGroup, c.groupDisplay())
	}
	return t, nil
}

func loadChats(ctx context.Context, db *sql.DB) (map[string]chat, error) {
	rows, err := db.QueryContext(ctx, chatsQuery)
	if err != nil {
		return nil, fmt.Errorf("chats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]chat)
	for rows.Next() {
		var (
			id                   string
			name, ident, members sql.NullString
			count                int
		)
		if err := rows.Scan(&id, &name, &ident, &count, &members); err != nil {
			return nil, fmt.Errorf("chats: scan: %w", err)
		}
		c := chat{
			name:  name.String,
			group: count > 1 || strings.HasPrefix(ident.String, "chat"),
		}
		if members.String != "" {
			c.participants = strings.Split(members.String, ", ")
		}
		out[id] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chats: %w", err)
	}
	return out, nil
}
