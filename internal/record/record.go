// Package record defines the flat-file record produced by a crawl and the
// tab-separated line codec shared by the crawl sink and the upload pass.
package record

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// FieldSep separates columns within a line.
	FieldSep = "\t"
	// LineSep terminates every line.
	LineSep = "\n"
	// Blank replaces embedded tabs, newlines and carriage returns (ASCII form-feed).
	Blank = "\x0c"
	// CommentSep joins the comments of one record inside the comments column (ASCII file-separator).
	CommentSep = "\x1c"
	// UploadCommentPrefix labels each comment when the comments column is expanded for the database.
	UploadCommentPrefix = "\n댓글: "
)

// Column positions within a line.
const (
	ColArticleID = iota
	ColBoardID
	ColCafeName
	ColBoardName
	ColUserID
	ColReadCount
	ColSubject
	ColContent
	ColComments
	ColDate
	ColURL

	// NumColumns is the minimum number of columns a valid line carries.
	NumColumns
)

// ErrShortLine is returned when a line carries fewer than NumColumns columns.
var ErrShortLine = errors.New("line has too few columns")

var blankReplacer = strings.NewReplacer(
	"\t", Blank,
	"\n", Blank,
	"\r", Blank,
	`\n`, Blank,
)

// Record is one fully resolved crawl item. Once written it is never mutated.
type Record struct {
	ArticleID string
	BoardID   string
	CafeName  string
	BoardName string
	UserID    string
	ReadCount string
	Subject   string
	Content   string
	Comments  []string
	Date      string
	URL       string
}

// Sanitize makes s safe for a single tab-separated column.
func Sanitize(s string) string {
	return blankReplacer.Replace(s)
}

// Fields returns the sanitized columns in file order.
func (r Record) Fields() []string {
	comments := make([]string, 0, len(r.Comments))
	for _, c := range r.Comments {
		comments = append(comments, strings.ReplaceAll(Sanitize(c), CommentSep, Blank))
	}
	return []string{
		Sanitize(r.ArticleID),
		Sanitize(r.BoardID),
		Sanitize(r.CafeName),
		Sanitize(r.BoardName),
		Sanitize(r.UserID),
		Sanitize(r.ReadCount),
		Sanitize(r.Subject),
		Sanitize(r.Content),
		strings.Join(comments, CommentSep),
		Sanitize(r.Date),
		Sanitize(r.URL),
	}
}

// Line encodes the record as a single newline-terminated line.
func (r Record) Line() string {
	return strings.Join(r.Fields(), FieldSep) + LineSep
}

// ParseLine decodes a line produced by Line. Columns past NumColumns are ignored.
func ParseLine(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	cols := strings.Split(line, FieldSep)
	if len(cols) < NumColumns {
		return Record{}, fmt.Errorf("%w: got %d, want %d", ErrShortLine, len(cols), NumColumns)
	}
	return Record{
		ArticleID: cols[ColArticleID],
		BoardID:   cols[ColBoardID],
		CafeName:  cols[ColCafeName],
		BoardName: cols[ColBoardName],
		UserID:    cols[ColUserID],
		ReadCount: cols[ColReadCount],
		Subject:   cols[ColSubject],
		Content:   cols[ColContent],
		Comments:  SplitComments(cols[ColComments]),
		Date:      cols[ColDate],
		URL:       strings.TrimSpace(cols[ColURL]),
	}, nil
}

// SplitComments reverses the comment join. An empty column yields no comments.
func SplitComments(col string) []string {
	if col == "" {
		return nil
	}
	return strings.Split(col, CommentSep)
}

// UploadComments renders the comments the way the database column stores them.
func (r Record) UploadComments() string {
	return UploadCommentPrefix + strings.Join(r.Comments, UploadCommentPrefix)
}
