// Package ledger appends one row per processed card to a shared spreadsheet.
//
// Row layout: index, the eight card fields, note, timestamp and, when photos
// are archived, a link cell.
//
// The index is the sheet's current row count (1 for an empty sheet), read
// right before the append. Writes from this process are serialised; two
// processes writing the same sheet can still produce duplicate indexes.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"card-ledger/api/internal/card"
)

const (
	TimeFormat   = "2006-01-02 15:04:05"
	LinkLabel    = "名片連結"
	UploadFailed = "上傳失敗"
)

// Header is written to an empty sheet when Options.Header is set.
var Header = []string{
	"項次", "中文姓名", "英文姓名", "部門", "職稱", "手機", "電話", "Email", "地址",
	"備註", "上傳時間", "名片連結",
}

// Backend is the tabular storage behind the ledger.
type Backend interface {
	RowCount(ctx context.Context) (int, error)
	Append(ctx context.Context, row Row, mode InputMode) error
}

type Options struct {
	// LinkColumn adds the archive link cell. Off when photos are not archived.
	LinkColumn bool
	// Header writes the column titles before the first row of an empty sheet.
	Header bool
	Mode   InputMode
	Now    func() time.Time
}

type Ledger struct {
	backend Backend
	opts    Options

	mu sync.Mutex
}

func New(b Backend, opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{backend: b, opts: opts}
}

// LinkColumn reports whether rows carry the archive link cell.
func (l *Ledger) LinkColumn() bool { return l.opts.LinkColumn }

// Write appends the row for rec. link is the archive URL, or "" when the
// upload failed.
func (l *Ledger) Write(ctx context.Context, rec card.Record, note, link string) (Row, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count, err := l.backend.RowCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: count rows: %w", err)
	}

	if count == 0 && l.opts.Header {
		if err := l.backend.Append(ctx, l.header(), Raw); err != nil {
			return nil, fmt.Errorf("ledger: write header: %w", err)
		}
	}

	var linkCell *Cell
	if l.opts.LinkColumn {
		c := LinkCell(link)
		linkCell = &c
	}
	row := BuildRow(NextIndex(count), rec, note, l.opts.Now(), linkCell)

	if err := l.backend.Append(ctx, row, l.opts.Mode); err != nil {
		return nil, fmt.Errorf("ledger: append row: %w", err)
	}
	return row, nil
}

func (l *Ledger) header() Row {
	n := len(Header)
	if !l.opts.LinkColumn {
		n--
	}
	row := make(Row, 0, n)
	for _, h := range Header[:n] {
		row = append(row, Text(h))
	}
	return row
}

// NextIndex returns the sequence number for the next row given the current
// row count: the count itself, or 1 for an empty sheet.
func NextIndex(count int) int {
	if count > 0 {
		return count
	}
	return 1
}

// BuildRow lays out index, the eight fields, note, timestamp and optional link.
func BuildRow(index int, rec card.Record, note string, at time.Time, link *Cell) Row {
	row := make(Row, 0, 12)
	row = append(row, Number(index))
	for _, v := range rec.Values() {
		row = append(row, Text(v))
	}
	row = append(row, Text(note), Text(at.Format(TimeFormat)))
	if link != nil {
		row = append(row, *link)
	}
	return row
}

// LinkCell is a HYPERLINK formula when ref looks like a URL, else the
// upload-failed marker.
func LinkCell(ref string) Cell {
	if strings.Contains(ref, "http") {
		return Formula(FormatHyperlink(ref, LinkLabel))
	}
	return Text(UploadFailed)
}

// FormatHyperlink renders =HYPERLINK("url","label") with quotes escaped.
func FormatHyperlink(url, label string) string {
	q := func(s string) string { return strings.ReplaceAll(s, `"`, `""`) }
	return `=HYPERLINK("` + q(url) + `","` + q(label) + `")`
}
