// Package sheets is the Google Sheets ledger backend.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"card-ledger/api/internal/ledger"
)

// Scope needed to read and append rows.
const Scope = sheets.SpreadsheetsScope

var reSpreadsheetID = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// SpreadsheetID extracts the id from a sheet URL. A bare id is returned as is.
func SpreadsheetID(sheetURL string) (string, error) {
	s := strings.TrimSpace(sheetURL)
	if m := reSpreadsheetID.FindStringSubmatch(s); len(m) == 2 {
		return m[1], nil
	}
	if s != "" && !strings.ContainsAny(s, "/:?#") {
		return s, nil
	}
	return "", fmt.Errorf("sheets: no spreadsheet id in %q", sheetURL)
}

type Client struct {
	svc           *sheets.Service
	spreadsheetID string

	mu    sync.Mutex
	title string
}

// New opens the spreadsheet at sheetURL. sheetName selects a tab; empty means
// the first tab.
func New(ctx context.Context, sheetURL, sheetName string, opts ...option.ClientOption) (*Client, error) {
	id, err := SpreadsheetID(sheetURL)
	if err != nil {
		return nil, err
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: new service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: id, title: strings.TrimSpace(sheetName)}, nil
}

func (c *Client) sheetRange(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.title == "" {
		ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
			Fields("sheets.properties.title").
			Context(ctx).
			Do()
		if err != nil {
			return "", fmt.Errorf("sheets: open %s: %w", c.spreadsheetID, err)
		}
		if len(ss.Sheets) == 0 || ss.Sheets[0].Properties == nil {
			return "", errors.New("sheets: spreadsheet has no tabs")
		}
		c.title = ss.Sheets[0].Properties.Title
	}
	return "'" + strings.ReplaceAll(c.title, "'", "''") + "'", nil
}

// RowCount reads every value of the tab and returns the number of rows.
func (c *Client) RowCount(ctx context.Context) (int, error) {
	rng, err := c.sheetRange(ctx)
	if err != nil {
		return 0, err
	}
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).
		MajorDimension("ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return 0, fmt.Errorf("sheets: read %s: %w", rng, err)
	}
	return len(resp.Values), nil
}

// Append adds row after the last row of the tab.
func (c *Client) Append(ctx context.Context, row ledger.Row, mode ledger.InputMode) error {
	rng, err := c.sheetRange(ctx)
	if err != nil {
		return err
	}
	vr := &sheets.ValueRange{
		MajorDimension: "ROWS",
		Values:         [][]interface{}{row.Values(mode)},
	}
	_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption(mode.String()).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("sheets: append to %s: %w", rng, err)
	}
	return nil
}
