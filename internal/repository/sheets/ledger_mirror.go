package sheets

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/mamadbah2/farmledger/internal/config"
	"github.com/mamadbah2/farmledger/internal/domain/models"
)

// LedgerRange is where mirrored ledger rows are appended.
const LedgerRange = "Ledger!A:G"

// Appender appends rows to a sheet range.
type Appender interface {
	AppendRows(ctx context.Context, sheetRange string, rows [][]interface{}) error
}

// GoogleSheetAppender implements Appender with the official Google Sheets API.
type GoogleSheetAppender struct {
	service       *sheetsapi.Service
	spreadsheetID string
}

// NewGoogleSheetAppender builds a Sheets client from a service account file.
func NewGoogleSheetAppender(ctx context.Context, cfg config.SheetsConfig) (*GoogleSheetAppender, error) {
	service, err := sheetsapi.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsPath), option.WithScopes(sheetsapi.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sheets client: %w", err)
	}
	return &GoogleSheetAppender{service: service, spreadsheetID: cfg.SpreadsheetID}, nil
}

// AppendRows appends rows below the last filled row of sheetRange.
func (a *GoogleSheetAppender) AppendRows(ctx context.Context, sheetRange string, rows [][]interface{}) error {
	if sheetRange == "" {
		return fmt.Errorf("sheetRange must not be empty")
	}

	payload := &sheetsapi.ValueRange{Values: rows}
	call := a.service.Spreadsheets.Values.Append(a.spreadsheetID, sheetRange, payload).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx)

	if _, err := call.Do(); err != nil {
		return fmt.Errorf("append rows into range %s: %w", sheetRange, err)
	}
	return nil
}

// LedgerMirror copies committed feed ledger entries into a spreadsheet so the
// farm can keep following stock the way it did before the API existed.
type LedgerMirror struct {
	appender Appender
	logger   *zap.Logger
}

// NewLedgerMirror wraps an Appender.
func NewLedgerMirror(appender Appender, logger *zap.Logger) *LedgerMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerMirror{appender: appender, logger: logger}
}

// MirrorLedger appends one row per entry:
// date, owner, batch, feed type, action, bags, kilograms (signed).
func (m *LedgerMirror) MirrorLedger(ctx context.Context, entries []models.FeedLedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, ledgerRow(e))
	}

	if err := m.appender.AppendRows(ctx, LedgerRange, rows); err != nil {
		return err
	}
	m.logger.Debug("ledger rows mirrored", zap.Int("rows", len(rows)), zap.String("batch_id", entries[0].BatchID))
	return nil
}

func ledgerRow(e models.FeedLedgerEntry) []interface{} {
	return []interface{}{
		e.LoggedAt.UTC().Format(time.RFC3339),
		e.OwnerID,
		e.BatchID,
		e.FeedTypeName,
		string(e.Action),
		e.Bags,
		strconv.FormatFloat(e.SignedKg(), 'f', -1, 64),
	}
}
