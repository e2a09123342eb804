package dataset

import (
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"afpcli/internal/errors"
)

// Source names one input workbook
type Source struct {
	Name string
	Path string
}

// Loader reads Excel workbooks into Tables
type Loader struct {
	timeColumn string
	logger     *slog.Logger
}

// NewLoader creates a loader that coerces the named column to dates
func NewLoader(timeColumn string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{timeColumn: timeColumn, logger: logger}
}

// LoadAll loads every source, keyed by source name. Loading is one-shot: a
// missing file or a source without the time column aborts the whole batch.
func (l *Loader) LoadAll(sources ...Source) (map[string]*Table, error) {
	tables := make(map[string]*Table, len(sources))
	for _, src := range sources {
		table, err := l.Load(src)
		if err != nil {
			return nil, err
		}
		tables[src.Name] = table
	}
	return tables, nil
}

// Load reads one workbook and returns its table with the time column parsed
func (l *Loader) Load(src Source) (*Table, error) {
	if _, err := os.Stat(src.Path); err != nil {
		return nil, errors.NewMissingFileError(src.Path, err)
	}

	f, err := excelize.OpenFile(src.Path)
	if err != nil {
		return nil, errors.NewMissingFileError(src.Path, err)
	}
	defer f.Close()

	rows, sheetName, err := l.findDataSheet(f)
	if err != nil {
		return nil, errors.NewSchemaError(src.Name, l.timeColumn).
			WithContext("path", src.Path)
	}

	l.logger.Info("loading workbook",
		slog.String("source", src.Name),
		slog.String("sheet", sheetName),
		slog.Int("rows", len(rows)-1),
	)

	header := rows[0]
	dataRows := rows[1:]

	table := New(src.Name, len(dataRows))

	timeIdx := -1
	for j, h := range header {
		if strings.TrimSpace(h) == l.timeColumn {
			timeIdx = j
			break
		}
	}
	if timeIdx < 0 {
		return nil, errors.NewSchemaError(src.Name, l.timeColumn).
			WithContext("path", src.Path)
	}

	times := make([]time.Time, len(dataRows))
	for i, row := range dataRows {
		ts, err := parseDate(cellAt(row, timeIdx))
		if err != nil {
			return nil, errors.NewAppError(errors.ErrTypeSchema,
				"unparseable date in time column", err).
				WithContext("source", src.Name).
				WithContext("row", i+2).
				WithContext("value", cellAt(row, timeIdx))
		}
		times[i] = ts
	}
	if err := table.SetTimes(l.timeColumn, times); err != nil {
		return nil, err
	}

	for j, h := range header {
		name := strings.TrimSpace(h)
		if j == timeIdx || name == "" {
			continue
		}
		l.addColumn(table, name, dataRows, j)
	}

	return table, nil
}

// findDataSheet locates the sheet whose header row contains the time column.
// Workbooks exported from different tools put the data on differently named
// sheets, so every sheet is probed in order.
func (l *Loader) findDataSheet(f *excelize.File) ([][]string, string, error) {
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil || len(rows) < 2 {
			continue
		}
		for _, h := range rows[0] {
			if strings.TrimSpace(h) == l.timeColumn {
				return rows, name, nil
			}
		}
	}
	return nil, "", errors.NewAppError(errors.ErrTypeSchema, "no sheet with time column", nil)
}

// addColumn classifies a raw column as numeric or string and adds it.
// A column is numeric when every non-empty cell parses as a number.
func (l *Loader) addColumn(table *Table, name string, rows [][]string, idx int) {
	numeric := true
	nonEmpty := 0
	for _, row := range rows {
		cell := strings.TrimSpace(cellAt(row, idx))
		if cell == "" {
			continue
		}
		nonEmpty++
		if _, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64); err != nil {
			numeric = false
			break
		}
	}

	if numeric && nonEmpty > 0 {
		vals := make([]float64, len(rows))
		for i, row := range rows {
			cell := strings.TrimSpace(cellAt(row, idx))
			if cell == "" {
				vals[i] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64)
			if err != nil {
				vals[i] = math.NaN()
				continue
			}
			vals[i] = v
		}
		table.AddNumeric(name, vals)
		return
	}

	vals := make([]string, len(rows))
	for i, row := range rows {
		vals[i] = strings.TrimSpace(cellAt(row, idx))
	}
	table.AddString(name, vals)
}

func cellAt(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return row[idx]
}

// excel serial dates count days from 1899-12-30
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"02/01/2006",
	"2006-01",
	"Jan-06",
	"01-02-06",
}

func parseDate(cell string) (time.Time, error) {
	cell = strings.TrimSpace(cell)

	if serial, err := strconv.ParseFloat(cell, 64); err == nil {
		days := int(serial)
		return excelEpoch.AddDate(0, 0, days), nil
	}

	var lastErr error
	for _, layout := range dateLayouts {
		ts, err := time.Parse(layout, cell)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
