package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/JakeFAU/catalog-ingest/internal/product"
)

const (
	colSKU         = "sku"
	colName        = "name"
	colDescription = "description"
	colPrice       = "price"
	colStock       = "stock"
	colActive      = "active"
)

var errEmptyFile = errors.New("CSV file is empty")

// headerError reports required columns absent from the header.
type headerError struct {
	missing []string
}

func (e *headerError) Error() string {
	return "missing required column(s): " + strings.Join(e.missing, ", ")
}

// columns maps recognized header names to their record positions.
type columns map[string]int

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return cr
}

// parseHeader maps the header case-insensitively and reports missing required columns.
func parseHeader(header []string) (columns, error) {
	cols := make(columns, len(header))
	for i, raw := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff")))
		if _, dup := cols[name]; dup || name == "" {
			continue
		}
		cols[name] = i
	}
	var missing []string
	for _, required := range []string{colSKU, colName} {
		if _, ok := cols[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, &headerError{missing: missing}
	}
	return cols, nil
}

func (c columns) cell(record []string, name string) (string, bool) {
	i, ok := c[name]
	if !ok || i >= len(record) {
		return "", false
	}
	v := strings.TrimSpace(record[i])
	return v, v != ""
}

// parseRecord turns one record into validated upsert input. Empty optional cells mean the field
// was not supplied.
func (c columns) parseRecord(record []string) (product.UpsertInput, error) {
	sku, _ := c.cell(record, colSKU)
	name, _ := c.cell(record, colName)
	in := product.UpsertInput{SKU: sku, Name: name}

	if v, ok := c.cell(record, colDescription); ok {
		in.Description = &v
	}
	if v, ok := c.cell(record, colPrice); ok {
		price, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(price) || math.IsInf(price, 0) {
			return in, fmt.Errorf("price %q is not a number", v)
		}
		in.Price = &price
	}
	if v, ok := c.cell(record, colStock); ok {
		stock, err := strconv.Atoi(v)
		if err != nil {
			return in, fmt.Errorf("stock %q is not an integer", v)
		}
		in.Stock = &stock
	}
	if v, ok := c.cell(record, colActive); ok {
		active, err := parseBool(v)
		if err != nil {
			return in, err
		}
		in.Active = &active
	}
	if err := in.Validate(); err != nil {
		return in, err
	}
	return in, nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "true", "t", "yes", "y", "1":
		return true, nil
	case "false", "f", "no", "n", "0":
		return false, nil
	default:
		return false, fmt.Errorf("active %q is not a boolean", v)
	}
}

// countRows pre-scans the stream. The header is validated before anything is counted, so a
// header-only file with the wrong columns reports the missing columns rather than errEmptyFile.
// Malformed data records still count as rows; other read failures are returned.
func countRows(r io.Reader) (int, error) {
	cr := newReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return 0, errEmptyFile
	}
	if err != nil {
		return 0, err
	}
	if _, err := parseHeader(header); err != nil {
		return 0, err
	}
	rows := 0
	for {
		_, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			return 0, err
		}
		rows++
	}
	if rows == 0 {
		return 0, errEmptyFile
	}
	return rows, nil
}
