// Package datafile writes the on-disk tables of the acquisition core:
// space-aligned data (cells padded to the column width and joined by two
// spaces, no tabs) preceded by a metadata header of "# key: value"
// lines and a table key declaring each column's name, unit and format.
// A table is terminated by two blank lines; a file is an append-only
// concatenation of tables.
package datafile

import (
	"fmt"
	"io"
	"strings"

	"github.com/relacs/relacsd/options"
)

// DefaultMissing is the placeholder for missing values.
const DefaultMissing = "-"

// Column describes one table column.
type Column struct {
	// Name is the column label
	Name string
	// Unit is the unit printed below the label
	Unit string
	// Format is the printf style format of the values, e.g. "%7.2f"
	Format string
}

// width extracts the field width of the column format.
func (c Column) width() int {
	w := 0
	fmt.Sscanf(strings.TrimLeft(c.Format, "%-+ 0"), "%d", &w)
	if w < len(c.Name) {
		w = len(c.Name)
	}
	if w < len(c.Unit) {
		w = len(c.Unit)
	}
	return w
}

// TableKey is the ordered column declaration of a table.
type TableKey struct {
	// Missing is the placeholder for missing values
	Missing string

	columns []Column
}

// NewTableKey creates an empty key with the default missing-value
// placeholder.
func NewTableKey() *TableKey {
	return &TableKey{Missing: DefaultMissing}
}

// AddColumn appends a column declaration.
func (k *TableKey) AddColumn(name, unit, format string) {
	k.columns = append(k.columns, Column{Name: name, Unit: unit, Format: format})
}

// Columns returns the number of declared columns.
func (k *TableKey) Columns() int {
	return len(k.columns)
}

// Column returns the index of the named column, or -1.
func (k *TableKey) Column(name string) int {
	for i, c := range k.columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// SaveKey writes the key section: a "#Key" line, the padded column
// names, the units, and, when num is true, the 1-based column numbers
// as the last header row.
func (k *TableKey) SaveKey(w io.Writer, units, num bool) error {
	if _, err := fmt.Fprintln(w, "#Key"); err != nil {
		return err
	}
	names := make([]string, len(k.columns))
	unitRow := make([]string, len(k.columns))
	numbers := make([]string, len(k.columns))
	for i, c := range k.columns {
		width := c.width()
		names[i] = pad(c.Name, width)
		unitRow[i] = pad(c.Unit, width)
		numbers[i] = pad(fmt.Sprintf("%d", i+1), width)
	}
	if _, err := fmt.Fprintln(w, "# "+strings.Join(names, "  ")); err != nil {
		return err
	}
	if units {
		if _, err := fmt.Fprintln(w, "# "+strings.Join(unitRow, "  ")); err != nil {
			return err
		}
	}
	if num {
		if _, err := fmt.Fprintln(w, "# "+strings.Join(numbers, "  ")); err != nil {
			return err
		}
	}
	return nil
}

// SaveMetaData writes opts as "# key: value" lines.
func SaveMetaData(w io.Writer, opts *options.Options) error {
	var err error
	opts.Each(func(name, value string) {
		if err != nil {
			return
		}
		_, err = fmt.Fprintf(w, "# %s: %s\n", name, value)
	})
	return err
}

// SaveRow writes one data row.  NaN-free values are formatted with the
// column format; pass missing via SaveRowStrings when a value is
// absent.
func (k *TableKey) SaveRow(w io.Writer, values ...float64) error {
	cells := make([]string, len(k.columns))
	for i := range k.columns {
		if i < len(values) {
			cells[i] = pad(fmt.Sprintf(k.columns[i].Format, values[i]), k.columns[i].width())
		} else {
			cells[i] = pad(k.Missing, k.columns[i].width())
		}
	}
	_, err := fmt.Fprintln(w, "  "+strings.Join(cells, "  "))
	return err
}

// SaveRowStrings writes one pre-formatted data row; empty cells render
// the missing placeholder.
func (k *TableKey) SaveRowStrings(w io.Writer, cells ...string) error {
	out := make([]string, len(k.columns))
	for i := range k.columns {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		if cell == "" {
			cell = k.Missing
		}
		out[i] = pad(cell, k.columns[i].width())
	}
	_, err := fmt.Fprintln(w, "  "+strings.Join(out, "  "))
	return err
}

// EndTable terminates the table with two blank lines.
func EndTable(w io.Writer) error {
	_, err := fmt.Fprint(w, "\n\n")
	return err
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}
