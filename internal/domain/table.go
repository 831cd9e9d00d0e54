package domain

import "time"

// Table is a detached snapshot of attribute columns.
type Table struct {
	Columns []string
	Rows    [][]interface{}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of a column.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of one column's values.
func (t *Table) Column(name string) ([]interface{}, bool) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]interface{}, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// SnapshotTable copies the named attribute columns of layer. Every name must
// be an attribute field of the layer.
func SnapshotTable(layer *VectorLayer, columns []string) *Table {
	t := &Table{
		Columns: append([]string{}, columns...),
		Rows:    make([][]interface{}, len(layer.Features)),
	}
	for i := range layer.Features {
		row := make([]interface{}, len(columns))
		for j, c := range columns {
			row[j] = copyValue(layer.Features[i].Properties[c])
		}
		t.Rows[i] = row
	}
	return t
}

func copyValue(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return append([]byte(nil), x...)
	case time.Time:
		return x
	default:
		return v
	}
}
