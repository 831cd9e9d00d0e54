package application

import (
	"errors"
	"reflect"
	"testing"

	"github.com/jobrunner/verdant/internal/domain"
)

func TestExtractFieldsAll(t *testing.T) {
	table, ok := NewAttributeTable(parcelsLayer(), testLogger()).ExtractFields(nil)
	if !ok {
		t.Fatal("ExtractFields(nil) ok = false")
	}
	if want := []string{"PARCEL_ID", "YEAR_BUILT"}; !reflect.DeepEqual(table.Columns, want) {
		t.Errorf("Columns = %v, want %v", table.Columns, want)
	}
	if table.Len() != 3 {
		t.Errorf("Len() = %d, want 3", table.Len())
	}
}

func TestExtractFieldsSubset(t *testing.T) {
	layer := parcelsLayer()
	table, ok := NewAttributeTable(layer, testLogger()).ExtractFields([]string{"YEAR_BUILT"})
	if !ok {
		t.Fatal("ExtractFields() ok = false")
	}

	layer.Features[0].Properties["YEAR_BUILT"] = int64(2000)

	want := [][]interface{}{{int64(1950)}, {int64(1990)}, {nil}}
	if !reflect.DeepEqual(table.Rows, want) {
		t.Errorf("Rows = %v, want %v", table.Rows, want)
	}
}

func TestExtractFieldsEmptyList(t *testing.T) {
	table, ok := NewAttributeTable(parcelsLayer(), testLogger()).ExtractFields([]string{})
	if !ok {
		t.Fatal("ExtractFields([]) ok = false")
	}
	if len(table.Columns) != 0 || table.Len() != 3 {
		t.Errorf("table = %d columns, %d rows; want 0, 3", len(table.Columns), table.Len())
	}
}

func TestExtractFieldsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
		want   []string
	}{
		{"one missing", []string{"PARCEL_ID", "AREA"}, []string{"AREA"}},
		{"several missing", []string{"x", "YEAR_BUILT", "y"}, []string{"x", "y"}},
		{"geometry requested", []string{"GEOMETRY", "PARCEL_ID"}, []string{"GEOMETRY"}},
		{"case differs", []string{"parcel_id"}, []string{"parcel_id"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := extractFields(parcelsLayer(), tt.fields)
			if table != nil {
				t.Error("partial table returned")
			}
			var se *domain.SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("error = %v, want SchemaError", err)
			}
			if !reflect.DeepEqual(se.Fields, tt.want) {
				t.Errorf("invalid fields = %v, want %v", se.Fields, tt.want)
			}
		})
	}
}

func TestExtractFieldsFunnel(t *testing.T) {
	table, ok := NewAttributeTable(parcelsLayer(), testLogger()).ExtractFields([]string{"nope"})
	if ok || table != nil {
		t.Error("ExtractFields() should fail without a table")
	}

	if _, ok := NewAttributeTable(nil, testLogger()).ExtractFields(nil); ok {
		t.Error("ExtractFields() without a layer should fail")
	}
}
