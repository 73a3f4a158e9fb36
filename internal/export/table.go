package export

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/parquet-go/parquet-go"
)

var (
	int64Type   = reflect.TypeOf(int64(0))
	int32Type   = reflect.TypeOf(int32(0))
	float64Type = reflect.TypeOf(float64(0))
	stringType  = reflect.TypeOf("")
	vectorType  = reflect.TypeOf([]float64(nil))
)

// column produces the value of one output column for row i. The value's
// dynamic type must be typ.
type column struct {
	name  string
	typ   reflect.Type
	list  bool
	value func(i int) any
}

// table is a column set whose Parquet schema is only known at run time.
type table struct {
	columns []column
	rows    int
}

func (t *table) add(name string, typ reflect.Type, value func(i int) any) {
	t.columns = append(t.columns, column{name: name, typ: typ, value: value})
}

func (t *table) addList(name string, value func(i int) any) {
	t.columns = append(t.columns, column{name: name, typ: vectorType, list: true, value: value})
}

func (t *table) constant(name string, v any) {
	t.add(name, reflect.TypeOf(v), func(int) any { return v })
}

func (t *table) Names() []string {
	out := make([]string, len(t.columns))
	for i, c := range t.columns {
		out[i] = c.name
	}
	return out
}

func (t *table) rowType() (reflect.Type, error) {
	seen := make(map[string]bool, len(t.columns))
	fields := make([]reflect.StructField, len(t.columns))
	for i, c := range t.columns {
		if seen[c.name] {
			return nil, fmt.Errorf("duplicate output column %q", c.name)
		}
		seen[c.name] = true
		tag := c.name
		if c.list {
			tag += ",list"
		}
		fields[i] = reflect.StructField{
			Name: fmt.Sprintf("F%d", i),
			Type: c.typ,
			Tag:  reflect.StructTag(fmt.Sprintf(`parquet:%q`, tag)),
		}
	}
	return reflect.StructOf(fields), nil
}

// writeFile writes the table to a temporary sibling of path and renames it
// into place, so a reader never observes a partial file.
func (t *table) writeFile(path string) (err error) {
	typ, err := t.rowType()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	row := reflect.New(typ)
	w := parquet.NewWriter(tmp, parquet.SchemaOf(row.Interface()))
	for i := 0; i < t.rows; i++ {
		elem := row.Elem()
		for j, c := range t.columns {
			elem.Field(j).Set(reflect.ValueOf(c.value(i)))
		}
		if err := w.Write(row.Interface()); err != nil {
			return fmt.Errorf("failed to write row %d of %s: %w", i, filepath.Base(path), err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(path), err)
	}
	return nil
}
