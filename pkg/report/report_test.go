package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Sternrassler/cnpj-batch-client/pkg/projector"
)

func TestAssemble(t *testing.T) {
	tests := []struct {
		name     string
		rows     []projector.Row
		expected []string
	}{
		{
			name:     "no rows",
			rows:     nil,
			expected: []string{},
		},
		{
			name: "rows in order",
			rows: []projector.Row{
				{"ACME", "111"},
				{"C", "C"},
			},
			expected: []string{"ACME;111", "C;C"},
		},
		{
			name:     "single field",
			rows:     []projector.Row{{"x"}},
			expected: []string{"x"},
		},
		{
			name:     "empty values",
			rows:     []projector.Row{{"", "", ""}},
			expected: []string{";;"},
		},
		{
			name:     "delimiter in value is not escaped",
			rows:     []projector.Row{{"A;B", "C"}},
			expected: []string{"A;B;C"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Assemble(tt.rows); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Assemble() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	rows := []projector.Row{{"ACME", "111"}, {"C", "C"}}

	n, err := Write(&buf, rows)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	want := "ACME;111\nC;C\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
	if n != int64(len(want)) {
		t.Errorf("written = %d, want %d", n, len(want))
	}
}

func TestWrite_Empty(t *testing.T) {
	var buf bytes.Buffer

	n, err := Write(&buf, nil)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 0 || buf.Len() != 0 {
		t.Errorf("Write(nil) wrote %d bytes", buf.Len())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestWrite_PropagatesError(t *testing.T) {
	if _, err := Write(failingWriter{}, []projector.Row{{"a"}}); err == nil {
		t.Error("Write() error = nil, want error")
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resultados.txt")
	rows := []projector.Row{
		{"C", "ACME", "111"},
		{"C", "C", "C"},
	}

	n, err := WriteFile(path, rows)
	if err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := "C;ACME;111\nC;C;C\n"
	if string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}
	if n != int64(len(want)) {
		t.Errorf("written = %d, want %d", n, len(want))
	}
}

func TestWriteFile_Replaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resultados.txt")
	if err := os.WriteFile(path, []byte("old;content\nmore\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := WriteFile(path, []projector.Row{{"new"}}); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "new\n" {
		t.Errorf("file = %q, want %q", data, "new\n")
	}
}

func TestWriteFile_EmptyRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resultados.txt")

	if _, err := WriteFile(path, nil); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("size = %d, want 0", info.Size())
	}
}

func TestWriteFile_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	if _, err := WriteFile(path, []projector.Row{{"a"}}); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "out.txt" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v, want [out.txt]", names)
	}
}

func TestWriteFile_FailureKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "resultados.txt")
	rows := []projector.Row{{"ACME", "111"}}

	_, err := WriteFile(path, rows)
	if err == nil {
		t.Fatal("WriteFile() error = nil, want error")
	}

	var writeErr *WriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("error = %T, want *WriteError", err)
	}
	if writeErr.Path != path {
		t.Errorf("Path = %q, want %q", writeErr.Path, path)
	}
	if !reflect.DeepEqual(writeErr.Rows, rows) {
		t.Errorf("Rows = %v, want %v", writeErr.Rows, rows)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error should wrap os.ErrNotExist: %v", err)
	}
}
