package report

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"
)

func TestReadIdentifiers(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "one per line",
			input:    "111\n222\n333\n",
			expected: []string{"111", "222", "333"},
		},
		{
			name:     "no trailing newline",
			input:    "111\n222",
			expected: []string{"111", "222"},
		},
		{
			name:     "whitespace and blank lines",
			input:    "  111  \n\n\t222\r\n   \n",
			expected: []string{"111", "222"},
		},
		{
			name:     "duplicates kept",
			input:    "111\n111\n",
			expected: []string{"111", "111"},
		},
		{
			name:     "empty input",
			input:    "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadIdentifiers(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("ReadIdentifiers() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ReadIdentifiers() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestReadIdentifiers_LongLine(t *testing.T) {
	long := strings.Repeat("9", 1<<20)

	got, err := ReadIdentifiers(strings.NewReader("111\n" + long + "\n222\n"))
	if err != nil {
		t.Fatalf("ReadIdentifiers() error = %v", err)
	}
	if len(got) != 3 || got[0] != "111" || got[1] != long || got[2] != "222" {
		t.Errorf("ReadIdentifiers() returned %d identifiers, want 3 with the long line intact", len(got))
	}
}

func TestReadIdentifiers_ReadError(t *testing.T) {
	boom := errors.New("disk gone")
	r := io.MultiReader(strings.NewReader("111\n"), iotest.ErrReader(boom))

	if _, err := ReadIdentifiers(r); !errors.Is(err, boom) {
		t.Errorf("ReadIdentifiers() error = %v, want %v", err, boom)
	}
}

func TestReadIdentifiersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cnpjs.txt")
	if err := os.WriteFile(path, []byte("27865757000102\n11222333000181\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ids, err := ReadIdentifiersFile(path)
	if err != nil {
		t.Fatalf("ReadIdentifiersFile() error = %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("len(ids) = %d, want 2", len(ids))
	}

	if _, err := ReadIdentifiersFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("ReadIdentifiersFile() of missing file error = nil")
	}
}

func TestCleanIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"11.222.333/0001-81", "11222333000181"},
		{"11222333000181", "11222333000181"},
		{" 11 222 ", "11222"},
		{"abc", ""},
	}

	for _, tt := range tests {
		if got := CleanIdentifier(tt.input); got != tt.expected {
			t.Errorf("CleanIdentifier(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestCleanIdentifiers(t *testing.T) {
	got := CleanIdentifiers([]string{"11.222.333/0001-81", "n/a", "27865757000102"})
	want := []string{"11222333000181", "27865757000102"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("CleanIdentifiers() = %q, want %q", got, want)
	}
}
