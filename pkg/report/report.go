// Package report reads identifier lists and serializes result rows as
// semicolon-delimited text, one line per row.
//
// Field values are written verbatim. A value containing the delimiter or a
// newline will corrupt its line; the format carries no escaping.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sternrassler/cnpj-batch-client/pkg/projector"
)

// Delimiter separates the fields of a line.
const Delimiter = ";"

// WriteError is returned when a report cannot be written. It keeps the rows
// so the caller can retry or emit them elsewhere.
type WriteError struct {
	Path string
	Rows []projector.Row
	Err  error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("write report %s (%d rows): %v", e.Path, len(e.Rows), e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *WriteError) Unwrap() error {
	return e.Err
}

// Assemble renders rows as lines without terminators, in row order.
func Assemble(rows []projector.Row) []string {
	lines := make([]string, len(rows))
	for i, row := range rows {
		lines[i] = strings.Join(row, Delimiter)
	}
	return lines
}

// Write writes one newline-terminated line per row to w and returns the
// number of bytes written.
func Write(w io.Writer, rows []projector.Row) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64
	for _, line := range Assemble(rows) {
		n, err := bw.WriteString(line + "\n")
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	if err := bw.Flush(); err != nil {
		return written, err
	}
	return written, nil
}

// WriteFile writes rows to path. The report is written to a temporary file in
// the same directory and renamed into place, so a failure never leaves a
// truncated report behind. Failures are returned as *WriteError.
func WriteFile(path string, rows []projector.Row) (int64, error) {
	fail := func(err error) (int64, error) {
		return 0, &WriteError{Path: path, Rows: rows, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fail(err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	written, err := Write(tmp, rows)
	if err != nil {
		tmp.Close()
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fail(err)
	}
	return written, nil
}
