package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

var nonDigit = regexp.MustCompile(`\D`)

// ReadIdentifiers reads one identifier per line. Surrounding whitespace is
// trimmed and blank lines are skipped. Duplicates are kept. Lines have no
// length limit.
func ReadIdentifiers(r io.Reader) ([]string, error) {
	var ids []string
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if id := strings.TrimSpace(line); id != "" {
			ids = append(ids, id)
		}
		if err == io.EOF {
			return ids, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read identifiers: %w", err)
		}
	}
}

// ReadIdentifiersFile reads identifiers from the file at path.
func ReadIdentifiersFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open identifiers: %w", err)
	}
	defer f.Close()
	return ReadIdentifiers(f)
}

// CleanIdentifier strips punctuation so "11.222.333/0001-81" becomes
// "11222333000181". No checksum is verified.
func CleanIdentifier(id string) string {
	return nonDigit.ReplaceAllString(id, "")
}

// CleanIdentifiers applies CleanIdentifier to every entry, dropping entries
// that become empty.
func CleanIdentifiers(ids []string) []string {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if c := CleanIdentifier(id); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	return cleaned
}
