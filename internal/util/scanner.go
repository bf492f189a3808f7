package util

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ReadIdentifiers reads one identifier per line into a set. Surrounding
// whitespace is trimmed; blank lines and lines starting with '#' are skipped.
func ReadIdentifiers(r io.Reader) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return ids, fmt.Errorf("read identifiers near line %d: %w", lineNumber, err)
	}
	return ids, nil
}
