package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ReadRoster reads one deck name per line. Blank lines and lines starting
// with # are skipped; repeated names keep their first position.
func ReadRoster(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	seen := make(map[string]bool)
	var axis []string
	for scanner.Scan() {
		d := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if d == "" || strings.HasPrefix(d, "#") {
			continue
		}
		if seen[d] {
			slog.Debug("duplicate roster entry", "deck", d)
			continue
		}
		seen[d] = true
		axis = append(axis, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	if len(axis) == 0 {
		return nil, errors.New("roster is empty")
	}
	return axis, nil
}
