package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// readLocalSecrets parses a developer secrets file of secret://name[?version=N]=value lines.
// Unversioned entries answer for every version; a missing file yields no values.
func readLocalSecrets(path string) (map[string]string, error) {
	values := map[string]string{}
	if path = strings.TrimSpace(path); path == "" {
		return values, nil
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rawRef, value, ok := splitLocalLine(line)
		if !ok {
			continue
		}
		ref, err := parseReference(rawRef)
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		values[ref.cacheKey()] = value
		if ref.version == "" {
			values[ref.canonical()] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("secrets: read %s: %w", path, err)
	}
	return values, nil
}

func lookupLocal(values map[string]string, ref reference) (string, bool) {
	if v, ok := values[ref.cacheKey()]; ok {
		return v, true
	}
	v, ok := values[ref.canonical()]
	return v, ok
}

// splitLocalLine separates reference from value. A reference with a query ends at the first '='
// that follows a complete name=value parameter, so values may themselves contain '='.
func splitLocalLine(line string) (string, string, bool) {
	eq := strings.IndexByte(line, '=')
	if eq < 0 {
		return "", "", false
	}
	q := strings.IndexByte(line, '?')
	if q < 0 || q > eq {
		return line[:eq], line[eq+1:], true
	}

	query := line[q+1:]
	i := 0
	for {
		sep := strings.IndexByte(query[i:], '=')
		if sep < 0 {
			return "", "", false
		}
		i += sep + 1
		end := strings.IndexAny(query[i:], "&=")
		if end < 0 {
			return "", "", false
		}
		i += end
		if query[i] == '=' {
			return line[:q+1+i], line[q+2+i:], true
		}
		i++
	}
}
