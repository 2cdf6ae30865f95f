// Package secrets handles the secret-set file: the line-oriented
// KEY=VALUE environment file the supervised process reads at startup.
// Convergence guarantees only that the file exists; the values inside are
// operator-owned.
package secrets

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Sentinel is the placeholder value written for every key in a fresh
// secret-set template. Status and doctor flag keys still carrying it.
const Sentinel = "__REPLACE_ME__"

// Set is the parsed secret set. Order of the underlying file is preserved
// separately by Keys.
type Set struct {
	Values map[string]string
	// Keys in file order, first occurrence wins.
	Keys []string
}

// Template renders placeholder content for the given keys. Keys are
// emitted in the order given.
func Template(keys []string) string {
	var b strings.Builder
	b.WriteString("# Secrets for the supervised service. Replace every placeholder\n")
	b.WriteString("# value before starting the service; this file is never rewritten\n")
	b.WriteString("# by the orchestrator once it exists.\n")
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		fmt.Fprintf(&b, "%s=%s\n", key, Sentinel)
	}
	return b.String()
}

// Parse reads KEY=VALUE lines. Blank lines and #-comments are ignored.
// Lines without '=' are reported as an error with their line number.
func Parse(r io.Reader) (Set, error) {
	set := Set{Values: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Set{}, fmt.Errorf("line %d: not a KEY=VALUE pair: %q", lineNo, line)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return Set{}, fmt.Errorf("line %d: empty key", lineNo)
		}
		if _, seen := set.Values[key]; !seen {
			set.Keys = append(set.Keys, key)
		}
		set.Values[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return Set{}, fmt.Errorf("read secret set: %w", err)
	}
	return set, nil
}

// Placeholders returns the keys still carrying the sentinel value, sorted.
func (s Set) Placeholders() []string {
	var out []string
	for key, value := range s.Values {
		if value == Sentinel {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// Missing returns which of the wanted keys the set does not carry, sorted.
func (s Set) Missing(wanted []string) []string {
	var out []string
	for _, key := range wanted {
		if _, ok := s.Values[key]; !ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}
