package stream

import "strings"

// lineBuffer accumulates text deltas and hands out complete
// newline-delimited records as they become available.
type lineBuffer struct {
	pending strings.Builder
}

// Add appends a delta and returns every record completed by it, newline
// stripped, empty lines dropped.
func (b *lineBuffer) Add(text string) []string {
	b.pending.WriteString(text)
	if !strings.Contains(text, "\n") {
		return nil
	}

	all := b.pending.String()
	idx := strings.LastIndexByte(all, '\n')
	complete, rest := all[:idx], all[idx+1:]

	b.pending.Reset()
	b.pending.WriteString(rest)

	var lines []string
	for _, line := range strings.Split(complete, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Rest returns the trailing partial record, if any. Generators are not
// required to newline-terminate their final record.
func (b *lineBuffer) Rest() string {
	return strings.TrimSpace(b.pending.String())
}

// Reset discards buffered text. Used when a corrective continuation
// replaces the record stream mid-line.
func (b *lineBuffer) Reset() {
	b.pending.Reset()
}
