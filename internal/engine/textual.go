package engine

import "strings"

// finalTextualPass pads random lines with extra whitespace and appends
// harmless trailing comments. Purely cosmetic noise, bounded by a total
// size cap relative to the printed input.
func finalTextualPass(printed string, o *Oracle) string {
	limit := len(printed) * 2
	lines := strings.Split(printed, "\n")
	var b strings.Builder
	b.Grow(len(printed))
	fillers := []string{"-- ok", "-- :", "--", "-- .", "-- end", "-- *"}
	pad := func(s string) {
		if b.Len()+len(s) <= limit {
			b.WriteString(s)
		}
	}
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if line == "" {
			continue
		}
		if o.Chance(20) {
			pad(strings.Repeat(" ", o.Range(1, 6)))
		}
		if o.Chance(10) {
			pad(" " + fillers[o.Intn(len(fillers))])
		}
	}
	return b.String()
}
