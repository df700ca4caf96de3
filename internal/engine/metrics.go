package engine

import (
	"fmt"
	"math"
	"os"
	"strings"
)

// Metrics holds objective measures on the generated script.
type Metrics struct {
	SizeBytes      int     // size in bytes
	UniqueSymbols  int     // number of unique runes
	Entropy        float64 // approximate entropy (bits per symbol)
	IdentNoise     float64 // share of identifier characters vs total (0-1)
	ExpansionRatio float64 // output/input size ratio (>1 = larger)
	LineCount      int
	InputSizeBytes int
}

// ComputeMetrics computes metrics on the generated payload.
func ComputeMetrics(payload string) Metrics {
	m := Metrics{SizeBytes: len(payload)}
	if m.SizeBytes == 0 {
		return m
	}
	freq := make(map[rune]int)
	ident := 0
	for _, r := range payload {
		freq[r]++
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			ident++
		}
	}
	m.UniqueSymbols = len(freq)
	m.IdentNoise = float64(ident) / float64(len(payload))
	m.LineCount = strings.Count(payload, "\n") + 1
	n := float64(len(payload))
	for _, c := range freq {
		p := float64(c) / n
		m.Entropy -= p * math.Log2(p)
	}
	return m
}

// ComputeMetricsWithInput also fills the expansion ratio.
func ComputeMetricsWithInput(payload string, inputSize int) Metrics {
	m := ComputeMetrics(payload)
	m.InputSizeBytes = inputSize
	if inputSize > 0 {
		m.ExpansionRatio = float64(m.SizeBytes) / float64(inputSize)
	}
	return m
}

// PrintMetrics prints metrics to stderr (if !quiet).
func PrintMetrics(m Metrics, quiet bool) {
	if quiet {
		return
	}
	line := fmt.Sprintf("%sMetrics:%s size=%s%d%s bytes | unique=%s%d%s | entropy=%.2f",
		Cyan, Reset, Green, m.SizeBytes, Reset, Green, m.UniqueSymbols, Reset, m.Entropy)
	if m.ExpansionRatio > 0 {
		line += fmt.Sprintf(" | ratio=%.1fx", m.ExpansionRatio)
	}
	if m.LineCount > 0 {
		line += fmt.Sprintf(" | lines=%d", m.LineCount)
	}
	fmt.Fprintln(os.Stderr, line)
}
