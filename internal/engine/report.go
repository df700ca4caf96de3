package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Report holds obfuscation session data for reporting.
type Report struct {
	InputPath       string        `json:"inputPath"`
	OutputPath      string        `json:"outputPath"`
	Profile         string        `json:"profile"`
	Level           int           `json:"level"`
	Techniques      []string      `json:"techniques"`
	ComplexityScore int           `json:"complexityScore"`
	InputSize       int           `json:"inputSize"`
	OutputSize      int           `json:"outputSize"`
	Checksum        string        `json:"checksum"`
	Seed            uint64        `json:"seed"`
	Duration        time.Duration `json:"duration,omitempty"`
	Entropy         float64       `json:"entropy,omitempty"`
	SizeRatio       float64       `json:"sizeRatio,omitempty"`
}

// ToJSON returns the report as indented JSON (for CI/CD integration).
func (r *Report) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ComputeComplexityScore folds the applied techniques and entropy into a
// 0-100 score.
func (r *Report) ComputeComplexityScore(m Metrics) int {
	score := 0
	for _, t := range r.Techniques {
		switch t {
		case "rename":
			score += 8
		case "string-encrypt":
			score += 15
		case "control-flow":
			score += 15
		case "dead-code":
			score += 7
		case "vm-wrap":
			score += 25
		default:
			score += 5 // guard snippets
		}
	}
	if m.Entropy > 4.5 {
		score += 5
	}
	if score > 100 {
		score = 100
	}
	return score
}

// PrintReport writes the obfuscation report to stderr.
func PrintReport(r Report, m Metrics) {
	r.ComplexityScore = r.ComputeComplexityScore(m)
	r.Entropy = m.Entropy
	if r.InputSize > 0 {
		r.SizeRatio = float64(r.OutputSize) / float64(r.InputSize)
	}
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintf(os.Stderr, "%s%s=== obfuslua report ===%s\n", Bold, Cyan, Reset)
	fmt.Fprintf(os.Stderr, "%sInput:%s    %s\n", Yellow, Reset, r.InputPath)
	fmt.Fprintf(os.Stderr, "%sOutput:%s   %s\n", Yellow, Reset, r.OutputPath)
	fmt.Fprintf(os.Stderr, "%sProfile:%s  %s%s%s\n", Yellow, Reset, Green, r.Profile, Reset)
	fmt.Fprintf(os.Stderr, "%sLevel:%s    %s%d%s\n", Yellow, Reset, Green, r.Level, Reset)
	fmt.Fprintf(os.Stderr, "%sTechniques:%s %s\n", Yellow, Reset, strings.Join(r.Techniques, ", "))
	fmt.Fprintf(os.Stderr, "%sComplexity score:%s %s%d%s/100\n", Yellow, Reset, Green, r.ComplexityScore, Reset)
	fmt.Fprintf(os.Stderr, "%sInput size:%s  %d bytes\n", Yellow, Reset, r.InputSize)
	fmt.Fprintf(os.Stderr, "%sOutput size:%s %d bytes", Yellow, Reset, r.OutputSize)
	if r.SizeRatio > 0 {
		fmt.Fprintf(os.Stderr, " %s(%.1fx)%s", Gray, r.SizeRatio, Reset)
	}
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintf(os.Stderr, "%sEntropy:%s  %.2f bits/symbol\n", Yellow, Reset, r.Entropy)
	fmt.Fprintf(os.Stderr, "%sChecksum:%s %s\n", Yellow, Reset, r.Checksum)
	fmt.Fprintf(os.Stderr, "%sSeed:%s     %d\n", Yellow, Reset, r.Seed)
	if r.Duration > 0 {
		fmt.Fprintf(os.Stderr, "%sDuration:%s %s\n", Yellow, Reset, r.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(os.Stderr, "%s%s=======================%s\n", Bold, Cyan, Reset)
}
