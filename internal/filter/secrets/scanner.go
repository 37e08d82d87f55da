package secrets

import (
	"context"
	"fmt"
	"sort"

	"github.com/skyrail-ai/skyrail-gateway/internal/config"
	"github.com/skyrail-ai/skyrail-gateway/internal/filter"
	"github.com/skyrail-ai/skyrail-gateway/internal/types"
)

// Detection represents a detected secret in text.
type Detection struct {
	PatternName string // e.g. "AWS Access Key"
	Start       int    // byte offset
	End         int    // byte offset
}

// Scanner scans text for secrets using pre-compiled regex patterns.
type Scanner struct {
	patterns []Pattern
}

// NewScanner creates a scanner with the default secret patterns.
func NewScanner() *Scanner {
	return &Scanner{patterns: DefaultPatterns()}
}

// Scan checks a single text string for secrets and returns all detections.
func (s *Scanner) Scan(text string) []Detection {
	var detections []Detection
	for _, p := range s.patterns {
		locs := p.Regex.FindAllStringIndex(text, -1)
		for _, loc := range locs {
			detections = append(detections, Detection{
				PatternName: p.Name,
				Start:       loc[0],
				End:         loc[1],
			})
		}
	}
	return detections
}

// ScanMessages scans every message and returns all detections across them.
func (s *Scanner) ScanMessages(messages []types.Message) []Detection {
	var detections []Detection
	for _, m := range messages {
		detections = append(detections, s.Scan(m.Content)...)
	}
	return detections
}

// Redact replaces every detected secret with a placeholder naming the matched
// pattern. Returns the rewritten text and the number of replacements made.
func (s *Scanner) Redact(text string) (string, int) {
	detections := s.Scan(text)
	if len(detections) == 0 {
		return text, 0
	}

	// Replace back to front so earlier offsets stay valid; overlapping
	// matches keep only the first replacement.
	sort.Slice(detections, func(i, j int) bool { return detections[i].Start > detections[j].Start })
	replaced := 0
	limit := len(text) + 1
	for _, d := range detections {
		if d.End > limit {
			continue
		}
		text = text[:d.Start] + "[REDACTED:" + d.PatternName + "]" + text[d.End:]
		limit = d.Start
		replaced++
	}
	return text, replaced
}

// Filter adapts the scanner to the filter chain, blocking any request whose
// messages contain a detected secret.
type Filter struct {
	scanner *Scanner
	cfg     func() config.SecretsFilterConfig
}

// NewFilter creates the secrets filter with the default patterns.
func NewFilter(cfg func() config.SecretsFilterConfig) *Filter {
	return &Filter{scanner: NewScanner(), cfg: cfg}
}

func (f *Filter) Name() string  { return "secrets" }
func (f *Filter) Enabled() bool { return f.cfg().Enabled }

// ScanRequest implements filter.Filter.
func (f *Filter) ScanRequest(_ context.Context, req *types.SkyrailRequest) filter.Result {
	detections := f.scanner.ScanMessages(req.Input)
	if len(detections) > 0 {
		return filter.Result{
			Action:     filter.ActionBlock,
			FilterName: "secrets",
			Message:    fmt.Sprintf("Request blocked: %s detected in message content", detections[0].PatternName),
			Detections: len(detections),
		}
	}
	return filter.Result{Action: filter.ActionPass, FilterName: "secrets"}
}
