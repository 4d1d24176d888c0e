package patterns

import (
	"regexp"
	"strings"

	"github.com/codeatlas-ai/memcore/internal/store"
)

// Detection is one detector firing on a code blob: the pattern it
// recognizes, the example it extracted (empty when extraction failed),
// and the best-practice rules attached to the pattern.
type Detection struct {
	Category    string              `json:"category"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Example     string              `json:"example,omitempty"`
	Rules       []store.PatternRule `json:"rules"`
}

// detector pairs a recognition test with an example extractor and a fixed
// rule set. New detectors are rows in the table, not new control flow.
type detector struct {
	category    string
	name        string
	description string
	match       *regexp.Regexp
	extract     *regexp.Regexp
	rules       []store.PatternRule
}

// detectorTable is ordered: detection results and inferred categories
// follow this order deterministically.
var detectorTable = []detector{
	{
		category:    store.CategoryErrorHandling,
		name:        "Structured error handling",
		description: "Wraps fallible calls in explicit error handling",
		match:       regexp.MustCompile(`(?s)try\s*\{.*?\}\s*catch|if\s+err\s*!=\s*nil|\.catch\s*\(`),
		extract:     regexp.MustCompile(`(?s)try\s*\{.*?\}\s*catch\s*(\([^)]*\))?\s*\{.*?\}|if\s+err\s*!=\s*nil\s*\{[^}]*\}`),
		rules: []store.PatternRule{
			{Rule: "Log or rethrow every caught error", Severity: store.SeverityWarning},
			{Rule: "Never leave a catch block empty", Severity: store.SeverityCritical},
		},
	},
	{
		category:    store.CategoryAPICall,
		name:        "HTTP API call",
		description: "Calls an external HTTP API",
		match:       regexp.MustCompile(`\bfetch\s*\(|\baxios\.|http\.(Get|Post|Do)\b|XMLHttpRequest`),
		extract:     regexp.MustCompile(`.*(\bfetch\s*\(|\baxios\.|http\.(Get|Post|Do)\b).*`),
		rules: []store.PatternRule{
			{Rule: "Handle non-2xx responses explicitly", Severity: store.SeverityWarning},
			{Rule: "Set a request timeout", Severity: store.SeverityInfo},
		},
	},
	{
		category:    store.CategoryComponent,
		name:        "UI component",
		description: "Defines a rendering component",
		match:       regexp.MustCompile(`function\s+[A-Z]\w*\s*\([^)]*\)[^{]*\{[\s\S]*return\s*\(?\s*<|extends\s+(React\.)?Component|=>\s*\(?\s*<[A-Za-z]`),
		extract:     regexp.MustCompile(`function\s+[A-Z]\w*\s*\([^)]*\)`),
		rules: []store.PatternRule{
			{Rule: "Keep components presentational; lift data loading out", Severity: store.SeverityInfo},
			{Rule: "Give list children stable keys", Severity: store.SeverityWarning},
		},
	},
	{
		category:    store.CategoryValidation,
		name:        "Input validation",
		description: "Validates input before use",
		match:       regexp.MustCompile(`\.validate\s*\(|z\.(object|string|number)\(|joi\.|if\s*\(\s*![\w.]+\s*\)\s*(\{|return|throw)`),
		extract:     regexp.MustCompile(`.*(\.validate\s*\(|z\.(object|string|number)\(|joi\.).*`),
		rules: []store.PatternRule{
			{Rule: "Validate at the boundary, trust internally", Severity: store.SeverityWarning},
			{Rule: "Reject with a message naming the bad field", Severity: store.SeverityInfo},
		},
	},
	{
		category:    store.CategoryDataFetching,
		name:        "Data fetching hook",
		description: "Loads remote or stored data for rendering",
		match:       regexp.MustCompile(`\buseQuery\b|\buseSWR\b|getServerSideProps|\bfindMany\s*\(|SELECT\s+.+\s+FROM`),
		extract:     regexp.MustCompile(`.*(\buseQuery\b|\buseSWR\b|\bfindMany\s*\().*`),
		rules: []store.PatternRule{
			{Rule: "Show loading and error states", Severity: store.SeverityWarning},
			{Rule: "Cache requests keyed by their inputs", Severity: store.SeverityInfo},
		},
	},
	{
		category:    store.CategoryLogging,
		name:        "Diagnostic logging",
		description: "Emits diagnostic log output",
		match:       regexp.MustCompile(`console\.(log|warn|error)\s*\(|\blogger\.\w+\s*\(|\blog\.(Printf|Println|Info|Error)\b`),
		extract:     regexp.MustCompile(`.*(console\.(log|warn|error)|logger\.\w+|log\.(Printf|Println|Info|Error))\s*\(.*`),
		rules: []store.PatternRule{
			{Rule: "Prefer structured fields over string interpolation", Severity: store.SeverityInfo},
			{Rule: "Never log credentials or tokens", Severity: store.SeverityCritical},
		},
	},
}

// Detect runs the full detector table against a code blob and returns one
// Detection per matching detector, in table order.
func Detect(code string) []Detection {
	var out []Detection
	for _, d := range detectorTable {
		if !d.match.MatchString(code) {
			continue
		}
		out = append(out, Detection{
			Category:    d.category,
			Name:        d.name,
			Description: d.description,
			Example:     strings.TrimSpace(d.extract.FindString(code)),
			Rules:       append([]store.PatternRule(nil), d.rules...),
		})
	}
	return out
}

// InferCategory returns the category of the first detector matching the
// code, falling back to custom.
func InferCategory(code string) string {
	for _, d := range detectorTable {
		if d.match.MatchString(code) {
			return d.category
		}
	}
	return store.CategoryCustom
}

// ValidCategory reports whether c is one of the closed category values.
func ValidCategory(c string) bool {
	switch c {
	case store.CategoryErrorHandling, store.CategoryAPICall, store.CategoryComponent,
		store.CategoryValidation, store.CategoryDataFetching, store.CategoryLogging,
		store.CategoryCustom:
		return true
	}
	return false
}
