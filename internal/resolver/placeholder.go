package resolver

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"blockpilot/engine/internal/doctree"
)

type Direction string

const (
	Above Direction = "above"
	Below Direction = "below"
)

type Granularity string

const (
	GranularityLine Granularity = "line"
	GranularityUnit Granularity = "unit"
)

const (
	minPlaceholderCount = 1
	maxPlaceholderCount = 100
)

// PlaceholderSpec is one parsed occurrence of the context placeholder
// grammar: {above=N}, {below=N}, {above_units=N}, {below_units=N}.
type PlaceholderSpec struct {
	Raw         string
	Direction   Direction
	Granularity Granularity
	Count       int
}

var placeholderPattern = regexp.MustCompile(`\{(above|below)(_units)?=(\d+)\}`)

// ParsePlaceholders scans template for all placeholder occurrences in order.
// Counts are clamped to [1,100] before they can bound any query.
func ParsePlaceholders(template string) []PlaceholderSpec {
	matches := placeholderPattern.FindAllStringSubmatch(template, -1)
	if len(matches) == 0 {
		return nil
	}
	specs := make([]PlaceholderSpec, 0, len(matches))
	for _, match := range matches {
		count, err := strconv.Atoi(match[3])
		if err != nil {
			// the pattern only admits digits, so an error means the
			// number does not fit an int; clamp it like any oversize count
			count = maxPlaceholderCount
		}
		spec := PlaceholderSpec{
			Raw:       match[0],
			Direction: Direction(match[1]),
			Count:     clampCount(count),
		}
		if match[2] == "_units" {
			spec.Granularity = GranularityUnit
		} else {
			spec.Granularity = GranularityLine
		}
		specs = append(specs, spec)
	}
	return specs
}

// ApplyPlaceholders substitutes every placeholder in template with resolved
// document content around unitID. Substitution is literal; resolved content
// is never re-wrapped in additional markup.
func (r *Resolver) ApplyPlaceholders(ctx context.Context, tree doctree.Tree, template, unitID string) string {
	specs := ParsePlaceholders(template)
	if len(specs) == 0 {
		return template
	}
	out := template
	for _, spec := range specs {
		var content string
		if spec.Granularity == GranularityUnit {
			content = r.ContextUnits(ctx, tree, unitID, spec.Direction, spec.Count)
		} else {
			content = r.ContextLines(ctx, tree, unitID, spec.Direction, spec.Count)
		}
		out = strings.Replace(out, spec.Raw, content, 1)
	}
	return out
}

func clampCount(count int) int {
	if count < minPlaceholderCount {
		return minPlaceholderCount
	}
	if count > maxPlaceholderCount {
		return maxPlaceholderCount
	}
	return count
}
