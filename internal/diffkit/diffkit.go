// Package diffkit computes semantic diffs between the original selection and
// the generated candidate text for review rendering.
package diffkit

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type Kind string

const (
	Equal  Kind = "equal"
	Insert Kind = "insert"
	Delete Kind = "delete"
	Modify Kind = "modify"
)

// Patch is one run of a semantic diff. Concatenating equal+insert values
// reconstructs the modified text; equal+delete reconstructs the original.
type Patch struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
}

// LineDiff aligns one line for side-by-side rendering.
type LineDiff struct {
	Kind    Kind   `json:"kind"`
	OldText string `json:"old_text,omitempty"`
	NewText string `json:"new_text,omitempty"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
}

// Compute runs a Myers diff followed by a semantic cleanup pass that merges
// noisy character-level fragments into coherent edits.
func Compute(original, modified string) []Patch {
	if original == "" && modified == "" {
		return nil
	}
	if original == "" {
		return []Patch{{Kind: Insert, Value: modified}}
	}
	if modified == "" {
		return []Patch{{Kind: Delete, Value: original}}
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(original, modified, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	patches := make([]Patch, 0, len(diffs))
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			patches = append(patches, Patch{Kind: Equal, Value: d.Text})
		case diffmatchpatch.DiffInsert:
			patches = append(patches, Patch{Kind: Insert, Value: d.Text})
		case diffmatchpatch.DiffDelete:
			patches = append(patches, Patch{Kind: Delete, Value: d.Text})
		}
	}
	return patches
}

// Lines classifies the two texts line by line: lines present on both sides at
// the same alignment slot with different content become a single modify row.
func Lines(original, modified string) []LineDiff {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(original, modified)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var out []LineDiff
	oldLine := 1
	newLine := 1
	i := 0
	for i < len(diffs) {
		d := diffs[i]
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			for _, line := range splitLines(d.Text) {
				out = append(out, LineDiff{Kind: Equal, OldText: line, NewText: line, OldLine: oldLine, NewLine: newLine})
				oldLine++
				newLine++
			}
			i++
		case diffmatchpatch.DiffDelete:
			removed := splitLines(d.Text)
			// a delete immediately followed by an insert pairs up as modify rows
			if i+1 < len(diffs) && diffs[i+1].Type == diffmatchpatch.DiffInsert {
				added := splitLines(diffs[i+1].Text)
				pairs := len(removed)
				if len(added) < pairs {
					pairs = len(added)
				}
				for j := 0; j < pairs; j++ {
					out = append(out, LineDiff{Kind: Modify, OldText: removed[j], NewText: added[j], OldLine: oldLine, NewLine: newLine})
					oldLine++
					newLine++
				}
				for _, line := range removed[pairs:] {
					out = append(out, LineDiff{Kind: Delete, OldText: line, OldLine: oldLine})
					oldLine++
				}
				for _, line := range added[pairs:] {
					out = append(out, LineDiff{Kind: Insert, NewText: line, NewLine: newLine})
					newLine++
				}
				i += 2
				continue
			}
			for _, line := range removed {
				out = append(out, LineDiff{Kind: Delete, OldText: line, OldLine: oldLine})
				oldLine++
			}
			i++
		case diffmatchpatch.DiffInsert:
			for _, line := range splitLines(d.Text) {
				out = append(out, LineDiff{Kind: Insert, NewText: line, NewLine: newLine})
				newLine++
			}
			i++
		}
	}
	return out
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
