package ocr

import (
	"math"

	"github.com/agnivade/levenshtein"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/recognition"
)

// MergeStrings joins the decoded text of two neighbouring split parts.
//
// Every overlap length k up to the shorter string is scored by the edit
// distance between the last k runes of left and the first k runes of right,
// divided by k. The lowest-scoring k is dropped from the front of right,
// so at least one rune always overlaps. When the two shortest overlaps both
// match exactly the parts share a run of repeated characters, and k is
// estimated from the dilation instead, bounded by the leading run of exact
// matches.
func MergeStrings(left, right string, dilation float64) string {
	a, b := []rune(left), []rune(right)
	n := min(len(a), len(b))
	if n == 0 {
		return left + right
	}

	scores := make([]float64, n)
	for k := 1; k <= n; k++ {
		d := levenshtein.ComputeDistance(string(a[len(a)-k:]), string(b[:k]))
		scores[k-1] = float64(d) / float64(k)
	}

	var overlap int
	if n > 1 && scores[0] == 0 && scores[1] == 0 {
		geometric := int(math.Round(float64(len(b)) * (dilation - 1) / dilation))
		zeros := 0
		for zeros < n && scores[zeros] == 0 {
			zeros++
		}
		overlap = min(zeros, geometric)
	} else {
		best := 0
		for i, s := range scores {
			if s < scores[best] {
				best = i
			}
		}
		overlap = best + 1
	}

	return left + string(b[overlap:])
}

// MergeSplits folds recognition results back into one result per crop.
// counts[i] is the number of consecutive parts crop i was split into.
// Confidence of a merged crop is the mean of its parts.
func MergeSplits(parts []recognition.Result, counts []int, dilation float64) ([]recognition.Result, error) {
	total := 0
	for _, c := range counts {
		total += c
	}
	if total != len(parts) {
		return nil, errors.NewInvariantError("split map covers %d parts, recognizer returned %d", total, len(parts))
	}

	out := make([]recognition.Result, len(counts))
	pos := 0
	for i, c := range counts {
		if c == 0 {
			continue
		}
		merged := parts[pos]
		var conf float64
		for j := pos; j < pos+c; j++ {
			if j > pos {
				merged.Text = MergeStrings(merged.Text, parts[j].Text, dilation)
			}
			conf += parts[j].Confidence
		}
		merged.Confidence = conf / float64(c)
		out[i] = merged
		pos += c
	}
	return out, nil
}
