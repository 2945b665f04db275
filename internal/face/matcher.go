// Package face matches face descriptors produced by an external feature
// extractor against enrolled references and drives the login-by-face flow.
package face

import (
	"errors"
	"fmt"
	"math"

	"servchat/internal/model"
)

// DescriptorSize is the embedding dimensionality produced by the extractor.
const DescriptorSize = 128

// DefaultThreshold is the maximum (exclusive) Euclidean distance accepted as
// a match. Lower is stricter.
const DefaultThreshold = 0.5

var ErrInvalidDescriptor = errors.New("invalid descriptor")

type Descriptor []float64

// Validate checks the descriptor has the expected dimensionality and only
// finite components.
func (d Descriptor) Validate() error {
	if len(d) != DescriptorSize {
		return fmt.Errorf("%w: expected %d values, got %d", ErrInvalidDescriptor, DescriptorSize, len(d))
	}
	for i, v := range d {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: value %d is not finite", ErrInvalidDescriptor, i)
		}
	}
	return nil
}

type Reference struct {
	UserID     string
	Descriptor Descriptor
}

// ReferencesFrom builds one reference per record using its first stored
// vector. Records without vectors are skipped.
func ReferencesFrom(records []model.FaceRecord) []Reference {
	refs := make([]Reference, 0, len(records))
	for _, r := range records {
		if len(r.Descriptors) == 0 {
			continue
		}
		refs = append(refs, Reference{UserID: r.UserID, Descriptor: r.Descriptors[0]})
	}
	return refs
}

type Result struct {
	Matched  bool
	UserID   string
	Distance float64
	// Skipped counts references ignored for a dimension mismatch.
	Skipped int
}

// Distance is the Euclidean (L2) distance between a and b, which must have
// the same length.
func Distance(a, b Descriptor) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Match scans refs linearly for the nearest reference to probe. It reports a
// match when the nearest distance is strictly below threshold. Equidistant
// references resolve to the lowest user id. A non-finite distance is never a
// candidate.
func Match(probe Descriptor, refs []Reference, threshold float64) Result {
	best := Result{Distance: math.Inf(1)}
	found := false

	for _, ref := range refs {
		if len(ref.Descriptor) != len(probe) {
			best.Skipped++
			continue
		}
		d := Distance(probe, ref.Descriptor)
		if math.IsNaN(d) || math.IsInf(d, 0) {
			continue
		}
		if !found || d < best.Distance || (d == best.Distance && ref.UserID < best.UserID) {
			best.Distance = d
			best.UserID = ref.UserID
			found = true
		}
	}

	if !found || !(best.Distance < threshold) {
		return Result{Distance: best.Distance, Skipped: best.Skipped}
	}
	best.Matched = true
	return best
}

// Matcher binds a threshold to Match.
type Matcher struct {
	Threshold float64
}

func NewMatcher(threshold float64) Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Matcher{Threshold: threshold}
}

func (m Matcher) Match(probe Descriptor, refs []Reference) Result {
	return Match(probe, refs, m.Threshold)
}
