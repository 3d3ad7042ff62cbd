// Package matcher identifies a face embedding against a catalog snapshot by distance voting.
package matcher

import (
	"fmt"
	"math"

	"github.com/andresmejia3/facegrid/internal/catalog"
	"github.com/andresmejia3/facegrid/internal/types"
)

// DefaultTolerance is the distance below which a record votes for its name.
const DefaultTolerance = 0.5

// UnknownName is the label shown for faces that matched nobody.
const UnknownName = "Unknown"

// Identity is either Known(name) or Unknown. The zero value is Unknown.
type Identity struct {
	name  string
	known bool
}

// Unknown is the identity of an unmatched face.
var Unknown = Identity{}

// Known returns the identity of a matched face.
func Known(name string) Identity {
	return Identity{name: name, known: true}
}

func (i Identity) IsKnown() bool { return i.known }

// Name returns the matched name, or UnknownName.
func (i Identity) Name() string {
	if !i.known {
		return UnknownName
	}
	return i.name
}

func (i Identity) String() string { return i.Name() }

// Result is the outcome of matching one detection.
type Result struct {
	Detection types.Detection
	Identity  Identity
	// Votes is the winning name's vote count, 0 when Unknown.
	Votes int
	// Invalid lists records skipped for wrong dimensionality. Never fatal.
	Invalid []error
}

// Matched reports whether a known identity was found.
func (r Result) Matched() bool { return r.Identity.IsKnown() }

// Distance returns the Euclidean distance between a and b. Both must have equal length.
func Distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Match compares candidate to every record in cat. Each record closer than tolerance votes
// for its name; the name with the most votes wins and ties go to the name that voted first
// in catalog order.
func Match(candidate []float64, cat *catalog.Catalog, tolerance float64) Result {
	res := Result{Identity: Unknown}
	if len(candidate) == 0 {
		res.Invalid = append(res.Invalid, fmt.Errorf("%w: empty candidate", types.ErrInvalidEmbedding))
		return res
	}

	votes := make(map[string]int)
	var order []string

	for i := 0; i < cat.Len(); i++ {
		rec := cat.Record(i)
		if len(rec.Embedding) != len(candidate) {
			res.Invalid = append(res.Invalid, fmt.Errorf("%w: record %d (%s) has %d dimensions, candidate has %d",
				types.ErrInvalidEmbedding, i, rec.Name, len(rec.Embedding), len(candidate)))
			continue
		}
		d := Distance(candidate, rec.Embedding)
		if math.IsNaN(d) || math.IsInf(d, 0) {
			res.Invalid = append(res.Invalid, fmt.Errorf("%w: record %d (%s) is at non-finite distance %v",
				types.ErrInvalidEmbedding, i, rec.Name, d))
			continue
		}
		if !(d < tolerance) {
			continue
		}
		if _, ok := votes[rec.Name]; !ok {
			order = append(order, rec.Name)
		}
		votes[rec.Name]++
	}

	for _, name := range order {
		if votes[name] > res.Votes {
			res.Votes = votes[name]
			res.Identity = Known(name)
		}
	}
	return res
}

// MatchDetection matches d.Embedding and records d on the result.
func MatchDetection(d types.Detection, cat *catalog.Catalog, tolerance float64) Result {
	res := Match(d.Embedding, cat, tolerance)
	res.Detection = d
	return res
}
