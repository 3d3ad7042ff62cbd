package matcher

import (
	"errors"
	"math"
	"testing"

	"github.com/andresmejia3/facegrid/internal/catalog"
	"github.com/andresmejia3/facegrid/internal/types"
)

func TestMatch(t *testing.T) {
	ann := []float64{0, 0, 0}

	tests := []struct {
		name      string
		records   []types.IdentityRecord
		candidate []float64
		want      string
		wantKnown bool
		wantVotes int
	}{
		{
			name:      "within tolerance",
			records:   []types.IdentityRecord{{Name: "ann", Embedding: ann}},
			candidate: []float64{0.3, 0, 0},
			want:      "ann",
			wantKnown: true,
			wantVotes: 1,
		},
		{
			name:      "outside tolerance",
			records:   []types.IdentityRecord{{Name: "ann", Embedding: ann}},
			candidate: []float64{0.7, 0, 0},
			want:      UnknownName,
		},
		{
			name:      "exactly at tolerance does not vote",
			records:   []types.IdentityRecord{{Name: "ann", Embedding: ann}},
			candidate: []float64{0.5, 0, 0},
			want:      UnknownName,
		},
		{
			name:      "empty catalog",
			candidate: []float64{0, 0, 0},
			want:      UnknownName,
		},
		{
			name: "majority wins",
			records: []types.IdentityRecord{
				{Name: "bob", Embedding: []float64{0.1, 0, 0}},
				{Name: "ann", Embedding: []float64{0.2, 0, 0}},
				{Name: "ann", Embedding: []float64{0, 0.2, 0}},
			},
			candidate: []float64{0, 0, 0},
			want:      "ann",
			wantKnown: true,
			wantVotes: 2,
		},
		{
			name: "tie goes to first voter in catalog order",
			records: []types.IdentityRecord{
				{Name: "zed", Embedding: []float64{9, 9, 9}},
				{Name: "bob", Embedding: []float64{0.1, 0, 0}},
				{Name: "ann", Embedding: []float64{0.01, 0, 0}},
			},
			candidate: []float64{0, 0, 0},
			want:      "bob",
			wantKnown: true,
			wantVotes: 1,
		},
		{
			name:      "NaN candidate never votes",
			records:   []types.IdentityRecord{{Name: "ann", Embedding: ann}},
			candidate: []float64{math.NaN(), 0, 0},
			want:      UnknownName,
		},
		{
			name:      "infinite candidate never votes",
			records:   []types.IdentityRecord{{Name: "ann", Embedding: ann}},
			candidate: []float64{math.Inf(1), 0, 0},
			want:      UnknownName,
		},
		{
			name: "NaN record is skipped",
			records: []types.IdentityRecord{
				{Name: "zed", Embedding: []float64{0, math.NaN(), 0}},
				{Name: "ann", Embedding: []float64{0.1, 0, 0}},
			},
			candidate: []float64{0, 0, 0},
			want:      "ann",
			wantKnown: true,
			wantVotes: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match(tt.candidate, catalog.New(tt.records), DefaultTolerance)
			if got.Identity.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", got.Identity.Name(), tt.want)
			}
			if got.Matched() != tt.wantKnown {
				t.Errorf("Matched() = %v, want %v", got.Matched(), tt.wantKnown)
			}
			if got.Votes != tt.wantVotes {
				t.Errorf("Votes = %d, want %d", got.Votes, tt.wantVotes)
			}
			// Unknown iff no record voted.
			if got.Matched() != (got.Votes > 0) {
				t.Errorf("Matched() = %v with %d votes", got.Matched(), got.Votes)
			}
		})
	}
}

func TestMatchIsDeterministic(t *testing.T) {
	cat := catalog.New([]types.IdentityRecord{
		{Name: "carol", Embedding: []float64{0.1, 0}},
		{Name: "dave", Embedding: []float64{0, 0.1}},
		{Name: "carol", Embedding: []float64{5, 5}},
		{Name: "dave", Embedding: []float64{5, 5}},
	})
	first := Match([]float64{0, 0}, cat, DefaultTolerance)
	for i := 0; i < 50; i++ {
		if got := Match([]float64{0, 0}, cat, DefaultTolerance); got.Identity != first.Identity {
			t.Fatalf("run %d: got %s, first run gave %s", i, got.Identity, first.Identity)
		}
	}
	if first.Identity.Name() != "carol" {
		t.Errorf("expected insertion-order winner carol, got %s", first.Identity)
	}
}

func TestMatchSkipsInvalidRecords(t *testing.T) {
	cat := catalog.New([]types.IdentityRecord{
		{Name: "broken", Embedding: []float64{0, 0}},
		{Name: "empty", Embedding: nil},
		{Name: "ann", Embedding: []float64{0, 0, 0}},
	})

	got := Match([]float64{0.1, 0, 0}, cat, DefaultTolerance)
	if got.Identity.Name() != "ann" {
		t.Errorf("expected ann despite invalid records, got %s", got.Identity)
	}
	if len(got.Invalid) != 2 {
		t.Fatalf("expected 2 invalid records reported, got %d", len(got.Invalid))
	}
	for _, err := range got.Invalid {
		if !errors.Is(err, types.ErrInvalidEmbedding) {
			t.Errorf("expected ErrInvalidEmbedding, got %v", err)
		}
	}
}

func TestIdentityZeroValueIsUnknown(t *testing.T) {
	var id Identity
	if id.IsKnown() || id.Name() != UnknownName {
		t.Errorf("zero Identity should be Unknown, got %+v", id)
	}
	if Known("ann").Name() != "ann" {
		t.Error("Known(ann) should report its name")
	}
}

func TestMatchReportsNonFiniteDistances(t *testing.T) {
	cat := catalog.New([]types.IdentityRecord{
		{Name: "ann", Embedding: []float64{0, 0}},
		{Name: "bob", Embedding: []float64{math.Inf(-1), 0}},
	})

	got := Match([]float64{math.NaN(), 0}, cat, DefaultTolerance)
	if got.Matched() {
		t.Fatalf("NaN candidate matched %s", got.Identity)
	}
	if len(got.Invalid) != 2 {
		t.Fatalf("expected both records reported invalid, got %v", got.Invalid)
	}
	for _, err := range got.Invalid {
		if !errors.Is(err, types.ErrInvalidEmbedding) {
			t.Errorf("expected ErrInvalidEmbedding, got %v", err)
		}
	}
}
