package telemetry

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// StreamReport describes one stream slot after a run.
type StreamReport struct {
	Slot       int           `cbor:"slot" json:"slot"`
	Path       string        `cbor:"path" json:"path"`
	State      string        `cbor:"state" json:"state"`
	Duration   time.Duration `cbor:"duration_ns" json:"duration_ns"`
	Ticks      uint64        `cbor:"ticks" json:"ticks"`
	Dispatched uint64        `cbor:"dispatched" json:"dispatched"`
	Dropped    uint64        `cbor:"dropped" json:"dropped"`
	Errors     uint64        `cbor:"errors" json:"errors"`
}

// Report is the exported result of one scheduler run.
type Report struct {
	Edition  string               `cbor:"edition" json:"edition"`
	Session  string               `cbor:"session" json:"session"`
	Started  time.Time            `cbor:"started" json:"started"`
	Finished time.Time            `cbor:"finished" json:"finished"`
	Summary  Summary              `cbor:"summary" json:"summary"`
	Streams  []StreamReport       `cbor:"streams" json:"streams"`
	Series   map[string][]float64 `cbor:"series" json:"series"`
}

// Export fills the series of r from a.
func (a *Aggregator) Export(r *Report) {
	r.Summary = a.Summary()
	r.Series = make(map[string][]float64, len(Kinds))
	for _, k := range Kinds {
		r.Series[string(k)] = a.Series(k)
	}
}

// WriteReports encodes reports as a CBOR array.
func WriteReports(w io.Writer, reports []Report) error {
	enc := cbor.NewEncoder(w)
	if err := enc.Encode(reports); err != nil {
		return fmt.Errorf("failed to encode telemetry report: %w", err)
	}
	return nil
}

// SaveReports writes reports to path.
func SaveReports(path string, reports []Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteReports(f, reports); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadReports decodes what WriteReports produced.
func ReadReports(r io.Reader) ([]Report, error) {
	var reports []Report
	if err := cbor.NewDecoder(r).Decode(&reports); err != nil {
		return nil, fmt.Errorf("failed to decode telemetry report: %w", err)
	}
	return reports, nil
}
