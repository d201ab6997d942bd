package sync

// FailedCount is the count carried by an Outcome whose operation failed
const FailedCount = -1

// WorkerKind tells which side of the pipeline reported an Outcome
type WorkerKind int

const (
	KindReader WorkerKind = iota
	KindWriter
)

func (k WorkerKind) String() string {
	switch k {
	case KindReader:
		return "READER"
	case KindWriter:
		return "WRITER"
	default:
		return "UNKNOWN"
	}
}

// Outcome is reported once per fetched page and once per written batch
type Outcome struct {
	Kind  WorkerKind
	Count int
}

// Failed reports whether the outcome carries the failure sentinel
func (o Outcome) Failed() bool {
	return o.Count == FailedCount
}

// Tally is the aggregation of all outcomes of a run
type Tally struct {
	Read     int
	Written  int
	Failures int
}

// Successful reports whether nothing failed and every read record was written
func (t Tally) Successful() bool {
	return t.Failures == 0 && t.Read == t.Written
}

// tallyOutcomes sums reader and writer counts separately, failures excluded
func tallyOutcomes(outcomes []Outcome) Tally {
	var t Tally
	for _, o := range outcomes {
		if o.Failed() {
			t.Failures++
			continue
		}
		switch o.Kind {
		case KindReader:
			t.Read += o.Count
		case KindWriter:
			t.Written += o.Count
		}
	}
	return t
}
