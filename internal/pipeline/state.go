package pipeline

// State is the driver's position in the per-chunk cycle
// Idle → Reading → Validating → Writing → Reading | Done.
type State int32

const (
	Idle State = iota
	Reading
	Validating
	Writing
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Reading:
		return "reading"
	case Validating:
		return "validating"
	case Writing:
		return "writing"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Stage names the step of a chunk that an error or timing belongs to. The
// values double as metric step labels.
type Stage string

const (
	StageReading    Stage = "read"
	StageValidating Stage = "validate"
	StageWriting    Stage = "write"
)
