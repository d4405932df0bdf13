package proto

// ProgressKind identifies a phase of a generation run. The set is closed:
// frontends switch over these values and an unknown kind is a bug.
type ProgressKind string

// Progress event kinds in the order a successful run emits them.
const (
	ProgressGenerating ProgressKind = "generating"
	ProgressExtracting ProgressKind = "extracting"
	ProgressWriting    ProgressKind = "writing"
	ProgressValidating ProgressKind = "validating"
	ProgressRetrying   ProgressKind = "retrying"
	ProgressComplete   ProgressKind = "complete"
	ProgressError      ProgressKind = "error"
)

// Progress is a single event in a generation run's ordered event stream.
type Progress struct {
	Kind    ProgressKind `json:"kind"`
	Attempt int          `json:"attempt"`
	Message string       `json:"message,omitempty"`
}

// ProgressFunc receives progress events synchronously, in emission order.
// Callbacks run on the generating goroutine and should return quickly.
type ProgressFunc func(Progress)

// Terminal reports whether the kind ends a run.
func (k ProgressKind) Terminal() bool {
	return k == ProgressComplete || k == ProgressError
}

// String returns the wire name of the kind.
func (k ProgressKind) String() string {
	return string(k)
}
