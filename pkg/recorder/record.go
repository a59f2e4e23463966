package recorder

import "fmt"

// RecordKind distinguishes the two raw record kinds found in a trace.
type RecordKind int

const (
	// FunctionNameRecord binds a function id to a function name.
	FunctionNameRecord RecordKind = iota
	// DetailedCallRecord is one call through a function id.
	DetailedCallRecord
)

// String returns the string representation of the RecordKind
func (k RecordKind) String() string {
	switch k {
	case FunctionNameRecord:
		return "FunctionName"
	case DetailedCallRecord:
		return "DetailedCall"
	default:
		return "Unknown"
	}
}

// Record is one raw trace record. Name is set only on name records; ThreadID,
// Timestamp, StackTraceID and Args only on call records.
type Record struct {
	Kind         RecordKind `json:"kind"`
	ProcessID    uint32     `json:"pid"`
	ThreadID     uint32     `json:"tid,omitempty"`
	Timestamp    uint64     `json:"ts,omitempty"`
	FunctionID   uint32     `json:"fid"`
	StackTraceID uint32     `json:"stack,omitempty"`
	Name         string     `json:"name,omitempty"`
	Args         []byte     `json:"args,omitempty"`
}

// NewFunctionNameRecord returns a name-binding record.
func NewFunctionNameRecord(pid, fid uint32, name string) Record {
	return Record{Kind: FunctionNameRecord, ProcessID: pid, FunctionID: fid, Name: name}
}

// NewCallRecord returns a call record carrying an argument blob.
func NewCallRecord(pid, tid uint32, ts uint64, fid, stackID uint32, args []byte) Record {
	return Record{
		Kind:         DetailedCallRecord,
		ProcessID:    pid,
		ThreadID:     tid,
		Timestamp:    ts,
		FunctionID:   fid,
		StackTraceID: stackID,
		Args:         args,
	}
}

func (r Record) String() string {
	if r.Kind == FunctionNameRecord {
		return fmt.Sprintf("name pid=%d fid=%d %q", r.ProcessID, r.FunctionID, r.Name)
	}
	return fmt.Sprintf("call pid=%d tid=%d ts=%d fid=%d stack=%#x args=%dB",
		r.ProcessID, r.ThreadID, r.Timestamp, r.FunctionID, r.StackTraceID, len(r.Args))
}
