// Package record defines the data types shared across the tailing engine,
// the channel and the sink proxy.
package record

// Record is one emitted log line, tagged with where it came from and where
// it should go. Records are immutable once constructed.
type Record struct {
	SinkName string
	Filename string
	Payload  []byte
}

// Formatted renders the wire representation shared by every sink:
// "<absolute filename>: <raw line including newline>".
func (r Record) Formatted() []byte {
	out := make([]byte, 0, len(r.Filename)+2+len(r.Payload))
	out = append(out, r.Filename...)
	out = append(out, ':', ' ')
	out = append(out, r.Payload...)
	return out
}
