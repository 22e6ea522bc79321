package entry

// Value is the log level enumeration.
type Value uint8

const (
	Debug Value = iota
	Trace
	Info
	Warn
	Error
	Fatal
)

func (v Value) String() string {
	switch v {
	case Debug:
		return "debug"
	case Trace:
		return "trace"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Level pairs a Value with the IsFiltered bit: "upstream already decided".
// Decoders must preserve Filtered bit-for-bit; it participates in filter
// gating (an IsFiltered log bypasses the external filter entirely).
type Level struct {
	Value    Value
	Filtered bool
}

// AtLeast reports whether v meets or exceeds the threshold under the
// natural Debug < Trace < Info < Warn < Error < Fatal ordering.
func (v Value) AtLeast(threshold Value) bool {
	return v >= threshold
}

// GroupFilter pairs the two thresholds MinimalFilter carries: a group
// (OpenGroup/CloseGroup) floor and a line (Line) floor.
type GroupFilter struct {
	Group Value
	Line  Value
}

// Allows reports whether an entry of the given kind and level clears this
// filter. OpenGroup/CloseGroup entries are gated by Group; Line entries by
// Line. An entry whose Level.Filtered bit is set always clears the filter
// — the caller has already decided.
func (f GroupFilter) Allows(k Kind, lvl Level) bool {
	if lvl.Filtered {
		return true
	}
	switch k {
	case KindOpenGroup, KindCloseGroup:
		return lvl.Value.AtLeast(f.Group)
	default:
		return lvl.Value.AtLeast(f.Line)
	}
}
