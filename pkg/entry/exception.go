package entry

// Exception is a recursive exception record. It is always built from a
// captured exception tree, so cycles are impossible by construction.
type Exception struct {
	Message    string
	TypeName   string
	StackTrace string

	Inner  *Exception   // optional
	Inners []*Exception // optional aggregated inner exceptions

	LoaderExceptions []*Exception // optional
	FusionLog        string       // optional; HasFusionLog distinguishes "" from absent
	HasFusionLog     bool
}
