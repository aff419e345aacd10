package casregistry

// Usage restricts which programs may open a given backend. Backends are
// linked at build time: registration happens in init(), enabled per binary
// through a blank import.
type Usage uint8

const (
	// UsageTool marks backends available to short-lived tools.
	UsageTool Usage = 1 << iota
	// UsageDaemon marks backends available to long-running daemons.
	UsageDaemon
)

func (u Usage) allows(want Usage) bool { return u&want != 0 }
