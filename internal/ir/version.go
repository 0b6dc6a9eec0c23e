package ir

// Version constants recorded alongside journal sessions.
const (
	// FingerprintVersion identifies the query identity scheme (see DomainQuery).
	FingerprintVersion = "1"

	// EngineVersion is the cache engine version.
	EngineVersion = "0.1.0"
)
