package contextkey

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID   key = "trace_id"
	RequestID key = "request_id"
	Tenant    key = "tenant"
	// Conn carries the accepted net.Conn of the request.
	Conn key = "conn"
)
