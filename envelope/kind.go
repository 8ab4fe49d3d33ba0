package envelope

// Kind names a method and fixes its request and response types. Kinds are
// declared once as package-level values and shared by the server's route
// table and by clients.
type Kind[Req, Res any] struct {
	key    string
	schema string
}

// NewKind declares a kind with a unique key
func NewKind[Req, Res any](key string) Kind[Req, Res] {
	return Kind[Req, Res]{key: key}
}

// WithSchema attaches a JSON Schema document that request data must satisfy
func (k Kind[Req, Res]) WithSchema(schema string) Kind[Req, Res] {
	k.schema = schema
	return k
}

// Key returns the wire method name
func (k Kind[Req, Res]) Key() string {
	return k.key
}

// Schema returns the request schema, or "" when none is attached
func (k Kind[Req, Res]) Schema() string {
	return k.schema
}

// Empty is the request or response of kinds that carry no data
type Empty struct{}
