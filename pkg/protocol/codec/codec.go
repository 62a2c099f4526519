package codec

// Codec serializes a string-keyed map to bytes and back. The wire
// protocol only ever exchanges self-describing maps, so implementations
// must preserve string keys, string/number/bool leaves and nested maps
// across a round trip.
type Codec interface {
	ContentType() string
	Marshal(m map[string]any) ([]byte, error)
	Unmarshal(data []byte) (map[string]any, error)
}

// Registry maps content types to codecs.
type Registry struct{ byType map[string]Codec }

// NewRegistry constructs a registry preloaded with all built-in codecs:
// JSON, CBOR and protobuf (structpb).
func NewRegistry() (*Registry, error) {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(Proto())
	c, err := CBOR()
	if err != nil {
		return nil, err
	}
	r.Register(c)
	return r, nil
}

// Register adds or replaces a codec.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }
