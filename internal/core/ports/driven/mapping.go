package driven

// FieldMapper resolves local order fields to remote invoice fields.
// The mapping is external configuration; the core only consults it.
type FieldMapper interface {
	// Resolve returns the remote field for a local field
	Resolve(localField string) (remoteField string, ok bool)

	// Fields lists all mapped local fields
	Fields() []string
}
