package util

// Ptr returns &v, for option structs where a nil field means "use the default".
func Ptr[T any](v T) *T {
	return &v
}
