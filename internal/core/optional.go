package core

// Optional distinguishes a value that was not supplied from a supplied
// zero value, so an explicit "" or 0 is still applied on edit.
type Optional[T any] struct {
	value T
	set   bool
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// None returns an unset Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

func (o Optional[T]) IsSet() bool {
	return o.set
}

// OrElse returns the held value, or def when unset.
func (o Optional[T]) OrElse(def T) T {
	if o.set {
		return o.value
	}
	return def
}
