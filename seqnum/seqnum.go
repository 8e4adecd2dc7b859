package seqnum

// Num16 is a 16-bit sequence number with wraparound comparison semantics.
// Frame indices and gap-report ranges use this space.
type Num16 uint16

// Num32 is a 32-bit sequence number with wraparound comparison semantics.
type Num32 uint32

const (
	half16 = 1 << 15
	half32 = 1 << 31
)

// Gt reports whether a is greater than b, i.e. the forward distance from
// b to a is strictly within the first half of the 16-bit range.
func (a Num16) Gt(b Num16) bool {
	d := uint16(a - b)
	return d != 0 && d < half16
}

// Lt reports whether a is less than b.
func (a Num16) Lt(b Num16) bool {
	return b.Gt(a)
}

// Ge reports whether a is greater than or equal to b.
func (a Num16) Ge(b Num16) bool {
	return a == b || a.Gt(b)
}

// Le reports whether a is less than or equal to b.
func (a Num16) Le(b Num16) bool {
	return a == b || a.Lt(b)
}

// Add returns a advanced by n, wrapping around the 16-bit range.
func (a Num16) Add(n uint16) Num16 {
	return a + Num16(n)
}

// Sub returns a moved back by n, wrapping around the 16-bit range.
func (a Num16) Sub(n uint16) Num16 {
	return a - Num16(n)
}

// Gt reports whether a is greater than b, i.e. the forward distance from
// b to a is strictly within the first half of the 32-bit range.
func (a Num32) Gt(b Num32) bool {
	d := uint32(a - b)
	return d != 0 && d < half32
}

// Lt reports whether a is less than b.
func (a Num32) Lt(b Num32) bool {
	return b.Gt(a)
}

// Ge reports whether a is greater than or equal to b.
func (a Num32) Ge(b Num32) bool {
	return a == b || a.Gt(b)
}

// Le reports whether a is less than or equal to b.
func (a Num32) Le(b Num32) bool {
	return a == b || a.Lt(b)
}

// Add returns a advanced by n, wrapping around the 32-bit range.
func (a Num32) Add(n uint32) Num32 {
	return a + Num32(n)
}

// Sub returns a moved back by n, wrapping around the 32-bit range.
func (a Num32) Sub(n uint32) Num32 {
	return a - Num32(n)
}
