package permission

// Mask64 is a set of up to 64 permission bits.
type Mask64 uint64

func bitOf(bit int) (Mask64, bool) {
	if bit < 0 || bit > rootBit {
		return 0, false
	}
	return 1 << uint(bit), true
}

// Has reports whether bit is set. With rootReserved, a set bit 63 grants
// every bit.
func (m Mask64) Has(bit int, rootReserved bool) bool {
	b, ok := bitOf(bit)
	if !ok {
		return false
	}
	return m&b != 0 || (rootReserved && m&(1<<rootBit) != 0)
}

// Set turns bit on. Out-of-range bits are ignored.
func (m *Mask64) Set(bit int) {
	if b, ok := bitOf(bit); ok {
		*m |= b
	}
}

// Clear turns bit off. Out-of-range bits are ignored.
func (m *Mask64) Clear(bit int) {
	if b, ok := bitOf(bit); ok {
		*m &^= b
	}
}

func (m Mask64) Raw() uint64 { return uint64(m) }
