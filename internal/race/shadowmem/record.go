package shadowmem

// Record is one memory-access fact packed into a single machine word, so a
// shadow slot can be read and replaced with one atomic operation.
//
// Layout (low to high bits):
//
//	[offset:3][sizeLog2:2][read:1][atomic:1][tid:10][clock:47]
//
// offset is the byte offset inside the 8-byte granule, sizeLog2 the log2 of
// the access size (0..3). The zero Record means "empty slot"; since thread
// clocks start at 1, a stored record is never zero.
type Record uint64

const (
	// GranuleShift is log2 of the granule size.
	GranuleShift = 3

	// GranuleSize is the number of bytes covered by one shadow cell.
	GranuleSize = 1 << GranuleShift

	offsetBits = 3
	sizeBits   = 2
	readBits   = 1
	atomicBits = 1

	// TIDBits is the width of the thread ID field.
	TIDBits = 10

	// ClockBits is the width of the clock field.
	ClockBits = 64 - offsetBits - sizeBits - readBits - atomicBits - TIDBits

	sizeShift   = offsetBits
	readShift   = sizeShift + sizeBits
	atomicShift = readShift + readBits
	tidShift    = atomicShift + atomicBits
	clockShift  = tidShift + TIDBits

	offsetMask = 1<<offsetBits - 1
	sizeMask   = 1<<sizeBits - 1
	tidMask    = 1<<TIDBits - 1

	// ClockMask bounds the clock values a record can hold.
	ClockMask = 1<<ClockBits - 1
)

// NewRecord packs an access. Fields wider than their slot are truncated.
func NewRecord(tid int, clock uint64, offset uintptr, sizeLog2 uint, read, atomic bool) Record {
	r := Record(offset&offsetMask) |
		Record(sizeLog2&sizeMask)<<sizeShift |
		Record(uint64(tid)&tidMask)<<tidShift |
		Record(clock&ClockMask)<<clockShift
	if read {
		r |= 1 << readShift
	}
	if atomic {
		r |= 1 << atomicShift
	}
	return r
}

// TID returns the accessing thread.
func (r Record) TID() int {
	return int(r>>tidShift) & tidMask
}

// Clock returns the accessing thread's clock at the time of the access.
func (r Record) Clock() uint64 {
	return uint64(r >> clockShift)
}

// Offset returns the byte offset inside the granule.
func (r Record) Offset() uintptr {
	return uintptr(r & offsetMask)
}

// SizeLog2 returns log2 of the access size.
func (r Record) SizeLog2() uint {
	return uint(r>>sizeShift) & sizeMask
}

// Size returns the access size in bytes.
func (r Record) Size() uintptr {
	return 1 << r.SizeLog2()
}

// IsRead reports whether the access was a read.
func (r Record) IsRead() bool {
	return r&(1<<readShift) != 0
}

// IsAtomic reports whether the access was made by an atomic operation.
func (r Record) IsAtomic() bool {
	return r&(1<<atomicShift) != 0
}

// IsEmpty reports whether r is the empty slot value.
func (r Record) IsEmpty() bool {
	return r == 0
}

// SameRange reports whether both records cover identical bytes.
func (r Record) SameRange(o Record) bool {
	const rangeMask = offsetMask | sizeMask<<sizeShift
	return r&rangeMask == o&rangeMask
}

// Overlaps reports whether the byte ranges of both records intersect.
func (r Record) Overlaps(o Record) bool {
	return r.Offset() < o.Offset()+o.Size() && o.Offset() < r.Offset()+r.Size()
}

// Intersect returns the first byte and length of the common range of two
// overlapping records.
func (r Record) Intersect(o Record) (offset, size uintptr) {
	lo := max(r.Offset(), o.Offset())
	hi := min(r.Offset()+r.Size(), o.Offset()+o.Size())
	if hi <= lo {
		return lo, 0
	}
	return lo, hi - lo
}

// weakerOrEqual reports whether r carries no more information than o about
// the kind of access: a read is weaker than a write, atomic weaker than plain.
func (r Record) weakerOrEqual(o Record) bool {
	if !r.IsRead() && o.IsRead() {
		return false
	}
	return r.IsAtomic() || !o.IsAtomic()
}

// String returns a human-readable representation of the record.
//
// Format: "write(4)+0 tid=5 clock=42".
func (r Record) String() string {
	if r.IsEmpty() {
		return "empty"
	}
	kind := "write"
	if r.IsRead() {
		kind = "read"
	}
	if r.IsAtomic() {
		kind = "atomic-" + kind
	}
	return kind + "(" + itoa(uint64(r.Size())) + ")+" + itoa(uint64(r.Offset())) +
		" tid=" + itoa(uint64(r.TID())) + " clock=" + itoa(r.Clock())
}

// itoa converts an integer to string without fmt import.
func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
