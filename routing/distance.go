package routing

// Distance is the XOR metric between two node identifiers. Smaller means
// closer; comparison is big-endian lexicographic.
type Distance [NodeIDSize]byte

// DistanceBetween computes the XOR distance between two identifiers.
func DistanceBetween(a, b NodeID) Distance {
	var d Distance
	for i := 0; i < NodeIDSize; i++ {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less reports whether d is strictly closer than other.
func (d Distance) Less(other Distance) bool {
	for i := 0; i < NodeIDSize; i++ {
		if d[i] < other[i] {
			return true
		} else if d[i] > other[i] {
			return false
		}
	}
	return false
}

// bucketIndex maps a distance to a bucket by the position of its first set
// bit. Closer peers land in higher-numbered buckets.
func bucketIndex(d Distance) int {
	for i := 0; i < NodeIDSize; i++ {
		if d[i] == 0 {
			continue
		}
		b := d[i]
		for j := 0; j < 8; j++ {
			if (b>>(7-j))&1 == 1 {
				return i*8 + j
			}
		}
	}
	return NodeIDSize*8 - 1
}
