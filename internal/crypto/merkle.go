package crypto

// MerkleRoot computes the Merkle root over an ordered sequence of 32-byte
// leaves. The last leaf is duplicated when the level has an odd count, the
// standard Bitcoin-style convention. An empty leaf set roots to the hash of
// the empty byte string.
func MerkleRoot(leaves []Hash) Hash {
	if len(leaves) == 0 {
		return Sum256(nil)
	}
	level := make([]Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, SumMany(level[i].Bytes(), level[i+1].Bytes()))
		}
		level = next
	}
	return level[0]
}
