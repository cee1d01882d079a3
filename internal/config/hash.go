package config

import "hash/fnv"

// hashBytes is a fast non-cryptographic content hash used to skip redundant
// reload publishes.
func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
