package index

// foldU64 folds x into the running seed: s' = s*101 + x (§4.1). This fold is
// intentionally low-avalanche and non-cryptographic (§9); it's kept only for
// wire-compatible subtree fingerprinting, not as a content digest (file
// content itself is separately hashed with xxHash-64, see fsops.HashVersion).
func foldU64(s, x uint64) uint64 {
	return s*101 + x
}

// foldBytes folds each byte of b into the seed, by the same rule as foldU64
// (each byte treated as an integer).
func foldBytes(s uint64, b []byte) uint64 {
	for _, c := range b {
		s = foldU64(s, uint64(c))
	}
	return s
}
