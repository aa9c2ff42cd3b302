package digest

import "hash"

// Accumulator folds accepted data blocks into a running hash.
//
// When the peer's algorithm differs from the local preference, a second hash
// is fed in parallel: Peer is compared to the hash the peer declares at end of
// transfer and Local is what gets recorded as the hash computed during
// transfer. An Accumulator is owned by one session's packet path and is not
// safe for concurrent use.
type Accumulator struct {
	peerAlgo  Algorithm
	localAlgo Algorithm
	peer      hash.Hash
	local     hash.Hash
	partial   bool
}

// NewAccumulator creates an accumulator. partial marks a hash started from a
// non-zero rank, which therefore does not cover the whole file.
func NewAccumulator(peer, local Algorithm, partial bool) *Accumulator {
	a := &Accumulator{
		peerAlgo:  peer,
		localAlgo: local,
		peer:      New(peer),
		partial:   partial,
	}
	if peer != local {
		a.local = New(local)
	}
	return a
}

// Write folds a block into the hashes.
func (a *Accumulator) Write(block []byte) {
	a.peer.Write(block)
	if a.local != nil {
		a.local.Write(block)
	}
}

// Dual reports whether a second, locally-preferred hash is maintained.
func (a *Accumulator) Dual() bool { return a.local != nil }

// Partial reports whether the hash started after rank 0.
func (a *Accumulator) Partial() bool { return a.partial }

// PeerAlgorithm returns the algorithm compared against the peer's hash.
func (a *Accumulator) PeerAlgorithm() Algorithm { return a.peerAlgo }

// PeerHex returns the hex digest comparable with the peer's declared hash.
func (a *Accumulator) PeerHex() string { return Hex(a.peer.Sum(nil)) }

// LocalHex returns the hex digest in the locally preferred algorithm.
func (a *Accumulator) LocalHex() string {
	if a.local != nil {
		return Hex(a.local.Sum(nil))
	}
	return a.PeerHex()
}
