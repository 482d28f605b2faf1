package cid

import (
	"crypto/sha256"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Sum returns the CIDv1 (raw codec, sha2-256) of data. Cached objects are
// keyed by it so identical files at different paths are stored once.
func Sum(data []byte) (string, error) {
	hash := sha256.Sum256(data)

	mh, err := multihash.Encode(hash[:], multihash.SHA2_256)
	if err != nil {
		return "", err
	}

	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

// Matches reports whether data hashes to the CID s.
func Matches(s string, data []byte) bool {
	want, err := cid.Decode(s)
	if err != nil {
		return false
	}
	got, err := want.Prefix().Sum(data)
	if err != nil {
		return false
	}
	return got.Equals(want)
}
