package betting

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/R3E-Network/marcasino/internal/app/domain/bet"
	"github.com/R3E-Network/marcasino/internal/app/domain/treasury"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// CommitmentHash seals a bet. The preimage is the tightly packed
// concatenation of the player id bytes, the one byte parameter, the asset
// id as four big-endian bytes, the amount as a 32 byte big-endian word and
// the 32 byte secret, hashed with keccak256.
func CommitmentHash(player string, param uint8, asset treasury.AssetID, amount int64, secret bet.Hash) bet.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(player))
	h.Write([]byte{param})

	var assetBuf [4]byte
	binary.BigEndian.PutUint32(assetBuf[:], uint32(asset))
	h.Write(assetBuf[:])

	amountBuf := uint256.NewInt(uint64(max(amount, 0))).Bytes32()
	h.Write(amountBuf[:])
	h.Write(secret[:])

	var out bet.Hash
	h.Sum(out[:0])
	return out
}

// NewSecret draws a fresh 32 byte reveal secret.
func NewSecret() (bet.Hash, error) {
	var s bet.Hash
	if _, err := rand.Read(s[:]); err != nil {
		return s, fmt.Errorf("read secret: %w", err)
	}
	return s, nil
}
