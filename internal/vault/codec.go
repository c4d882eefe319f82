package vault

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"autotp/internal/domain"
	"autotp/internal/solana"
)

// Record layout, little-endian:
// owner(32) | token_mint(32) | target_price(8) | referrer(32) | current_price(8) | ready(1)
const (
	offsetOwner        = 0
	offsetMint         = offsetOwner + solana.PublicKeyLength
	offsetTargetPrice  = offsetMint + solana.PublicKeyLength
	offsetReferrer     = offsetTargetPrice + 8
	offsetCurrentPrice = offsetReferrer + solana.PublicKeyLength
	offsetReady        = offsetCurrentPrice + 8

	// RecordSize is the fixed size of an encoded vault record.
	RecordSize = offsetReady + 1

	// DiscriminatorSize prefixes every on-chain vault account.
	DiscriminatorSize = 8

	// AccountSize is the size of an on-chain vault account.
	AccountSize = DiscriminatorSize + RecordSize

	// ReferrerAccountOffset is the referrer's offset inside an on-chain account,
	// used for memcmp queries.
	ReferrerAccountOffset = DiscriminatorSize + offsetReferrer
)

// AccountDiscriminator identifies vault accounts on chain.
var AccountDiscriminator = func() [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:Vault"))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}()

// EncodeRecord serializes the record body of v.
func EncodeRecord(v *domain.Vault) []byte {
	b := make([]byte, RecordSize)
	copy(b[offsetOwner:], v.Owner[:])
	copy(b[offsetMint:], v.TokenMint[:])
	binary.LittleEndian.PutUint64(b[offsetTargetPrice:], v.TargetPrice)
	copy(b[offsetReferrer:], v.Referrer[:])
	binary.LittleEndian.PutUint64(b[offsetCurrentPrice:], v.CurrentPrice)
	if v.ReadyForExecution {
		b[offsetReady] = 1
	}
	return b
}

// DecodeRecord parses a record body. Address and Bump are left zero.
func DecodeRecord(b []byte) (*domain.Vault, error) {
	if len(b) < RecordSize {
		return nil, malformedf("record is %d bytes, want %d", len(b), RecordSize)
	}

	v := &domain.Vault{
		TargetPrice:  binary.LittleEndian.Uint64(b[offsetTargetPrice:]),
		CurrentPrice: binary.LittleEndian.Uint64(b[offsetCurrentPrice:]),
	}
	copy(v.Owner[:], b[offsetOwner:offsetMint])
	copy(v.TokenMint[:], b[offsetMint:offsetTargetPrice])
	copy(v.Referrer[:], b[offsetReferrer:offsetCurrentPrice])

	switch b[offsetReady] {
	case 0:
	case 1:
		v.ReadyForExecution = true
	default:
		return nil, malformedf("ready_for_execution byte is %d", b[offsetReady])
	}

	return v, nil
}

// EncodeAccount serializes v with the account discriminator.
func EncodeAccount(v *domain.Vault) []byte {
	b := make([]byte, 0, AccountSize)
	b = append(b, AccountDiscriminator[:]...)
	return append(b, EncodeRecord(v)...)
}

// DecodeAccount parses an on-chain vault account.
// Accounts may be longer than AccountSize; trailing bytes are ignored.
func DecodeAccount(b []byte) (*domain.Vault, error) {
	if len(b) < AccountSize {
		return nil, malformedf("account is %d bytes, want %d", len(b), AccountSize)
	}
	if !bytes.Equal(b[:DiscriminatorSize], AccountDiscriminator[:]) {
		return nil, malformedf("unexpected discriminator %x", b[:DiscriminatorSize])
	}
	return DecodeRecord(b[DiscriminatorSize:])
}
