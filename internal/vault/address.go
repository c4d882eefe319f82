package vault

import (
	"fmt"

	"autotp/internal/solana"
)

// Seed prefixes for program-derived addresses.
var (
	vaultSeed        = []byte("vault")
	tokenAccountSeed = []byte("token-account")
)

// DeriveVaultAddress returns the vault address for owner under programID.
func DeriveVaultAddress(programID, owner solana.PublicKey) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(programID, vaultSeed, owner[:])
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("derive vault address: %w", err)
	}
	return addr, bump, nil
}

// DeriveCustodyAddress returns the custodial token account of a vault.
func DeriveCustodyAddress(programID, vaultAddress solana.PublicKey) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(programID, tokenAccountSeed, vaultAddress[:])
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("derive custody address: %w", err)
	}
	return addr, bump, nil
}
