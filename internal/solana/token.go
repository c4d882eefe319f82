package solana

import "fmt"

// Well-known program ids.
var (
	SystemProgramID          = ZeroKey
	TokenProgramID           = MustParsePublicKey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	AssociatedTokenProgramID = MustParsePublicKey("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

// FindAssociatedTokenAddress returns the canonical token account of wallet for mint.
func FindAssociatedTokenAddress(wallet, mint PublicKey) (PublicKey, error) {
	addr, _, err := FindProgramAddress(AssociatedTokenProgramID, wallet[:], TokenProgramID[:], mint[:])
	if err != nil {
		return PublicKey{}, fmt.Errorf("associated token address: %w", err)
	}
	return addr, nil
}
