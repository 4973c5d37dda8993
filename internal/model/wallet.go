package model

// Wallet is a value-bearing account balance snapshot. Both user wallets and
// team vaults are plain accounts on the host ledger.
type Wallet struct {
	Address  string `json:"address"`
	Lamports int64  `json:"lamports"`
}
