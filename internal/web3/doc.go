// Package web3 houses blockchain connectivity shared by the ledger gateway:
// the JSON-RPC backend contract, network metadata loaded from configs/chains.yaml
// (currency, decimals, program addresses, raw status encodings) and address
// helpers used for case-insensitive party matching.
package web3
