package domain

import "errors"

// Sentinel errors for ledger and balance violations. Policy rejections
// (bet too small, over the exposure cap) are recorded on the Decision row
// instead; these errors mark operations that must not happen at all.
var (
	ErrInvalidQuantity   = errors.New("invalid shares or price")
	ErrOverSell          = errors.New("sell exceeds position shares")
	ErrInsufficientFunds = errors.New("insufficient funds")
)
