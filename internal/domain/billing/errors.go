package billing

import "errors"

var (
	ErrTransactionNotFound = errors.New("billing transaction not found")
	ErrDuplicateTollEvent  = errors.New("toll event already recorded")
	ErrTransactionSettled  = errors.New("billing transaction already settled")
)
