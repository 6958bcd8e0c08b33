package service

import "errors"

var (
	ErrValidation            = errors.New("validation failed")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrUpstream              = errors.New("upstream provider failed")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrMalformedNotification = errors.New("malformed notification")
)
