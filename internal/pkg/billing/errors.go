package billing

import "errors"

var (
	ErrValidation            = errors.New("validation failed")
	ErrSubscriptionsDisabled = errors.New("subscriptions are disabled")
	ErrSubscriptionNotFound  = errors.New("subscription not found")
	ErrSubscriptionExists    = errors.New("account already has an open subscription")
	ErrSubscribeInProgress   = errors.New("another subscribe for this account is in progress")
	ErrSubscriptionTerminal  = errors.New("subscription is already cancelled")
	ErrProviderNotFound      = errors.New("provider not found")
	ErrProviderDisabled      = errors.New("provider is disabled")
	ErrDisconnectIncomplete  = errors.New("provider disconnect incomplete")
	// ErrConcurrentUpdate is returned when a row kept changing under an optimistic update.
	ErrConcurrentUpdate = errors.New("subscription was modified concurrently")
)
