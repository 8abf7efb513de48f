package notify

import "errors"

// Sentinel errors for alert delivery.
var (
	ErrNotifierConfig = errors.New("notifier configuration")
	ErrSend           = errors.New("send alert")
)
