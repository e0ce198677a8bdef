package trader

import (
	"errors"

	"order-settlement-engine/internal/gateway"
)

type failureKind int

const (
	failureTransient failureKind = iota
	failureBusiness
)

// classify decides whether a settlement error is final and extracts the
// message to store as the failure reason.
func classify(err error) (failureKind, string) {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		if gateway.IsBusinessError(err) {
			return failureBusiness, msg
		}
		return failureTransient, msg
	}
	if err == nil {
		return failureTransient, "executor_error"
	}
	return failureTransient, err.Error()
}
