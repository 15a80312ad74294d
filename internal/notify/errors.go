package notify

import (
	"errors"
	"fmt"
)

// DeliveryError is returned when a notification could not be handed to the
// mail transport.
type DeliveryError struct {
	Recipients []string
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver notification to %v: %v", e.Recipients, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsDeliveryError reports whether err is a DeliveryError
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}
