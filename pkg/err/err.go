package errprocess

import (
	"errors"
	"fmt"

	"escrow_trade_service/pkg/logger"
)

// Set set err info
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}

// Wrap log msg with the cause and return the wrapped error, errors.Is still matches err
func Wrap(msg string, err error) error {
	wrapped := fmt.Errorf("%s: %w", msg, err)
	logger.Log.Error(wrapped.Error())
	return wrapped
}
