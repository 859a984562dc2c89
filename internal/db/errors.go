package db

import (
	"errors"
	"fmt"
)

var (
	ErrReminderNotFound     = errors.New("reminder not found")
	ErrScheduleNotFound     = errors.New("schedule not found")
	ErrScheduleAlreadySent  = errors.New("schedule already sent")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrSubscriptionNotFound = errors.New("push subscription not found")
)

// StoreError wraps a failure from the database driver.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err came from the database driver.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
