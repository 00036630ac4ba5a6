package xlog

import "fmt"

// Wrap wraps err with additional context, preserving it for errors.Is/As.
func Wrap(err error, msg string) error {
	if err == nil {
		return fmt.Errorf("%s", msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
