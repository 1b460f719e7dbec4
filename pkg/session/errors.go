package session

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrBusy is returned when input arrives while a turn is in flight.
var ErrBusy = errors.New("session: a turn is already in progress")

// ErrNotStarted is returned when input arrives before Start.
var ErrNotStarted = errors.New("session: controller not started")

const redacted = "[REDACTED]"

// FailureMessage is the assistant text committed in place of an answer.
func FailureMessage(description string) string {
	return fmt.Sprintf("An error occurred: %s. Please check your API key and try again.", description)
}

// redact replaces every configured secret in s.
func redact(s string, secrets []string) string {
	for _, secret := range secrets {
		if strings.TrimSpace(secret) == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, redacted)
	}
	return s
}

func describe(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
