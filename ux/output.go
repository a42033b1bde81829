package ux

import (
	"fmt"

	"go.uber.org/zap"
)

// Print writes a user-facing progress line to stdout and mirrors it
// to the structured log.
func Print(log *zap.Logger, msg string, args ...interface{}) {
	s := fmt.Sprintf(msg, args...)
	fmt.Println(s)
	log.Debug(s)
}
