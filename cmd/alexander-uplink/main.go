// Package main is the entry point for the alexander-uplink CLI.
// It uploads files to S3, provisions buckets and manages the AWS SSO session
// that supplies upload credentials.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prn-tf/alexander-uplink/internal/domain"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Exit codes.
const (
	exitOK            = 0
	exitFailure       = 1
	exitConfig        = 2
	exitLoginRequired = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, a := newRootCmd()
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(os.Stderr, "Error:", err)

	switch {
	case domain.IsLoginRequired(err):
		fmt.Fprintln(os.Stderr, "Run 'alexander-uplink login' to sign in again.")
		return exitLoginRequired
	case domain.KindOf(err) == domain.KindConfig, errors.Is(err, errUsage):
		return exitConfig
	default:
		return exitFailure
	}
}
