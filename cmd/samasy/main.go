// Package main is the samasy command line: sample loads, transfer
// ingestion, batch completion and queries against the configured store.
//
// Import Path: samasy.io/samasy/cmd/samasy
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	s := &session{}
	defer s.close()
	return newRootCmd(s).ExecuteContext(ctx)
}
