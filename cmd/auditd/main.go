// Command auditd verifies an audit sink file written by the ledger.
//
//	auditd [FILE]
//
// FILE defaults to AUDIT_SINK. The exit status is 1 when the chain is broken.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/logging"
	"github.com/example/bank-ledger/pkg/audit"
)

func main() {
	logger, _, err := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "auditd: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	path := os.Getenv("AUDIT_SINK")
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if path == "" {
		logger.Error("no audit file given; pass FILE or set AUDIT_SINK")
		os.Exit(2)
	}

	ok, err := verifyFile(path, os.Stdout, logger)
	if err != nil {
		logger.Error("failed to verify audit file", zap.String("path", path), zap.Error(err))
		os.Exit(1)
	}
	if !ok {
		os.Exit(1)
	}
}

func verifyFile(path string, out io.Writer, logger *zap.Logger) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	tip, err := audit.VerifyStream(f)
	var broken *audit.BreakError
	if errors.As(err, &broken) {
		logger.Warn("audit chain broken",
			zap.String("path", path),
			zap.Int("index", broken.Index),
			zap.Uint64("sequence", broken.Entry.Sequence),
			zap.String("action", broken.Entry.Action))
		fmt.Fprintf(out, "BROKEN at entry %d (%s)\n", broken.Entry.Sequence, broken.Entry.Action)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	logger.Info("audit chain verified", zap.String("path", path), zap.Uint64("entries", tip.Sequence))
	fmt.Fprintf(out, "OK %d entries, head %s\n", tip.Sequence, tip.Hash)
	return true, nil
}
