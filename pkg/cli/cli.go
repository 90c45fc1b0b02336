// Package cli wires configuration, adapters, and the pipeline into the
// stoat command.
package cli

import (
	"context"
	"os"

	"github.com/stoatlab/stoat/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "stoat",
		Usage: "Natural language to SQL for the garment ERP warehouse",
		Commands: []*cli.Command{
			serveCommand(),
			ingestCommand(),
			queryCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

// setupLogger installs the process-wide logger at the configured level
// and format.
func setupLogger(cfg *config) {
	if cfg.logFormat == "json" {
		logging.SetDefault(logging.NewJSON(cfg.logLevel, os.Stderr))
		return
	}
	logging.SetDefault(logging.New(cfg.logLevel, os.Stderr))
}
