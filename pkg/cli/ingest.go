package cli

import (
	"context"
	"fmt"

	"github.com/stoatlab/stoat/pkg/schema"
	"github.com/urfave/cli/v3"
)

func ingestCommand() *cli.Command {
	var (
		cfg   config
		force bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "force",
			Aliases:     []string{"f"},
			Usage:       "Re-embed tables that are already ingested",
			Destination: &force,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "ingest",
		Usage: "Embed the schema definitions into the vector index",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			setupLogger(&cfg)

			defs, err := schema.Load(cfg.schemaPath)
			if err != nil {
				return err
			}

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			gemini, err := cfg.newGemini(ctx)
			if err != nil {
				return err
			}

			report, err := schema.NewIngester(repo, gemini).Ingest(ctx, defs, force)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Ingested %d tables, skipped %d.\n", report.Ingested, report.Skipped)
			return nil
		},
	}
}
