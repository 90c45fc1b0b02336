package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/stoatlab/stoat/pkg/server"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var (
		cfg  config
		addr string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address",
			Value:       server.DefaultAddr,
			Sources:     cli.EnvVars("STOAT_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := cfg.newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.ensureIngested(ctx); err != nil {
				return err
			}

			srv := server.New(server.NewInput{
				Pipeline:   rt.pipeline,
				Ingester:   rt.ingester,
				SchemaPath: cfg.schemaPath,
				Archive:    rt.storage,
			})
			return srv.Run(ctx, addr)
		},
	}
}
