package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/stoatlab/stoat/pkg/model"
	"github.com/stoatlab/stoat/pkg/usecase/query"
	"github.com/urfave/cli/v3"
)

func queryCommand() *cli.Command {
	var (
		cfg       config
		userID    string
		sessionID string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "user",
			Aliases:     []string{"u"},
			Usage:       "User ID for personalization",
			Value:       "local",
			Sources:     cli.EnvVars("STOAT_USER_ID"),
			Destination: &userID,
		},
		&cli.StringFlag{
			Name:        "session",
			Aliases:     []string{"s"},
			Usage:       "Session ID for follow-up questions",
			Destination: &sessionID,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "query",
		Usage:     "Run one question through the pipeline, or start an interactive session",
		ArgsUsage: "[question]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			rt, err := cfg.newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.ensureIngested(ctx); err != nil {
				return err
			}

			if sessionID == "" {
				sessionID = string(model.NewRequestID())
			}

			if question := strings.TrimSpace(strings.Join(c.Args().Slice(), " ")); question != "" {
				return runOne(ctx, rt.pipeline, c.Root().Writer, userID, sessionID, question)
			}
			return runInteractive(ctx, rt.pipeline, c.Root().Writer, userID, sessionID)
		},
	}
}

func runOne(ctx context.Context, pipeline *query.UseCase, w io.Writer, userID, sessionID, question string) error {
	req := model.NewQueryRequest(userID, sessionID, question)
	result, err := pipeline.Handle(ctx, req)
	if err != nil {
		fmt.Fprintln(w, model.UserMessage(err))
		return err
	}
	return printResult(w, result)
}

// runInteractive reads questions from stdin until EOF or "exit". Each
// question shares the same session, so follow-ups resolve.
func runInteractive(ctx context.Context, pipeline *query.UseCase, w io.Writer, userID, sessionID string) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprintln(w, "Query session started. Type 'exit' to quit.")

	for {
		fmt.Fprint(w, "> ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if question == "exit" || question == "quit" {
			break
		}

		req := model.NewQueryRequest(userID, sessionID, question)
		result, err := pipeline.Handle(ctx, req)
		if err != nil {
			fmt.Fprintln(w, model.UserMessage(err))
			continue
		}
		if err := printResult(w, result); err != nil {
			return err
		}
	}

	return scanner.Err()
}

func printResult(w io.Writer, result *model.QueryResult) error {
	fmt.Fprintf(w, "SQL: %s\n", result.SQL)
	fmt.Fprintf(w, "%s\n", result.Explanation)

	if result.RowCount > 0 {
		rows, err := json.MarshalIndent(result.Rows, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\n", rows)
	}
	fmt.Fprintf(w, "(%d rows, %.3fs)\n", result.RowCount, result.ExecutionTime)
	return nil
}
