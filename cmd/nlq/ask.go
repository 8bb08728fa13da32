package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aman-zulfiqar/defi-nlq/internal/ai"
	"github.com/aman-zulfiqar/defi-nlq/internal/config"
	"github.com/aman-zulfiqar/defi-nlq/internal/schema"
	"github.com/aman-zulfiqar/defi-nlq/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var askOpts struct {
	model            string
	minimal          bool
	stream           bool
	presentation     string
	generalKnowledge bool
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		agent, closeFn, err := buildAgent(newLogger())
		if err != nil {
			return err
		}
		defer closeFn()

		return answer(ctx, cmd.OutOrStdout(), agent, strings.Join(args, " "))
	},
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Ask questions interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		agent, closeFn, err := buildAgent(newLogger())
		if err != nil {
			return err
		}
		defer closeFn()

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "DeFi analytics (natural language → PostgreSQL)")
		fmt.Fprintln(out, "Type your question and press Enter. Empty line to exit.")
		fmt.Fprintln(out)

		reader := bufio.NewReader(cmd.InOrStdin())
		for {
			fmt.Fprint(out, "> ")
			q, err := reader.ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read input: %w", err)
			}
			q = strings.TrimSpace(q)
			if q == "" {
				fmt.Fprintln(out, "bye")
				return nil
			}
			if err := answer(ctx, out, agent, q); err != nil {
				fmt.Fprintln(out, "error:", err)
			}
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(out)
		}
	},
}

func init() {
	for _, c := range []*cobra.Command{askCmd, replCmd} {
		c.Flags().StringVar(&askOpts.model, "model", "", "OpenRouter model name (default from LLM_MODEL)")
		c.Flags().BoolVar(&askOpts.minimal, "minimal", false, "Print SQL and rows without an answer")
		c.Flags().BoolVar(&askOpts.stream, "stream", false, "Stream the answer as it is written")
		c.Flags().StringVar(&askOpts.presentation, "presentation", "", "Presentation hint for the answer")
		c.Flags().BoolVar(&askOpts.generalKnowledge, "general-knowledge", true, "Answer out-of-data questions from general knowledge")
	}
}

func buildAgent(logger *logrus.Logger) (*ai.Agent, func(), error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	model := cfg.LLMModel
	if askOpts.model != "" {
		model = askOpts.model
	}

	reg, err := schema.NewLoader(cfg.SchemaRegistryPath, logger).Load()
	if err != nil {
		return nil, nil, err
	}

	pg := storage.NewPostgres(storage.PostgresConfig{
		DSN:              cfg.DatabaseURL,
		MaxConns:         2,
		MinConns:         0,
		StatementTimeout: cfg.StatementTimeout,
		Logger:           logger,
	})

	agent, err := ai.NewAgent(ai.AgentConfig{
		OpenRouterAPIKey: cfg.OpenRouterAPIKey,
		Model:            model,
		BaseURL:          cfg.LLMBaseURL,
		Executor:         pg,
		Filter:           schema.NewFilter(reg, nil),
		MaxRetries:       cfg.MaxSQLRetries,
		MaxLimit:         cfg.SQLMaxLimit,
		Logger:           logger,
	})
	if err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	return agent, func() { _ = pg.Close() }, nil
}

func answer(ctx context.Context, out io.Writer, agent *ai.Agent, q string) error {
	opts := ai.AskOptions{
		Minimal:               askOpts.minimal,
		Presentation:          askOpts.presentation,
		AllowGeneralKnowledge: askOpts.generalKnowledge,
	}
	if askOpts.stream && !askOpts.minimal {
		return streamAnswer(ctx, out, agent, q, opts)
	}

	res, err := agent.Ask(ctx, q, opts)
	if err != nil {
		return describe(err)
	}

	if res.SQL != "" {
		fmt.Fprintf(out, "SQL:\n%s\n\n", res.SQL)
	}
	if askOpts.minimal {
		printRows(out, res.Rows)
		return nil
	}
	fmt.Fprintf(out, "Answer:\n%s\n", res.Answer)
	if res.RetryCount > 0 {
		fmt.Fprintf(out, "\n(%d corrected attempt(s))\n", res.RetryCount)
	}
	return nil
}

func streamAnswer(ctx context.Context, out io.Writer, agent *ai.Agent, q string, opts ai.AskOptions) error {
	for ev := range agent.AskStream(ctx, q, opts) {
		switch ev.Type {
		case ai.EventSQL:
			fmt.Fprintf(out, "SQL:\n%s\n\n", ev.SQL)
		case ai.EventRows:
			fmt.Fprintf(out, "%d row(s)\n\n", ev.Total)
		case ai.EventAnswerStart:
			fmt.Fprintln(out, "Answer:")
		case ai.EventAnswerChunk:
			fmt.Fprint(out, ev.Text)
		case ai.EventDone:
			fmt.Fprintln(out)
		case ai.EventError:
			return describe(ev.Err)
		}
	}
	return ctx.Err()
}

// describe puts the user-facing message in front of the technical error.
func describe(err error) error {
	if msg := ai.FriendlyMessage(err); msg != "" {
		return fmt.Errorf("%s\n  detail: %w", msg, err)
	}
	return err
}
