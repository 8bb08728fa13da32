package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aman-zulfiqar/defi-nlq/internal/config"
	"github.com/aman-zulfiqar/defi-nlq/internal/models"
	"github.com/aman-zulfiqar/defi-nlq/internal/querylog"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var tailOpts struct {
	intent     string
	allIntents bool
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow answered questions as the API publishes them",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := config.Load()
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}

		pub := querylog.NewPublisher(client, newLogger())
		out := cmd.OutOrStdout()
		show := func(rec *models.QueryLog) {
			fmt.Fprintf(out, "%s  %-18s %-17s rows=%-4d retries=%d  %s\n",
				rec.CreatedAt.Local().Format("15:04:05"), rec.Intent, rec.Source,
				rec.RowCount, rec.RetryCount, rec.Question)
		}

		var err error
		switch {
		case tailOpts.allIntents:
			err = pub.PSubscribe(ctx, querylog.IntentPattern, show)
		case tailOpts.intent != "":
			err = pub.Subscribe(ctx, querylog.IntentChannel(tailOpts.intent), show)
		default:
			err = pub.Subscribe(ctx, querylog.AnswersChannel, show)
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	tailCmd.Flags().StringVar(&tailOpts.intent, "intent", "", "Only show questions with this intent")
	tailCmd.Flags().BoolVar(&tailOpts.allIntents, "all-intents", false, "Subscribe to every per-intent channel")
}
