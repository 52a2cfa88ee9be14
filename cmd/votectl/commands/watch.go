package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"confidential-voting-backend/cache"
	"confidential-voting-backend/models"
	"confidential-voting-backend/mq"

	"github.com/spf13/cobra"
)

// watchOptions watch命令参数，直接连接服务端使用的Redis事件队列
type watchOptions struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Queue         string
	Count         int
}

func newWatchCmd() *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Consume poll events from the Redis event queue (MQ_BACKEND=redis)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			client, err := cache.NewClient(ctx, cache.Options{
				Addr:     opts.RedisAddr,
				Password: opts.RedisPassword,
				DB:       opts.RedisDB,
			})
			if err != nil {
				return err
			}
			defer cache.Close(client)

			queue := mq.NewRedisQueue(client, opts.Queue)
			pending, err := queue.Len(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "pending events: %d\n", pending)

			seen := 0
			return queue.Consume(ctx, func(event models.PollEvent) error {
				data, err := event.ToJSON()
				if err != nil {
					return err
				}
				if err := FormatOutput(cmd.OutOrStdout(), data); err != nil {
					return err
				}
				seen++
				if opts.Count > 0 && seen >= opts.Count {
					cancel()
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.RedisAddr, "redis", "localhost:6379", "redis address")
	cmd.Flags().StringVar(&opts.RedisPassword, "redis-password", "", "redis password")
	cmd.Flags().IntVar(&opts.RedisDB, "redis-db", 0, "redis database")
	cmd.Flags().StringVar(&opts.Queue, "queue", mq.DefaultQueueKey, "event queue key")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after this many events, 0 to run until interrupted")
	return cmd
}
