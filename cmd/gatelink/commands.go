package main

import (
	"context"
	"fmt"
	"time"

	"github.com/openclaw/gatelink/cache"
	"github.com/openclaw/gatelink/config"
	"github.com/openclaw/gatelink/transport"
	"github.com/openclaw/gatelink/wire"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// newIdempotencyStore builds the completed-submission store: Redis when
// configured so several companion processes share one window, in-memory
// otherwise (nil lets the transport own its default store).
func newIdempotencyStore(cfg *config.Config) cache.Cache {
	if cfg.Idempotency.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.Idempotency.RedisURL)
	if err != nil {
		return nil
	}
	prefix := cfg.Idempotency.Prefix
	if prefix == "" {
		prefix = "gatelink:idem"
	}
	return cache.NewRedis(redis.NewClient(opts),
		cache.WithPrefix(prefix),
		cache.WithTTL(cfg.IdempotencyRetention()))
}

func healthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe gateway health",
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			client, _, cleanup, err := dial(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			healthy, err := client.RequestHealth(cmd.Context(), timeout)
			switch {
			case transport.IsTimeout(err):
				return fmt.Errorf("no answer from gateway within %s", timeout)
			case transport.IsUnavailable(err):
				return fmt.Errorf("gateway unavailable: %w", err)
			case err != nil:
				return err
			case healthy:
				fmt.Println("healthy")
			default:
				fmt.Println("unhealthy (gateway answered)")
			}
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 5*time.Second, "probe deadline")
	return cmd
}

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message to a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, _ := cmd.Flags().GetString("session")
			thinking, _ := cmd.Flags().GetString("thinking")
			key, _ := cmd.Flags().GetString("key")
			attachRefs, _ := cmd.Flags().GetStringArray("attach")

			client, _, cleanup, err := dial(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			attachments := make([]wire.Attachment, 0, len(attachRefs))
			for _, ref := range attachRefs {
				attachments = append(attachments, wire.Attachment{Ref: ref})
			}
			if key == "" {
				key = wire.DeriveIdempotencyKey(session, args[0])
			}
			resp, err := client.SendMessage(cmd.Context(), wire.SendRequest{
				SessionKey:     session,
				Message:        args[0],
				Thinking:       thinking,
				IdempotencyKey: key,
				Attachments:    attachments,
			})
			if err != nil {
				return err
			}
			fmt.Printf("run %s", resp.RunID)
			if resp.AcceptedSeq > 0 {
				fmt.Printf(" accepted at seq %d", resp.AcceptedSeq)
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().String("session", "main", "session key")
	cmd.Flags().String("thinking", "", "thinking level hint")
	cmd.Flags().String("key", "", "idempotency key (derived from content when empty)")
	cmd.Flags().StringArray("attach", nil, "attachment content reference (repeatable)")
	return cmd
}

func abortCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abort <run-id>",
		Short: "Abort an in-progress run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, _ := cmd.Flags().GetString("session")
			client, _, cleanup, err := dial(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := client.AbortRun(cmd.Context(), session, args[0]); err != nil {
				if transport.IsUnsupported(err) {
					return fmt.Errorf("this gateway does not support aborting runs")
				}
				return err
			}
			fmt.Println("abort requested")
			return nil
		},
	}
	cmd.Flags().String("session", "main", "session key")
	return cmd
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List known sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			client, _, cleanup, err := dial(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			sessions, err := client.ListSessions(cmd.Context(), limit)
			if err != nil {
				if transport.IsUnsupported(err) {
					return fmt.Errorf("this gateway does not support listing sessions")
				}
				return err
			}
			for _, s := range sessions {
				fmt.Printf("%s\tseq=%d\t%s\n", s.SessionKey, s.LastSeq, s.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 0, "maximum sessions to list (0 = gateway default)")
	return cmd
}

func tailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail the live event feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, _ := cmd.Flags().GetString("session")
			client, cfg, cleanup, err := dial(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if session != "" {
				client.SetActiveSessionKey(session)
				// Baseline first so live events validate against history.
				if _, err := client.RequestHistory(cmd.Context(), session); err != nil {
					return err
				}
			}

			sub := client.Events(cfg.Events.Buffer, cfg.EventPolicy())
			defer sub.Close()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case event, ok := <-sub.Events():
					if !ok {
						return nil
					}
					printEvent(client, event)
				}
			}
		},
	}
	cmd.Flags().String("session", "", "mark this session active and baseline it first")
	return cmd
}

func printEvent(client *transport.Client, event wire.Event) {
	switch event.Type {
	case wire.EventTick:
		fmt.Printf("%s tick\n", event.At.Format(time.TimeOnly))
	case wire.EventHealth:
		fmt.Printf("%s health ok=%v\n", event.At.Format(time.TimeOnly), event.Health.OK)
	case wire.EventChat, wire.EventAgent:
		fmt.Printf("%s %s %s #%d %s\n", event.At.Format(time.TimeOnly),
			event.Type, event.Session.SessionKey, event.Session.Seq, event.Session.Content)
	case wire.EventSeqGap:
		fmt.Printf("%s gap on %s: expected %d got %d, resyncing\n",
			event.At.Format(time.TimeOnly), event.Gap.SessionKey, event.Gap.Expected, event.Gap.Got)
		// Recover per the protocol: refetch history to re-baseline.
		if _, err := client.RequestHistory(context.Background(), event.Gap.SessionKey); err != nil {
			fmt.Printf("resync failed: %v\n", err)
		}
	}
}
