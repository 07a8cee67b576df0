package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// withStore runs fn against a service built without the language model.
func withStore(ctx context.Context, c *cli, fn func(a *app) error) error {
	a, err := buildApp(ctx, c.cfg, c.logger, false)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			c.logger.Warn("close resources", zap.Error(err))
		}
	}()
	return fn(a)
}

func newConversationsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage stored conversations",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "new",
			Short: "Create an empty conversation and print its id",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd.Context(), c, func(a *app) error {
					id, err := a.svc.CreateConversation(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), id)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "Print the ids of all conversations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd.Context(), c, func(a *app) error {
					ids, err := a.svc.ListConversations(cmd.Context())
					if err != nil {
						return err
					}
					for _, id := range ids {
						fmt.Fprintln(cmd.OutOrStdout(), id)
					}
					return nil
				})
			},
		},
		newShowCmd(c),
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a conversation and its messages",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd.Context(), c, func(a *app) error {
					if err := a.svc.DeleteConversation(cmd.Context(), args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "conversation %s deleted\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Print the number of conversations and questions asked",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd.Context(), c, func(a *app) error {
					stats, err := a.svc.Stats(cmd.Context())
					if err != nil {
						return err
					}
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "conversations: %d\n", stats.Conversations)
					fmt.Fprintf(out, "questions asked: %d\n", stats.Questions)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "insights <id>",
			Short: "Print topics and related conversations from the knowledge graph",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd.Context(), c, func(a *app) error {
					insight, err := a.svc.Insights(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), insight)
				})
			},
		},
	)
	return cmd
}

func newShowCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print the messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), c, func(a *app) error {
				records, err := a.svc.Messages(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, records)
				}
				for i, rec := range records {
					if i > 0 {
						fmt.Fprintln(out)
					}
					fmt.Fprintf(out, "## Message %d\n\n%s\n\n%s\n", i+1, strings.TrimRight(rec.Code, "\n"), rec.Explanation)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the messages as JSON")
	return cmd
}

func newSearchCmd(c *cli) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find stored explanations similar to the query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withStore(cmd.Context(), c, func(a *app) error {
				matches, err := a.svc.Search(cmd.Context(), query, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, m := range matches {
					fmt.Fprintf(out, "%.3f  conversation %s, message %d\n", m.Score, m.ConversationID, m.Position+1)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum number of matches")
	return cmd
}

func newClearCmd(c *cli) *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !confirmed {
				fmt.Fprint(out, "This will permanently delete all conversations. Continue? [y/N]: ")
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if !scanner.Scan() {
					if err := scanner.Err(); err != nil {
						return fmt.Errorf("read confirmation: %w", err)
					}
					fmt.Fprintln(out, "clear aborted")
					return nil
				}
				answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
				if answer != "y" && answer != "yes" {
					fmt.Fprintln(out, "clear aborted")
					return nil
				}
			}

			return withStore(cmd.Context(), c, func(a *app) error {
				ids, err := a.svc.ListConversations(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					if err := a.svc.DeleteConversation(cmd.Context(), id); err != nil {
						return fmt.Errorf("delete conversation %s: %w", id, err)
					}
				}
				c.logger.Info("conversations cleared", zap.Int("count", len(ids)))
				fmt.Fprintf(out, "%d conversations deleted\n", len(ids))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirmed, "confirm", false, "skip confirmation prompt")
	return cmd
}
