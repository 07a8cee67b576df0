package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newExplainCmd(c *cli) *cobra.Command {
	var (
		conversationID  string
		newConversation bool
		asJSON          bool
	)

	cmd := &cobra.Command{
		Use:   "explain [file]",
		Short: "Explain a snippet read from a file or stdin",
		Long: "Explain splits the snippet into blocks and prints one explanation per block.\n" +
			"With --conversation or --new the result is also appended to a conversation.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if conversationID != "" && newConversation {
				return fmt.Errorf("--conversation and --new are mutually exclusive")
			}

			code, err := readSnippet(cmd, args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := buildApp(ctx, c.cfg, c.logger, true)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					c.logger.Warn("close resources", zap.Error(err))
				}
			}()

			if newConversation {
				if conversationID, err = a.svc.CreateConversation(ctx); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if conversationID == "" {
				analysis, err := a.svc.Analyze(ctx, code)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, analysis)
				}
				fmt.Fprintln(out, analysis.Document)
				return nil
			}

			result, err := a.svc.Explain(ctx, code, conversationID)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, result)
			}
			fmt.Fprintf(out, "conversation %s, message %d\n\n", result.ConversationID, result.Position+1)
			fmt.Fprintln(out, result.Analysis.Document)
			return nil
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "append the result to this conversation")
	cmd.Flags().BoolVar(&newConversation, "new", false, "create a conversation and append the result to it")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

// readSnippet reads the named file, or stdin when no file (or "-") is given.
func readSnippet(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read %s: %w", args[0], err)
	}
	return string(data), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
