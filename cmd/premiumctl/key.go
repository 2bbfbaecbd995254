package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheGitano/telegram-tts-bot/internal/infra/credentials"
	"github.com/TheGitano/telegram-tts-bot/internal/premium"
)

func newKeyCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage provider API keys stored in the database",
	}
	cmd.AddCommand(newKeySetCmd(e), newKeyListCmd(e))
	return cmd
}

func envKeyFor(provider string) string {
	switch provider {
	case credentials.ProviderSpeech:
		return "SPEECH_API_KEY"
	default:
		return "GEMINI_API_KEY"
	}
}

func newKeySetCmd(e *env) *cobra.Command {
	var provider, key string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store an API key for a provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider = strings.ToLower(strings.TrimSpace(provider))
			if key = strings.TrimSpace(key); key == "" {
				key = strings.TrimSpace(os.Getenv(envKeyFor(provider)))
			}
			if key == "" {
				return fmt.Errorf("%s API key is required via --key or %s", provider, envKeyFor(provider))
			}

			ctx, cancel := withTimeout(cmd)
			defer cancel()
			db, closeDB, err := e.openDB(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := credentials.NewStore(db).Set(ctx, provider, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s api key stored\n", provider)
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", credentials.ProviderGemini, "provider to configure (gemini or speech)")
	cmd.Flags().StringVar(&key, "key", "", "API key (falls back to the provider's environment variable)")
	return cmd
}

func newKeyListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List providers with a stored key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			db, closeDB, err := e.openDB(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			infos, err := credentials.NewStore(db).List(ctx)
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tupdated %s\n", info.Provider, info.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newHashCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "hash [secret]",
		Short: "Print the bcrypt hash for a secret (reads stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var secret string
			if len(args) == 1 {
				secret = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read secret: %w", err)
				}
				secret = strings.TrimRight(line, "\r\n")
			}
			hash, err := premium.HashSecret(secret, e.cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
