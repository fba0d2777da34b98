package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/termnetdev/termnet/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage configuration",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configSetKeyCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (defaults + file + env)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			// The resolved key never leaves the keyring via this command.
			if cfg.Provider.APIKey != "" {
				cfg.Provider.APIKey = "(set)"
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}

func configSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key <account>",
		Short: "Store a provider API key in the system keyring",
		Long: `Reads an API key from stdin and stores it in the OS keyring under the
given account name. Reference it from the config file as
provider.keyring_key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account := args[0]

			fmt.Fprint(os.Stderr, "API key: ")
			reader := bufio.NewReader(os.Stdin)
			key, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return fmt.Errorf("empty key")
			}

			if err := config.StoreAPIKey(account, key); err != nil {
				return fmt.Errorf("keyring store: %w", err)
			}
			fmt.Printf("stored key for account %q\n", account)
			return nil
		},
	}
}
