package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func toolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool registry",
	}
	cmd.AddCommand(toolsListCmd())
	cmd.AddCommand(toolsCheckCmd())
	return cmd
}

func toolsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tools the agent can call",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runToolsList(jsonOutput bool) error {
	cfg := loadConfig()
	setupLogging("error")

	svcs, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer svcs.close()

	registry, err := buildRegistry(cfg, builtinTools(svcs))
	if err != nil {
		return err
	}

	defs := registry.ProviderDefs()

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(defs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION")
	for _, d := range defs {
		fmt.Fprintf(w, "%s\t%s\n", d.Function.Name, d.Function.Description)
	}
	return w.Flush()
}

func toolsCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the tool manifest without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			setupLogging("error")

			svcs, err := buildServices(cfg)
			if err != nil {
				return err
			}
			defer svcs.close()

			registry, err := buildRegistry(cfg, builtinTools(svcs))
			if err != nil {
				return err
			}
			fmt.Printf("manifest ok: %d tools\n", registry.Count())
			return nil
		},
	}
}
