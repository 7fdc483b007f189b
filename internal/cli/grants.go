package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codewright/codewright/internal/config"
	"github.com/codewright/codewright/internal/permission"
)

var grantsCmd = &cobra.Command{
	Use:   "grants",
	Short: "Manage persisted permission grants for the current project",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var grantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the grants recorded for this project",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store := permission.NewFileGrantStore(cfg.Paths.GrantsFile)
		keys, err := store.Grants(cfg.Paths.Project)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("no grants recorded for", cfg.Paths.Project)
			return nil
		}
		color.New(color.Bold).Println(cfg.Paths.Project)
		for _, key := range keys {
			fmt.Println("  " + key)
		}
		return nil
	},
}

var grantsRevokeCmd = &cobra.Command{
	Use:   "revoke <key>...",
	Short: "Remove grants from this project",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store := permission.NewFileGrantStore(cfg.Paths.GrantsFile)
		if err := store.Remove(cfg.Paths.Project, args...); err != nil {
			return err
		}
		fmt.Printf("removed %d grant(s)\n", len(args))
		return nil
	},
}

func init() {
	grantsCmd.AddCommand(grantsListCmd)
	grantsCmd.AddCommand(grantsRevokeCmd)
}
