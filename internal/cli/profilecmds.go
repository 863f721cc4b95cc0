package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var createProfileCmd = &cobra.Command{
	Use:   "create-profile <name>",
	Short: "create a new, empty profile pre-populated with essential utilities",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, e, err := rootContext(cmd)
		if err != nil {
			return err
		}
		return e.profMgr.Create(ctx, args[0])
	},
}

var switchProfileCmd = &cobra.Command{
	Use:   "switch-profile <name>",
	Short: "make the named profile the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, e, err := rootContext(cmd)
		if err != nil {
			return err
		}
		return e.profMgr.Switch(args[0])
	},
}

var listProfilesCmd = &cobra.Command{
	Use:   "list-profiles",
	Short: "list every profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, e, err := rootContext(cmd)
		if err != nil {
			return err
		}
		names, err := e.profMgr.List()
		if err != nil {
			return err
		}
		cmd.Println("Available profiles:")
		for _, n := range names {
			cmd.Printf("  %s\n", n)
		}
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <profile>",
	Short: "roll a profile back to its previous generation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, e, err := rootContext(cmd)
		if err != nil {
			return err
		}
		return e.profMgr.Rollback(args[0])
	},
}

var listGenerationsCmd = &cobra.Command{
	Use:   "list-generations <profile>",
	Short: "list every retained generation of a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, e, err := rootContext(cmd)
		if err != nil {
			return err
		}
		gens, err := e.profMgr.ListGenerations(args[0])
		if err != nil {
			return err
		}
		for _, g := range gens {
			cmd.Printf("  %d  %s\n", g.Epoch, g.Time.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var switchGenerationCmd = &cobra.Command{
	Use:   "switch-generation <profile> <epoch>",
	Short: "switch a profile directly to a specific generation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, e, err := rootContext(cmd)
		if err != nil {
			return err
		}
		epoch, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid generation epoch %q: %w", args[1], err)
		}
		return e.profMgr.SwitchGeneration(args[0], epoch)
	},
}
