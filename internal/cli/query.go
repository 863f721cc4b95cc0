package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var queryReferencesCmd = &cobra.Command{
	Use:   "query-references <object>",
	Short: "list the registered references for a store object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, e, err := rootContext(cmd)
		if err != nil {
			return err
		}

		refs, err := e.reg.GetRefs(args[0])
		if err != nil {
			return fmt.Errorf("path %s not found in database or error retrieving references: %w", args[0], err)
		}

		cmd.Printf("References for %s:\n", args[0])
		if len(refs) == 0 {
			cmd.Println("  (No references registered)")
			return nil
		}
		for _, r := range refs {
			cmd.Println(" ", r)
		}
		return nil
	},
}

var addRootCmd = &cobra.Command{
	Use:   "add-root <object>",
	Short: "register a store object as a garbage-collection root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, e, err := rootContext(cmd)
		if err != nil {
			return err
		}
		if err := e.reg.AddRoot(args[0]); err != nil {
			return fmt.Errorf("failed to add GC root: %w", err)
		}
		return nil
	},
}

var removeRootCmd = &cobra.Command{
	Use:   "remove-root <object>",
	Short: "unregister a store object as a garbage-collection root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, e, err := rootContext(cmd)
		if err != nil {
			return err
		}
		if err := e.reg.RemoveRoot(args[0]); err != nil {
			return fmt.Errorf("failed to remove GC root: %w", err)
		}
		return nil
	},
}
