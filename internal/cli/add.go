package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add <source_path> <base_name>",
	Short: "add a single file or directory to the store with no dependencies",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, e, err := rootContext(cmd)
		if err != nil {
			return err
		}
		objPath, err := e.imp.Import(ctx, args[0], args[1], nil)
		if err != nil {
			return fmt.Errorf("failed to add %q to store: %w", args[1], err)
		}
		cmd.Println(objPath)
		return nil
	},
}

var addRecursivelyCmd = &cobra.Command{
	Use:   "add-recursively <source_dir> <base_name>",
	Short: "add a directory tree to the store with no dependencies",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, e, err := rootContext(cmd)
		if err != nil {
			return err
		}
		objPath, err := e.imp.Import(ctx, args[0], args[1], nil)
		if err != nil {
			return fmt.Errorf("failed to add %q recursively to store: %w", args[1], err)
		}
		cmd.Println(objPath)
		return nil
	},
}

var addWithDepsCmd = &cobra.Command{
	Use:   "add-with-deps <source_path> <base_name>",
	Short: "add to the store, scanning the binary's shared-library dependencies automatically",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, e, err := rootContext(cmd)
		if err != nil {
			return err
		}

		deps, err := e.scanner.Scan(ctx, args[0])
		if err != nil {
			return fmt.Errorf("error scanning dependencies for %s: %w", args[0], err)
		}
		cmd.Printf("Found %d store dependencies for %s\n", len(deps), args[0])

		objPath, err := e.imp.Import(ctx, args[0], args[1], deps)
		if err != nil {
			return fmt.Errorf("failed to add %q with dependencies to store: %w", args[1], err)
		}
		cmd.Println(objPath)
		return nil
	},
}

var addWithExplicitDepsCmd = &cobra.Command{
	Use:   "add-with-explicit-deps <source_path> <base_name> [dep_store_path...]",
	Short: "add to the store with a caller-provided, unverified dependency list",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, e, err := rootContext(cmd)
		if err != nil {
			return err
		}

		deps := args[2:]
		for _, dep := range deps {
			if !strings.HasPrefix(dep, e.cfg.Store.StorePath+string(filepath.Separator)) {
				return fmt.Errorf("explicit dependency %q is not a valid store path", dep)
			}
		}

		objPath, err := e.imp.Import(ctx, args[0], args[1], deps)
		if err != nil {
			return fmt.Errorf("failed to add %q with explicit dependencies to store: %w", args[1], err)
		}
		cmd.Println(objPath)
		return nil
	},
}

var addBootLibsCmd = &cobra.Command{
	Use:   "add-boot-libs",
	Short: "import every shared library found under the configured boot-library origins",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, e, err := rootContext(cmd)
		if err != nil {
			return err
		}
		imported, err := e.imp.ImportBootLibraries(ctx)
		if err != nil {
			return fmt.Errorf("failed to add boot libraries: %w", err)
		}
		cmd.Printf("imported %d boot libraries\n", len(imported))
		return nil
	},
}
