package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install <object> [profile]",
	Short: "compose a store object into a profile",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, e, err := rootContext(cmd)
		if err != nil {
			return err
		}

		objPath := args[0]
		profileName := e.cfg.Profiles.DefaultProfile
		if len(args) > 1 {
			profileName = args[1]
		}

		if !strings.HasPrefix(objPath, e.cfg.Store.StorePath) || strings.Contains(objPath, "..") {
			return fmt.Errorf("%q does not look like a valid store path (must start with %s and not contain '..')", objPath, e.cfg.Store.StorePath)
		}

		if err := e.profMgr.Install(ctx, objPath, profileName); err != nil {
			return fmt.Errorf("installation into profile %q failed: %w", profileName, err)
		}

		cmd.Println("\nInstallation complete. To use:")
		cmd.Printf("  export PATH=\"%s/profiles/%s/bin:$PATH\"\n", e.cfg.Store.StorePath+"/..", profileName)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <object>",
	Short: "recompute and compare an object's content hash against the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, e, err := rootContext(cmd)
		if err != nil {
			return err
		}

		ok, err := e.reg.VerifyHash(args[0], e.cfg.Deps.MaxDepth)
		if err != nil {
			return fmt.Errorf("verification failed for %s: %w", args[0], err)
		}
		if !ok {
			cmd.Printf("%s: FAILED (hash mismatch)\n", args[0])
			return fmt.Errorf("hash mismatch for %s", args[0])
		}
		cmd.Printf("%s: OK\n", args[0])
		return nil
	},
}
