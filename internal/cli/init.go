package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nixstore/nixstore/registry"
	"github.com/nixstore/nixstore/storeconfig"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "initialize the store and profile directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := storeconfig.Load(configPath)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(cfg.Store.StorePath, 0o755); err != nil {
			return err
		}
		profilesRoot := filepath.Join(filepath.Dir(cfg.Store.StorePath), "profiles")
		if err := os.MkdirAll(profilesRoot, 0o755); err != nil {
			return err
		}

		if _, err := registry.Open(cfg.Store.StorePath); err != nil {
			return err
		}

		cmd.Println("Store and profile directories initialized successfully under", filepath.Dir(cfg.Store.StorePath))
		return nil
	},
}
