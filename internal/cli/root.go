// Package cli composes the nixstore command tree, one cobra.Command per
// spec.md §6 subcommand under a single root, the way
// pruner/pruner.go composes its Cmd under a single root command.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/nixstore/nixstore/depscan"
	"github.com/nixstore/nixstore/gc"
	"github.com/nixstore/nixstore/importer"
	"github.com/nixstore/nixstore/profile"
	"github.com/nixstore/nixstore/registry"
	"github.com/nixstore/nixstore/storeconfig"
)

var configPath string

// env holds the wired components a running command needs. newEnv builds
// a fresh one each time a leaf command calls rootContext.
type env struct {
	cfg     storeconfig.Config
	reg     *registry.Registry
	imp     *importer.Importer
	scanner *depscan.Scanner
	profMgr *profile.Manager
	gcol    *gc.Collector
}

func newEnv() (*env, error) {
	cfg, err := storeconfig.Load(configPath)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Open(cfg.Store.StorePath)
	if err != nil {
		return nil, err
	}

	imp := importer.New(cfg, reg)
	scanner := depscan.New(cfg, reg, imp)
	profMgr := profile.New(cfg, reg)
	gcol := gc.New(reg, cfg.Store.StorePath)

	return &env{cfg: cfg, reg: reg, imp: imp, scanner: scanner, profMgr: profMgr, gcol: gcol}, nil
}

// RootCmd is the top-level nixstore command, composing every subcommand
// named in spec.md §6.
var RootCmd = &cobra.Command{
	Use:   "nixstore",
	Short: "a content-addressed package store",
	Long:  "nixstore manages a content-addressed package store: importing build outputs, scanning their dependencies, and composing them into profiles.",
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "/data/nix/nixstore.conf", "path to the nixstore configuration file")

	RootCmd.AddCommand(
		initCmd,
		addCmd,
		addRecursivelyCmd,
		addWithDepsCmd,
		addWithExplicitDepsCmd,
		addBootLibsCmd,
		installCmd,
		verifyCmd,
		gcCmd,
		queryReferencesCmd,
		addRootCmd,
		removeRootCmd,
		createProfileCmd,
		switchProfileCmd,
		listProfilesCmd,
		rollbackCmd,
		listGenerationsCmd,
		switchGenerationCmd,
	)
}

// rootContext builds a fresh background context and wires up every
// store component a command needs. A plain context.Background is used
// rather than cmd.Context() since the pinned cobra release predates
// command-scoped contexts.
func rootContext(cmd *cobra.Command) (context.Context, *env, error) {
	e, err := newEnv()
	return context.Background(), e, err
}
