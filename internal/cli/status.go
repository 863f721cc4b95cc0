package cli

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/nixstore/nixstore/internal/statusd"
)

var statusAddr string

// statusCmd starts the read-only diagnostic HTTP surface described in
// SPEC_FULL.md's DOMAIN STACK section: a /status and /metrics.json
// endpoint a host daemon can poll. It is additional to spec.md §6's
// command list, not a replacement for any entry in it.
var statusCmd = &cobra.Command{
	Use:   "serve-status",
	Short: "serve a read-only /status and /metrics.json diagnostic HTTP endpoint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, e, err := rootContext(cmd)
		if err != nil {
			return err
		}
		srv := &statusd.Server{Registry: e.reg}
		cmd.Printf("serving diagnostics on %s\n", statusAddr)
		return http.ListenAndServe(statusAddr, srv.NewHandler())
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "127.0.0.1:7421", "address to serve the diagnostic endpoint on")
	RootCmd.AddCommand(statusCmd)
}
