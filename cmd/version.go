package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// versionCheckTimeout bounds the optional reachability probe against a
// locally running gateway.
const versionCheckTimeout = 2 * time.Second

// newVersionCmd creates the Cobra command for displaying the application
// version. It also probes the default admin health endpoint so the output
// can note whether a gateway is currently running on this host.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gatewayd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gatewayd version %s\n", rootCmd.Version)

			if probeLocalGateway() {
				fmt.Fprintln(cmd.OutOrStdout(), "gateway: running (http://localhost:8090)")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "gateway: not running")
			}
		},
	}
}

func probeLocalGateway() bool {
	client := http.Client{Timeout: versionCheckTimeout}
	resp, err := client.Get("http://localhost:8090/admin/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusOK
}
