package cmd

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/lumenml/lumen/api"
	"github.com/lumenml/lumen/envconfig"
	"github.com/lumenml/lumen/server"
	"github.com/lumenml/lumen/version"
)

// RunServer starts the lumen server on the configured host.
func RunServer(_ *cobra.Command, _ []string) error {
	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	err = server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func versionHandler(cmd *cobra.Command, _ []string) {
	client := api.ClientFromEnvironment()

	serverVersion, err := client.Version(cmd.Context())
	if err != nil {
		fmt.Println("Warning: could not connect to a running Lumen instance")
	}

	if serverVersion != "" {
		fmt.Printf("lumen version is %s\n", serverVersion)
	}

	if serverVersion != version.Version {
		fmt.Printf("Warning: client version is %s\n", version.Version)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start Lumen",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}
}
