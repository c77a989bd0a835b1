package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lumenml/lumen/api"
)

// ListHandler prints the models available on the server.
func ListHandler(cmd *cobra.Command, _ []string) error {
	client := api.ClientFromEnvironment()

	models, err := client.List(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 3, ' ', 0)
	fmt.Fprintln(w, "NAME")
	for _, m := range models.Models {
		fmt.Fprintln(w, m.Name)
	}

	return w.Flush()
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List models",
		Args:    cobra.ExactArgs(0),
		RunE:    ListHandler,
	}
}
