package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lumenml/lumen/convert"
	"github.com/lumenml/lumen/envconfig"
	"github.com/lumenml/lumen/progress"
)

// CreateHandler imports a pipeline export into the models directory.
func CreateHandler(cmd *cobra.Command, args []string) error {
	name := args[0]
	if strings.Contains(name, "..") || strings.ContainsRune(name, filepath.Separator) {
		return fmt.Errorf("invalid model name %q", name)
	}

	from, err := cmd.Flags().GetString("from")
	if err != nil {
		return err
	}

	dst := filepath.Join(envconfig.Models(), name)
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("model %q already exists", name)
	}

	p := progress.NewProgress(os.Stderr)
	defer p.Stop()

	spinner := progress.NewSpinner(fmt.Sprintf("importing %s", from))
	p.Add(spinner)

	if err := convert.Convert(from, dst); err != nil {
		os.RemoveAll(dst)
		return err
	}

	spinner.Stop()
	p.Stop()
	fmt.Printf("created model %q\n", name)

	return nil
}

func newCreateCmd() *cobra.Command {
	createCmd := &cobra.Command{
		Use:   "create NAME --from DIRECTORY",
		Short: "Import a model from a pipeline export",
		Args:  cobra.ExactArgs(1),
		RunE:  CreateHandler,
	}

	createCmd.Flags().String("from", "", "Directory containing the pipeline export")
	createCmd.MarkFlagRequired("from")

	return createCmd
}
