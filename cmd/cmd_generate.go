package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lumenml/lumen/api"
	"github.com/lumenml/lumen/progress"
)

type generateOptions struct {
	Model          string
	Prompt         string
	NegativePrompt string
	Resolution     int
	GuidanceScale  float64
	Steps          int
	Seed           int64
	Output         string
}

// RunGenerate streams one generation request and writes the finished
// images next to the output base path.
func RunGenerate(cmd *cobra.Command, opts generateOptions) error {
	client := api.ClientFromEnvironment()

	p := progress.NewProgress(os.Stderr)
	defer p.Stop()

	spinner := progress.NewSpinner("loading model")
	p.Add(spinner)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT)
	go func() {
		<-sigChan
		cancel()
	}()

	var bar *progress.StepBar
	var latest api.GenerateResponse

	fn := func(resp api.GenerateResponse) error {
		latest = resp

		if resp.Status == "sampling" && resp.TotalSteps > 0 {
			if bar == nil {
				spinner.Stop()
				bar = progress.NewStepBar("generating", resp.TotalSteps)
				p.Add(bar)
			}
			bar.Set(resp.Step)
		}

		return nil
	}

	req := api.GenerateRequest{
		Model:          opts.Model,
		Prompt:         opts.Prompt,
		NegativePrompt: opts.NegativePrompt,
		Resolution:     &opts.Resolution,
		GuidanceScale:  &opts.GuidanceScale,
		Steps:          opts.Steps,
		Seed:           opts.Seed,
	}

	if err := client.Generate(ctx, &req, fn); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	}

	p.Stop()

	if !latest.Done {
		return errors.New("generation did not complete")
	}

	for i, data := range latest.Images {
		name := fmt.Sprintf("%s%d.png", opts.Output, i)
		if err := os.WriteFile(name, data, 0o644); err != nil {
			return err
		}

		fmt.Printf("wrote %s (%dx%d, seed %d)\n", name, latest.Width, latest.Height, latest.Seed)
	}

	return nil
}

func newGenerateCmd() *cobra.Command {
	generateCmd := &cobra.Command{
		Use:   "generate MODEL PROMPT...",
		Short: "Generate an image from a text prompt",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := generateOptions{
				Model:  args[0],
				Prompt: strings.Join(args[1:], " "),
			}

			var err error
			if opts.NegativePrompt, err = cmd.Flags().GetString("negative"); err != nil {
				return err
			}
			if opts.Resolution, err = cmd.Flags().GetInt("resolution"); err != nil {
				return err
			}
			if opts.GuidanceScale, err = cmd.Flags().GetFloat64("guidance"); err != nil {
				return err
			}
			if opts.Steps, err = cmd.Flags().GetInt("steps"); err != nil {
				return err
			}
			if opts.Seed, err = cmd.Flags().GetInt64("seed"); err != nil {
				return err
			}
			if opts.Output, err = cmd.Flags().GetString("output"); err != nil {
				return err
			}

			return RunGenerate(cmd, opts)
		},
	}

	generateCmd.Flags().String("negative", "", "Negative prompt")
	generateCmd.Flags().Int("resolution", 8, "Resolution bucket index")
	generateCmd.Flags().Float64("guidance", 7.5, "Classifier-free guidance scale")
	generateCmd.Flags().Int("steps", 30, "Number of denoising steps")
	generateCmd.Flags().Int64("seed", 0, "Random seed (0 for random)")
	generateCmd.Flags().StringP("output", "o", "output", "Output image base path")

	return generateCmd
}
