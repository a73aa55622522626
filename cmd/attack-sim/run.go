package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/charging-platform/ocpp-attack-lab/internal/simulator"
)

func newRunCmd() *cobra.Command {
	var flags struct {
		outputDir string
	}

	cmd := &cobra.Command{
		Use:   "run <batch-file>",
		Short: "Run a batch of attack simulation scenarios",
		Long: `Execute the scenarios defined in a YAML batch file.

Each scenario gets a fresh attack engine, battery model and anomaly
detector. Per-session metrics land in the batch output directory; batches
with two or more scenarios also get a comparison report against the first
attack-disabled baseline.

Examples:
  attack-sim run configs/degradation_study.yaml
  attack-sim run --output ./results/run42 configs/degradation_study.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newRunLogger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			batch, err := simulator.LoadBatchConfig(args[0])
			if err != nil {
				return err
			}
			if flags.outputDir != "" {
				batch.Output.Directory = flags.outputDir
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigChan
				fmt.Fprintln(os.Stderr, "\nReceived interrupt, stopping batch...")
				cancel()
			}()

			results, err := simulator.NewRunner(batch, log).RunBatch(ctx)
			if err != nil {
				return fmt.Errorf("run batch: %w", err)
			}

			fmt.Fprintf(os.Stdout, "\nBatch %s completed, %d scenarios:\n", batch.Name, len(results))
			for _, summary := range results {
				fmt.Fprintf(os.Stdout, "  %-50s cycles=%-5d final SoH=%6.2f%% manipulations=%-5d detections=%d\n",
					summary.SessionID, summary.TotalCycles, summary.FinalSoH,
					summary.ManipulationCount, summary.DetectionCount)
			}
			fmt.Fprintf(os.Stdout, "Results written to %s\n", batch.Output.Directory)
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.outputDir, "output", "o", "", "override the output directory from the batch file")
	return cmd
}
