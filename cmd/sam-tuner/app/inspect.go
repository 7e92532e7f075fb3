package app

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tsawler/sam-tuner/checkpoints"
)

// InspectOptions holds options for the inspect command
type InspectOptions struct {
	// Path is the checkpoint file to inspect
	Path string

	// Format is the checkpoint encoding, "wire" or "json"
	Format string
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand() *cobra.Command {
	opts := &InspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect CHECKPOINT",
		Short: "List the tensors stored in a checkpoint",
		Long: `List every tensor in a checkpoint file with its shape and element count.

Examples:
  sam-tuner inspect out/best-epoch-7-f10.89.pth
  sam-tuner inspect --format json out/epoch-000003-f10.71-ckpt.pth`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Path = args[0]
			return runInspect(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", "wire",
		"checkpoint encoding: wire or json")

	return cmd
}

// runInspect executes the inspect command logic
func runInspect(opts *InspectOptions) error {
	var format checkpoints.CheckpointFormat
	switch opts.Format {
	case "wire":
		format = checkpoints.FormatWire
	case "json":
		format = checkpoints.FormatJSON
	default:
		return fmt.Errorf("unknown format %q (expected wire or json)", opts.Format)
	}

	stateDict, err := checkpoints.NewSaver(format).Load(opts.Path)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(stateDict))
	for name := range stateDict {
		names = append(names, name)
	}
	sort.Strings(names)

	total := 0
	for _, name := range names {
		t := stateDict[name]
		fmt.Printf("%-40s %v (%d elements)\n", name, t.Shape, t.NumElems)
		total += t.NumElems
	}
	fmt.Printf("\n%d tensors, %d parameters\n", len(names), total)

	return nil
}
