// Package app implements the sam-tuner command-line interface with cobra.
// Commands are organized under a single root command; each subcommand owns
// its flags and delegates the work to the library packages.
package app

import (
	"github.com/spf13/cobra"
)

const (
	// cliName is the name of the CLI application
	cliName = "sam-tuner"

	// cliDescription is the short description shown in help text
	cliDescription = "sam-tuner - fine-tune box-prompted segmentation models"
)

// NewSamTunerCommand creates the root command with all subcommands.
func NewSamTunerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   cliName,
		Short: cliDescription,
		Long: `sam-tuner fine-tunes a box-promptable image segmentation model on a
labeled dataset of images, instance masks, and bounding-box prompts.

Training minimizes a composite of focal loss, dice loss, and a mean-squared
error between the model's predicted mask quality and the realized IoU of its
predictions. Each epoch ends with a validation pass; checkpoints are written
every epoch and whenever the mean F1 score reaches a new best.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(
		NewTrainCommand(),
		NewInspectCommand(),
		NewVersionCommand(),
	)

	return cmd
}
