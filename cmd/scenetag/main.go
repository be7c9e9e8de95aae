// scenetag - 3D scene instance annotation server
//
// Serves a directory of PLY meshes with per-vertex instance masks to a web
// viewer, and stores the questions annotators write about the selected
// instances.
//
// Commands:
//
//	serve              Run the HTTP and websocket server
//	info <mesh>        Show mesh and mask statistics
//	mask <mesh>        Write a placeholder grid mask
//	export <mesh>      Export the highlight of some instances as GLB
//	pull <mesh>        Fetch the annotation collections of a mesh
//	push <mesh> <file> Submit an annotation list
//	config             Print or write the configuration
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/Faultbox/scenetag/internal/config"
	"github.com/Faultbox/scenetag/internal/logger"
)

var version = "dev"

// cfg is loaded before any subcommand runs.
var cfg *config.Config

func main() {
	root := &cobra.Command{
		Use:   "scenetag",
		Short: "3D scene instance annotation server",
		Long: `scenetag - 3D scene instance annotation server

Serves PLY meshes and their per-vertex instance masks to a web viewer.
Annotators select instances by clicking, write a question about them and
save it together with the camera pose.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cmd.Flags())
			return err
		},
	}
	config.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(),
		newInfoCmd(),
		newMaskCmd(),
		newExportCmd(),
		newPullCmd(),
		newPushCmd(),
		newConfigCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := fang.Execute(ctx, root, fang.WithVersion(version))
	stop()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func initLogging(c *config.Config) error {
	opts := logger.Options{
		Level:   c.Logging.Level,
		Format:  c.Logging.Format,
		Console: true,
	}
	if c.Logging.LogFile != "" {
		opts.File = logger.DefaultFileConfig(c.Logging.LogFile)
	}
	return logger.InitWithOptions(opts)
}
