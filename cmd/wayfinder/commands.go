package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sanonone/wayfinder/pkg/config"
	"github.com/sanonone/wayfinder/pkg/editor"
)

// app carries what every subcommand needs once the root has loaded the
// configuration.
type app struct {
	configPath string
	dataDir    string

	cfg config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "wayfinder",
		Short:         "Edit, publish and serve indoor venue navigation manifests",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "workspace directory (overrides editor.data_dir)")

	rootCmd.AddCommand(
		a.importCmd(),
		a.publishCmd(),
		a.routeCmd(),
		a.walkCmd(),
		a.serveCmd(),
		a.mcpCmd(),
		a.statsCmd(),
		a.compactCmd(),
	)
	return rootCmd
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.Editor.DataDir = a.dataDir
	}
	a.cfg = cfg
	// Logs go to stderr so command output on stdout stays parseable.
	a.log = cfg.Log.Logger(cmd.ErrOrStderr())
	slog.SetDefault(a.log)
	return nil
}

func (a *app) openWorkspace() (*editor.Workspace, error) {
	opts := a.cfg.Editor
	opts.Logger = a.log
	return editor.Open(opts)
}

// archive opens the published manifests without taking the workspace
// journal, so serving does not block editing.
func (a *app) archive() *editor.Archive {
	return editor.NewArchive(editor.ArchiveDir(a.cfg.Editor.DataDir))
}

func openInput(path string) (*os.File, error) {
	if path == "-" {
		return os.Stdin, nil
	}
	return os.Open(path)
}
