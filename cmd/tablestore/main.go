package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/VanDung-dev/TableStore-Engine/config"
	"github.com/VanDung-dev/TableStore-Engine/internal/logger"
	"github.com/VanDung-dev/TableStore-Engine/store"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "TableStore-Engine"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:   "tablestore",
		Short: "Shared memory store for columnar tables",
		Long: `tablestore runs a local object store holding Arrow IPC encoded tables in
shared memory, and talks to it from the command line.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to YAML configuration file")

	load := func() (config.Config, error) {
		if configFile == "" {
			return config.Default(), nil
		}
		return config.Load(configFile)
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", Name, Version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(serveCommand(load))
	root.AddCommand(objectCommands(load)...)
	root.AddCommand(watchCommand(load))
	root.AddCommand(fetchCommand(load))

	err := root.Execute()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

type loader func() (config.Config, error)

// parseID accepts the 40 character hex form or a 20 byte literal.
func parseID(s string) (store.ObjectID, error) {
	if len(s) == 2*store.IDLength {
		return store.ParseHex(s)
	}
	return store.IDFromString(s)
}
