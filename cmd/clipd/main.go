// clipd: perpetual clipboard owner with a multi-group history.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.klb.dev/clipd/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "clipd",
		Short: "Clipboard history daemon",
		Long: `clipd keeps copied content pasteable after the copying application exits
by holding ownership of the system selection, and maintains a multi-group
history of everything copied — through clipd or any other application.

Run "clipd daemon" once per session. The other sub-commands talk to the
daemon over its local control socket:

  clipd copy      add an entry (stdin or arguments) and activate it
  clipd paste     print an entry's payload
  clipd show      list history entries
  clipd recopy    re-activate an older entry
  clipd delete    remove entries
  clipd groups    list populated groups

Config file search order (first found wins):
  /etc/clipd/clipd.toml
  $HOME/.config/clipd/clipd.toml
  path supplied via --config

All flags can be set via CLIPD_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newDaemonCmd(),
		newCopyCmd(),
		newPasteCmd(),
		newRecopyCmd(),
		newDeleteCmd(),
		newShowCmd(),
		newGroupsCmd(),
		newStatusCmd(),
		newStopCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("clipd %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}
