package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipd/internal/client"
)

func newPasteCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "paste [index]",
		Aliases: []string{"p"},
		Short:   "Print an entry's payload to stdout (like pbpaste)",
		Long: `Prints the payload of the entry at the given index; index 0 — the
group's most recent entry — when omitted. Pasting reads straight from the
history: the entry does not have to be the active selection.

To retrieve an image:

  clipd paste --mime image/png > screenshot.png`,
		Args:    cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, args []string) error { return runPaste(v, args) },
	}

	f := cmd.Flags()
	f.String("group", "", "group to paste from")
	f.String("mime", "text/plain", "preferred MIME type to output")
	f.Bool("no-newline", false, "do not append a trailing newline to text output")
	addClientFlags(cmd)

	return cmd
}

func parseIndexArg(args []string) (*int, error) {
	if len(args) == 0 {
		return nil, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid index %q", args[0])
	}
	return &n, nil
}

func runPaste(v *viper.Viper, args []string) error {
	index, err := parseIndexArg(args)
	if err != nil {
		return err
	}

	c, err := dialDaemon(v)
	if err != nil {
		return err
	}
	defer c.Close()

	items, err := c.Paste(v.GetString("group"), index)
	if err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("no such entry")
		}
		return err
	}

	mime := v.GetString("mime")
	for _, it := range items {
		if it.MIME != mime {
			continue
		}
		data, err := it.Decode()
		if err != nil {
			return err
		}
		if _, err := os.Stdout.Write(data); err != nil {
			return err
		}
		if mime == "text/plain" && !v.GetBool("no-newline") {
			fmt.Println()
		}
		return nil
	}

	// Requested type not present — exit 0, print nothing (pbpaste behaviour).
	return nil
}
