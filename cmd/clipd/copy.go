package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipd/internal/message"
)

func newCopyCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "copy [text...]",
		Aliases: []string{"c"},
		Short:   "Add an entry to the history and make it the active selection",
		Long: `Copies the given text, or stdin when no arguments are given, into the
named group and claims the selection for it.

  echo hello | clipd copy
  clipd copy --group work --expiry 24h "meeting at three"
  clipd copy --mime image/png < screenshot.png`,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, args []string) error { return runCopy(v, args) },
	}

	f := cmd.Flags()
	f.String("group", "", "group to copy into")
	f.String("mime", "text/plain", "MIME type of the data being copied")
	f.String("expiry", "", `expiry policy: "never", "session", or a duration (daemon default when empty)`)
	addClientFlags(cmd)

	return cmd
}

func runCopy(v *viper.Viper, args []string) error {
	var data []byte
	if len(args) > 0 {
		data = []byte(strings.Join(args, " "))
	} else {
		var err error
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}
	if len(data) == 0 {
		return nil
	}

	mime := v.GetString("mime")
	var item message.Item
	if mime == "text/plain" {
		item = message.NewTextItem(string(data))
	} else {
		item = message.NewBinaryItem(mime, data)
	}

	c, err := dialDaemon(v)
	if err != nil {
		return err
	}
	defer c.Close()

	return c.Copy([]message.Item{item}, v.GetString("group"), v.GetString("expiry"), source())
}

func source() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}
