package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipd/internal/message"
)

func newShowCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "show",
		Aliases: []string{"s", "list"},
		Short:   "List history entries",
		Long: `Lists the entries of the named group, most recent first, with their
index, preview, age, and origin. Without --group every populated group is
shown. The active selection is marked with *.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runShow(v) },
	}

	f := cmd.Flags()
	f.String("group", "", "group to list (empty = all)")
	f.Bool("json", false, "output raw JSON")
	addClientFlags(cmd)

	return cmd
}

func runShow(v *viper.Viper) error {
	c, err := dialDaemon(v)
	if err != nil {
		return err
	}
	defer c.Close()

	listings, err := c.List(v.GetString("group"))
	if err != nil {
		return err
	}

	if v.GetBool("json") {
		enc, _ := json.MarshalIndent(listings, "", "  ")
		fmt.Println(string(enc))
		return nil
	}

	printed := 0
	for _, listing := range listings {
		if len(listing.Entries) == 0 {
			continue
		}
		if printed > 0 {
			fmt.Println()
		}
		printed++
		printListing(listing)
	}
	if printed == 0 {
		fmt.Println("History is empty.")
	}
	return nil
}

func printListing(listing message.GroupListing) {
	fmt.Printf("%s (%d)\n", listing.Group, len(listing.Entries))
	tw := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "\tINDEX\tPREVIEW\tAGE\tORIGIN\tEXPIRY\tTYPES\n")
	for _, p := range listing.Entries {
		marker := ""
		if p.Active {
			marker = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			marker, p.Index, p.Preview, fmtAge(p.CreatedAt), p.Origin, p.Expiry,
			strings.Join(p.MIMEs, ","),
		)
	}
	_ = tw.Flush()
}

func fmtAge(t time.Time) string {
	age := time.Since(t).Round(time.Second)
	if age < time.Minute {
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	}
	if age < time.Hour {
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	}
	return t.Format("15:04:05")
}
