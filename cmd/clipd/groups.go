package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newGroupsCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "groups",
		Aliases: []string{"g", "list-groups"},
		Short:   "List populated groups with their recency",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runGroups(v) },
	}

	cmd.Flags().Bool("json", false, "output raw JSON")
	addClientFlags(cmd)

	return cmd
}

func runGroups(v *viper.Viper) error {
	c, err := dialDaemon(v)
	if err != nil {
		return err
	}
	defer c.Close()

	groups, err := c.Groups()
	if err != nil {
		return err
	}

	if v.GetBool("json") {
		enc, _ := json.MarshalIndent(groups, "", "  ")
		fmt.Println(string(enc))
		return nil
	}

	if len(groups) == 0 {
		fmt.Println("History is empty.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "GROUP\tENTRIES\tLAST ACTIVITY\n")
	for _, g := range groups {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", g.Name, g.Entries, fmtAge(g.LastActivity))
	}
	return tw.Flush()
}
