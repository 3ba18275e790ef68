package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newCmdUpdate(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Write, sign and publish every zone that changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.updater.Run(cmd.Context(), force)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), res.Message())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Rewrite and re-sign every zone")
	return cmd
}

// newCmdRecords prints the records to publish when the zones are hosted by
// another DNS provider.
func newCmdRecords(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "records",
		Short: "Print the recommended DNS records of every zone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.Close()

			zones, err := a.updater.Recommended(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, z := range zones {
				for _, r := range z.Records {
					fmt.Fprintf(out, "; %s\n%s\t%s\t%s\n\n", r.Explanation, r.QName, r.Type, r.Value)
				}
			}
			return nil
		},
	}
}

func newCmdCustom(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "custom",
		Short: "Manage custom DNS records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [qname]",
		Short: "List custom records, optionally for one name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.Close()

			records := a.updater.CustomRecords()
			names := records.Names()
			if len(args) == 1 {
				names = []string{args[0]}
			}
			for _, name := range names {
				values, _ := records.Get(name, false)
				sort.SliceStable(values, func(i, j int) bool { return values[i].Type < values[j].Type })
				for _, v := range values {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", name, v.Type, v.Value)
				}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <qname> <rtype> <value>",
		Short: "Set a custom record and update DNS",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.Close()

			changed, err := a.updater.SetCustomRecord(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return a.finishCustomChange(cmd, changed)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <qname> <rtype>",
		Short: "Delete a custom record and update DNS",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.Close()

			changed, err := a.updater.DeleteCustomRecord(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.finishCustomChange(cmd, changed)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore [backup]",
		Short: "Restore the custom records from a backup, the latest by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.Close()

			var name string
			if len(args) == 1 {
				name = args[0]
			} else if name, err = a.backup.Latest("custom"); err != nil {
				return err
			}
			if err := a.backup.Restore("custom", a.cfg.CustomRecordsFile(), name); err != nil {
				return err
			}
			return a.finishCustomChange(cmd, true)
		},
	})
	return cmd
}

func (a *app) finishCustomChange(cmd *cobra.Command, changed bool) error {
	if !changed {
		fmt.Fprintln(cmd.OutOrStdout(), "no change")
		return nil
	}
	res, err := a.updater.Run(cmd.Context(), false)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), res.Message())
	return nil
}
