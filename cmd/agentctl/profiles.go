package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Inspect and maintain device coordinate profiles",
}

func init() {
	profilesCmd.AddCommand(profilesListCmd, profilesDeleteCmd)
}

var profilesListCmd = &cobra.Command{
	Use:   "list <device-id>",
	Short: "List learned icon coordinates for a device geometry (e.g. device_1080x1920)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context(), flagConfig)
		if err != nil {
			return err
		}
		entries := rt.profiles.List(args[0])
		if len(entries) == 0 {
			fmt.Println("no entries")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%-30s (%4d, %4d)  %-14s verified %s\n",
				e.Name, e.Coordinate.X, e.Coordinate.Y, e.Coordinate.Source,
				e.Coordinate.LastVerify.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var profilesDeleteCmd = &cobra.Command{
	Use:   "delete <device-id> <icon-name>",
	Short: "Delete one learned coordinate (use after a layout change invalidates it)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context(), flagConfig)
		if err != nil {
			return err
		}
		removed, err := rt.profiles.Delete(args[0], args[1])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("no entry %q in %s", args[1], args[0])
		}
		fmt.Println("deleted")
		return nil
	},
}
