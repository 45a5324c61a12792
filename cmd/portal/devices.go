package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/airfi/airfi-guest-portal/internal/app"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Manage blocked devices",
}

var listDevicesCmd = &cobra.Command{
	Use:   "list",
	Short: "List blocked devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			devices, err := a.Admin.BlockedDevices(cmd.Context())
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("No blocked devices")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tMAC\tMOBILE\tREASON\tBLOCKED AT\tBY")
			for _, d := range devices {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", d.ID, d.MACAddress, dash(d.MobileNumber), d.Reason, d.BlockedAt.Format("2006-01-02 15:04"), dash(d.BlockedBy))
			}
			w.Flush()
			return nil
		})
	},
}

var unblockDeviceCmd = &cobra.Command{
	Use:   "unblock <id>",
	Short: "Unblock a device by record id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid device id %q", args[0])
		}
		return withApp(func(a *app.App) error {
			d, err := a.Admin.UnblockDevice(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("Unblocked %s\n", d.MACAddress)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.AddCommand(listDevicesCmd)
	devicesCmd.AddCommand(unblockDeviceCmd)
}
