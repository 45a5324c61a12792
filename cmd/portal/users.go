package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/airfi/airfi-guest-portal/internal/admin"
	"github.com/airfi/airfi-guest-portal/internal/app"
	"github.com/airfi/airfi-guest-portal/internal/db"
)

var newUser admin.UserInput

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage portal identities",
}

var listUsersCmd = &cobra.Command{
	Use:   "list",
	Short: "List all identities",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			users, err := a.Admin.Users(cmd.Context())
			if err != nil {
				return err
			}
			if len(users) == 0 {
				fmt.Println("No users found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tMOBILE\tTYPE\tROOM\tSTATUS\tLAST LOGIN")
			for _, u := range users {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", u.ID, u.MobileNumber, u.UserType, dash(u.RoomNumber), status(u), lastLogin(u))
			}
			w.Flush()
			fmt.Printf("\nTotal users: %d\n", len(users))
			return nil
		})
	},
}

var addUserCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an identity",
	Long:  `Add an identity. For guests --password is the room number; other kinds get a hashed password.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			u, err := a.Admin.AddUser(cmd.Context(), newUser)
			if err != nil {
				return err
			}
			fmt.Printf("Added %s user %s (id %d)\n", u.UserType, u.MobileNumber, u.ID)
			return nil
		})
	},
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func status(u db.Identity) string {
	if u.IsActive {
		return "Active"
	}
	return "Inactive"
}

func lastLogin(u db.Identity) string {
	if u.LastLogin == nil {
		return "-"
	}
	return u.LastLogin.Format("2006-01-02 15:04")
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(listUsersCmd)
	usersCmd.AddCommand(addUserCmd)

	addUserCmd.Flags().StringVar(&newUser.MobileNumber, "mobile", "", "mobile number, digits only")
	addUserCmd.Flags().StringVar(&newUser.Secret, "password", "", "password, or room number for guests")
	addUserCmd.Flags().StringVar(&newUser.UserType, "type", "guest", "guest, staff, family or friend")
	_ = addUserCmd.MarkFlagRequired("mobile")
	_ = addUserCmd.MarkFlagRequired("password")
}
