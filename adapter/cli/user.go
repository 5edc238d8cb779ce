package cli

import (
	"fmt"

	identityUsers "github.com/felixgeelhaar/blade/internal/identity/application/users"
	"github.com/spf13/cobra"
)

var (
	userEmail    string
	userName     string
	userUsername string
	userSquad    string
	userAge      int
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := GetApp()
		if a == nil || a.Users == nil {
			return errNotInitialized
		}

		reg := identityUsers.RegisterCommand{
			Email:    userEmail,
			Name:     userName,
			Username: userUsername,
			Squad:    userSquad,
		}
		if cmd.Flags().Changed("age") {
			age := userAge
			reg.Age = &age
		}

		user, err := a.Users.Register(cmd.Context(), reg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s)\n", user.Email(), user.ID())
		return nil
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "email address (required)")
	userAddCmd.Flags().StringVar(&userName, "name", "", "display name, unique (required)")
	userAddCmd.Flags().StringVar(&userUsername, "username", "", "username")
	userAddCmd.Flags().StringVar(&userSquad, "squad", "", "squad")
	userAddCmd.Flags().IntVar(&userAge, "age", 0, "age in years")
	_ = userAddCmd.MarkFlagRequired("email")
	_ = userAddCmd.MarkFlagRequired("name")
	userCmd.AddCommand(userAddCmd)
	rootCmd.AddCommand(userCmd)
}
