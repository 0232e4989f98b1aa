package main

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"backoffice/api/internal/authpw"
	"backoffice/api/internal/rbac"
	"backoffice/api/internal/store"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage staff accounts",
}

var (
	newUserEmail    string
	newUserName     string
	newUserRole     string
	newUserPassword string
)

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a staff account",
	Long: `create adds a staff account. It is how the first admin gets in; later
accounts are usually created from the admin console. Without --password an
invite token is printed instead.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		service := authpw.NewService(store.NewPostgresStore(rt.db), rt.logger)
		resp, err := service.CreateUser(cmd.Context(), authpw.CreateUserRequest{
			Email:       newUserEmail,
			DisplayName: newUserName,
			Role:        newUserRole,
			Password:    newUserPassword,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "created %s (%s) as %s\n", resp.User.Email, resp.User.ID, resp.User.Role)
		if resp.InviteToken != "" {
			fmt.Fprintf(out, "invite link: %s/reset-password?token=%s\n", strings.TrimSuffix(rt.cfg.AdminBaseURL, "/"), resp.InviteToken)
		}
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List staff accounts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		users, err := store.NewPostgresStore(rt.db).ListUsers(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(users) == 0 {
			fmt.Fprintln(out, "No users")
			return nil
		}
		table := tablewriter.NewWriter(out)
		table.Header("ID", "Email", "Name", "Role", "Active", "Created")
		for _, user := range users {
			active := "yes"
			if user.DeactivatedAt != nil {
				active = "no"
			}
			table.Append(user.ID, user.Email, user.DisplayName, user.Role, active, user.CreatedAt.Format("2006-01-02"))
		}
		table.Render()
		fmt.Fprintf(out, "\nTotal users: %d\n", len(users))
		return nil
	},
}

func init() {
	roles := make([]string, 0, len(rbac.Roles()))
	for _, role := range rbac.Roles() {
		roles = append(roles, string(role))
	}
	userCreateCmd.Flags().StringVar(&newUserEmail, "email", "", "login email (required)")
	userCreateCmd.Flags().StringVar(&newUserName, "name", "", "display name (required)")
	userCreateCmd.Flags().StringVar(&newUserRole, "role", string(rbac.RoleAdmin), "one of "+strings.Join(roles, ", "))
	userCreateCmd.Flags().StringVar(&newUserPassword, "password", "", "initial password; omit to print an invite link")
	_ = userCreateCmd.MarkFlagRequired("email")
	_ = userCreateCmd.MarkFlagRequired("name")
	userCmd.AddCommand(userCreateCmd, userListCmd)
}
