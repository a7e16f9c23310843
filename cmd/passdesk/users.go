package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/erazemk/passdesk/internal/client"
	"github.com/erazemk/passdesk/internal/model"
)

// cmdUsers lists accounts, or creates one with -create.
func (a *app) cmdUsers(ctx context.Context, args []string) int {
	fs := a.newFlagSet("users")
	create := fs.String("create", "", "create an account with this email")
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	role := fs.String("role", model.RoleUser, "role: user or admin")
	password := fs.String("password", "", "password (required for admins)")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if !a.requireSession(ctx) {
		return exitError
	}

	if *create != "" {
		u, err := a.client.CreateUser(ctx, client.NewUser{
			Email:     *create,
			FirstName: *first,
			LastName:  *last,
			Password:  *password,
			Role:      *role,
		})
		if err != nil {
			return a.fail(err, "Failed to create user")
		}
		fmt.Fprintf(a.stdout, "Created %s (%s)\n", displayUser(u.FullName(), u.Email), u.ID)
		return exitOK
	}

	users, err := a.client.ListUsers(ctx)
	if err != nil {
		return a.fail(err, "Failed to fetch users")
	}
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tNAME\tROLE\tCREATED")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			u.Email, orDash(u.FullName()), userRole(&u), u.CreatedAt.In(a.loc).Format(timeLayout))
	}
	w.Flush()
	return exitOK
}

// userRole derives the role from the flags the API exposes.
func userRole(u *model.User) string {
	switch {
	case u.IsSuperAdmin:
		return model.RoleSuperAdmin
	case u.IsAdmin:
		return model.RoleAdmin
	}
	return model.RoleUser
}
