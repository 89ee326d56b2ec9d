package cli

import (
	"fmt"
	"text/tabwriter"
)

// ListProfiles writes the configured profiles, marking the active one
func (a *App) ListProfiles() error {
	active := a.Sessions.GetActiveProfile().Name

	tw := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tNAME\tBASE URL\tAUTH")
	for _, p := range a.Sessions.GetProfiles() {
		marker := ""
		if p.Name == active {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", marker, p.Name, p.BaseURL, authKind(p.UserName, p.BearerToken, p.RefreshToken, p.OAuth != nil))
	}
	return tw.Flush()
}

// UseProfile makes a profile the default of later commands
func (a *App) UseProfile(name string) error {
	if err := a.Sessions.SetActiveProfile(name); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Active profile: %s\n", name)
	return nil
}

func authKind(userName, bearer, refresh string, oauth bool) string {
	switch {
	case oauth:
		return "oauth"
	case bearer != "" || refresh != "":
		return "bearer"
	case userName != "":
		return "credentials"
	}
	return "-"
}
