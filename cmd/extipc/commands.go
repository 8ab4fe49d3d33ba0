package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/machinefabric/extipc-go/envelope"
	"github.com/machinefabric/extipc-go/methods"
)

func parseTimeout(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --timeout: %w", err)
	}
	return d, nil
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Ping the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pong, err := oneshot(cmd.Context(), methods.KindPing, envelope.Empty{})
			if err != nil {
				return fmt.Errorf("failed to ping: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pinged successfully (version %s, pid %d)\n", pong.Version, pong.PID)
			return nil
		},
	}
}

func launchCmd() *cobra.Command {
	var newInstance bool
	cmd := &cobra.Command{
		Use:   "launch <app-id> [args...]",
		Short: "Launch an application, focusing an open window if there is one",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := oneshot(cmd.Context(), methods.KindLaunchApp, methods.LaunchAppRequest{
				AppID:       args[0],
				Args:        args[1:],
				NewInstance: newInstance,
			})
			if err != nil {
				return err
			}
			if res.FocusedWindowTitle != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Focused existing window %q\n", res.FocusedWindowTitle)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&newInstance, "new", false, "always start a new instance")
	return cmd
}

func appsCmd() *cobra.Command {
	var withActions, all bool
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "List the applications known to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := oneshot(cmd.Context(), methods.KindListApps, methods.ListAppsRequest{WithActions: withActions})
			if err != nil {
				return err
			}
			return printApps(cmd.OutOrStdout(), res.Apps, all)
		},
	}
	cmd.Flags().BoolVar(&withActions, "actions", false, "include application actions")
	cmd.Flags().BoolVar(&all, "all", false, "include hidden applications")
	return cmd
}

func printApps(w io.Writer, apps []methods.AppInfo, all bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPROGRAM")
	for _, app := range apps {
		if app.Hidden && !all {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", app.ID, app.Name, app.Program)
	}
	return tw.Flush()
}

func deeplinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "deeplink <link>",
		Aliases: []string{"link"},
		Short:   "Open a deeplink",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := oneshot(cmd.Context(), methods.KindDeeplink, methods.DeeplinkRequest{URL: args[0]})
			if err != nil {
				return fmt.Errorf("failed to execute deeplink: %w", err)
			}
			return nil
		},
	}
}

// windowCmd builds toggle and open, which both accept an initial query
func windowCmd(verb, short string) *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   verb,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			link := url.URL{Scheme: "extipc", Host: verb}
			if query != "" {
				link.RawQuery = url.Values{"fallbackText": {query}}.Encode()
			}
			_, err := oneshot(cmd.Context(), methods.KindDeeplink, methods.DeeplinkRequest{URL: link.String()})
			if err != nil {
				return fmt.Errorf("failed to %s: %w", verb, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "set the search query")
	return cmd
}

func closeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close",
		Short: "Close the launcher window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := oneshot(cmd.Context(), methods.KindDeeplink, methods.DeeplinkRequest{URL: "extipc://close"})
			if err != nil {
				return fmt.Errorf("failed to close: %w", err)
			}
			return nil
		},
	}
}

func dmenuCmd() *cobra.Command {
	var req methods.DMenuRequest
	var width, height int
	cmd := &cobra.Command{
		Use:   "dmenu",
		Short: "Pick one line of stdin in the launcher and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			content, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			req.RawContent = string(content)
			if cmd.Flags().Changed("width") {
				req.Width = &width
			}
			if cmd.Flags().Changed("height") {
				req.Height = &height
			}

			// The user may take a while to choose
			if !cmd.Flags().Changed("timeout") {
				timeout = "0"
			}
			res, err := oneshot(cmd.Context(), methods.KindDMenu, req)
			if err != nil {
				return fmt.Errorf("failed to invoke dmenu: %w", err)
			}
			if res.Output == "" {
				return errors.New("nothing selected")
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Output)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&req.NavigationTitle, "navigation-title", "n", "", "set the navigation title")
	f.StringVarP(&req.SectionTitle, "section-title", "s", "", "title of the main section, {count} renders the current count")
	f.StringVarP(&req.Placeholder, "placeholder", "p", "", "placeholder text of the search bar")
	f.StringVarP(&req.Query, "query", "q", "", "initial search query")
	f.IntVarP(&width, "width", "W", 0, "window width in pixels")
	f.IntVarP(&height, "height", "H", 0, "window height in pixels")
	f.BoolVar(&req.NoSection, "no-section", false, "do not insert a section heading")
	f.BoolVar(&req.NoQuickLook, "no-quick-look", false, "do not show quick look for entries")
	f.BoolVar(&req.NoMetadata, "no-metadata", false, "do not show the metadata section in quick look")
	f.BoolVar(&req.NoIcon, "no-icon", false, "do not show entry icons")
	f.BoolVar(&req.NoFooter, "no-footer", false, "hide the status bar footer")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"ver"},
		Short:   "Show version and build information",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Version %s (commit %s)\n", version, commit)
		},
	}
}
