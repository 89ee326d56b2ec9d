package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/studiowebux/restcall/internal/cli"
	"github.com/studiowebux/restcall/internal/config"
	"github.com/studiowebux/restcall/internal/history"
	"github.com/studiowebux/restcall/internal/session"
	updates "github.com/studiowebux/restcall/internal/version"
)

var (
	version = "0.1.0"
)

var (
	app *cli.App
	log = logrus.New()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if app != nil && app.History != nil {
		app.History.Close()
	}
	if err != nil {
		if !errors.Is(err, cli.ErrRequestFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "restcall",
	Short: "restcall - typed service client",
	Long: `restcall sends requests to remote-procedure-style HTTP services.

Requests are described in YAML or JSON files: an operation name, its routes and ordered
properties. Each request is matched to the most specific route its properties can fill,
or posted to the predefined /json/reply/{Operation} endpoint.

Examples:
  restcall send get-widget                  # Send requests/get-widget.yaml
  restcall send get-widget -p dev -s Id=42  # Use 'dev' profile, override a property
  restcall send -O Hello -s Name=World      # Ad-hoc call to /json/reply/Hello
  restcall route get-widget                 # Show the URL without sending
  restcall history --failed                 # Show failed calls
  restcall mock mock.yaml                   # Host a mock service`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagVerbose {
			log.SetLevel(logrus.DebugLevel)
		}
		return setup()
	},
}

// Flags shared by several commands
var (
	flagVerbose    bool
	flagProfile    string
	flagOutput     string
	flagNoColor    bool
	flagCheck      bool
	flagHistoryOn  bool
	flagHistoryOff bool

	requestOpts cli.RequestOptions
	sendOpts    cli.SendOptions
	historyOpts cli.HistoryOptions
	mockOpts    cli.MockOptions
)

// setup loads configuration, session and history for the command about to run
func setup() error {
	if err := config.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	sessions := session.NewManager()
	if err := sessions.Load(); err != nil {
		return err
	}

	hist, err := history.NewManager(config.DatabasePath)
	if err != nil {
		log.WithError(err).Warn("history disabled")
		hist = nil
	}

	app = cli.NewApp(sessions, hist, log)
	if flagNoColor {
		app.Color = false
	}
	return nil
}

// requestFlags registers the flags selecting and shaping requests
func requestFlags(opts *cli.RequestOptions) *pflag.FlagSet {
	fs := pflag.NewFlagSet("request", pflag.ContinueOnError)
	fs.StringVarP(&opts.Operation, "operation", "O", "", "Operation to call when no request file is given")
	fs.StringVarP(&opts.Method, "method", "X", "", "HTTP method overriding the request file")
	fs.StringVarP(&opts.URL, "url", "u", "", "Explicit relative or absolute URL")
	fs.StringArrayVarP(&opts.Set, "set", "s", nil, "Set a property (key=value), can be repeated")
	fs.StringArrayVarP(&opts.Headers, "header", "H", nil, "Add a header (Name: value), can be repeated")
	return fs
}

func fileArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

var sendCmd = &cobra.Command{
	Use:   "send [file]",
	Short: "Send the requests of a request file",
	Long: `Send the requests of a YAML or JSON request file.

The file extension is optional: 'get-widget' resolves to 'get-widget.yaml' in the current
directory or the profile's working directory. Files with a 'requests' list are sent
concurrently, up to --parallel at a time.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := sendOpts
		opts.RequestOptions = requestOpts
		opts.Profile = flagProfile
		opts.File = fileArg(args)
		opts.Output = flagOutput
		return app.Send(cmd.Context(), opts)
	},
}

var routeCmd = &cobra.Command{
	Use:   "route [file]",
	Short: "Show the URL each request resolves to, without sending",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := requestOpts
		opts.Profile = flagProfile
		opts.File = fileArg(args)
		return app.Route(cmd.Context(), opts)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded calls",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch {
		case flagHistoryOn && flagHistoryOff:
			return fmt.Errorf("--enable and --disable are exclusive")
		case flagHistoryOn:
			return app.SetHistoryEnabled(true)
		case flagHistoryOff:
			return app.SetHistoryEnabled(false)
		}
		opts := historyOpts
		opts.Profile = flagProfile
		opts.Output = flagOutput
		return app.ListHistory(opts)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one recorded call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid history id %q", args[0])
		}
		return app.ShowHistory(id, flagOutput)
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show call statistics per operation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.HistoryStats(flagProfile, flagOutput)
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete recorded calls of the profile, or all with no profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.ClearHistory(flagProfile)
	},
}

var mockCmd = &cobra.Command{
	Use:   "mock <config>",
	Short: "Host a mock service until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := mockOpts
		opts.ConfigPath = args[0]
		return app.Mock(cmd.Context(), opts)
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with the profile's OAuth settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Login(cmd.Context(), flagProfile)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the tokens stored for the profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Logout(flagProfile)
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "List profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.ListProfiles()
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Make a profile the default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.UseProfile(args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	// version needs no configuration
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("restcall %s\n", version)
		if !flagCheck {
			return nil
		}
		available, latest, url, err := updates.CheckForUpdate(cmd.Context(), version, log)
		if err != nil {
			return err
		}
		if available {
			fmt.Printf("A newer version is available: %s\n%s\n", latest, url)
		} else {
			fmt.Println("restcall is up to date")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagProfile, "profile", "p", "", "Profile to use (default: active profile)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "", "Output format (text/json/yaml/body)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log debug details to stderr")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")

	sendCmd.Flags().AddFlagSet(requestFlags(&requestOpts))
	sendCmd.Flags().StringVar(&sendOpts.Filter, "filter", "", "JMESPath filter applied to the response")
	sendCmd.Flags().StringVarP(&sendOpts.Query, "query", "q", "", "JMESPath query or $(command) applied after the filter")
	sendCmd.Flags().BoolVarP(&sendOpts.Full, "full", "f", false, "Show full output (status, headers, body)")
	sendCmd.Flags().IntVarP(&sendOpts.Parallel, "parallel", "j", 4, "Requests in flight at once")
	sendCmd.Flags().BoolVar(&sendOpts.FailFast, "fail-fast", false, "Cancel remaining requests after the first failure")
	sendCmd.Flags().StringVar(&sendOpts.SavePath, "save", "", "Save output to file")

	routeCmd.Flags().AddFlagSet(requestFlags(&requestOpts))

	historyCmd.Flags().StringVar(&historyOpts.Operation, "operation", "", "Only calls of this operation")
	historyCmd.Flags().StringVar(&historyOpts.File, "file", "", "Only calls from this request file")
	historyCmd.Flags().BoolVar(&historyOpts.FailedOnly, "failed", false, "Only failed calls")
	historyCmd.Flags().IntVarP(&historyOpts.Limit, "limit", "n", 20, "Maximum entries, 0 for all")
	historyCmd.Flags().BoolVar(&flagHistoryOn, "enable", false, "Enable history recording")
	historyCmd.Flags().BoolVar(&flagHistoryOff, "disable", false, "Disable history recording")
	historyCmd.AddCommand(historyShowCmd, historyStatsCmd, historyClearCmd)

	mockCmd.Flags().IntVar(&mockOpts.Port, "port", 0, "Port overriding the config")
	mockCmd.Flags().StringVar(&mockOpts.Host, "host", "", "Host overriding the config")
	mockCmd.Flags().BoolVar(&mockOpts.Quiet, "quiet", false, "Do not log requests")

	versionCmd.Flags().BoolVar(&flagCheck, "check", false, "Check for a newer release")

	profileCmd.AddCommand(profileUseCmd)

	rootCmd.AddCommand(sendCmd, routeCmd, historyCmd, mockCmd, loginCmd, logoutCmd, profileCmd, versionCmd)
}
