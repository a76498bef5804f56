// Package cli — dispatchctl, операторская консоль поверх REST API dispatch-api.
//
//	dispatchctl
//	├── load     create | get | list | pending | remaining | assign | accept | verify | resend-sms
//	│            reject | release-request | release-confirm | pickup | tonu | complete | cancel
//	├── driver   register | list | get | status | remove
//	├── alert    list | ack
//	├── dispatch suggest | auto
//	└── stats
//
// Все команды печатают JSON в stdout; ошибки API возвращаются как *client.APIError.
package cli

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/BearBump/DispatchBox/internal/client"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const defaultAddr = "http://localhost:8080"

type rootOpts struct {
	addr string
}

func (o *rootOpts) client() *client.Client {
	return client.New(o.addr)
}

func BuildCLI() *cobra.Command {
	opts := &rootOpts{}

	root := &cobra.Command{
		Use:           "dispatchctl",
		Short:         "Operator console for DispatchBox",
		Long:          "dispatchctl drives loads, drivers and alerts through the dispatch-api HTTP interface.",
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.addr, "addr", "a", defaultAddr, "dispatch-api base URL")

	root.AddCommand(
		buildLoadCommand(opts),
		buildDriverCommand(opts),
		buildAlertCommand(opts),
		buildDispatchCommand(opts),
		buildStatsCommand(opts),
	)
	return root
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// loadActionCommand — команды вида "load <verb> <load-id>" без тела запроса.
func loadActionCommand(opts *rootOpts, use, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <load-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := opts.client().LoadAction(cmd.Context(), args[0], action, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}
}

// reasonCommand — то же, но с обязательным --reason.
func reasonCommand(opts *rootOpts, use, short string, call func(c *client.Client, cmd *cobra.Command, id, reason string) (any, error)) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use + " <load-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := call(opts.client(), cmd, args[0], reason)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "reason recorded on the load")
	return cmd
}

func buildLoadCommand(opts *rootOpts) *cobra.Command {
	cmd := &cobra.Command{Use: "load", Short: "Manage loads"}

	var create client.CreateLoadRequest
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an unassigned load",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := opts.client().CreateLoad(cmd.Context(), create)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}
	createCmd.Flags().StringVar(&create.Reference, "ref", "", "external reference")
	createCmd.Flags().StringVar(&create.OriginCity, "origin", "", "origin city")
	createCmd.Flags().StringVar(&create.DestinationCity, "destination", "", "destination city")
	createCmd.Flags().StringVar(&create.Notes, "notes", "", "free-form notes")
	_ = createCmd.MarkFlagRequired("origin")
	_ = createCmd.MarkFlagRequired("destination")

	getCmd := &cobra.Command{
		Use:   "get <load-id>",
		Short: "Show a load snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := opts.client().GetLoad(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}

	var (
		statuses        []string
		includeArchived bool
		limit           int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List loads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for i := range statuses {
				statuses[i] = strings.ToUpper(statuses[i])
			}
			v, err := opts.client().ListLoads(cmd.Context(), statuses, includeArchived, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}
	listCmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "filter by status (repeatable)")
	listCmd.Flags().BoolVar(&includeArchived, "archived", false, "include archived loads")
	listCmd.Flags().IntVarP(&limit, "limit", "n", 0, "max rows")

	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "List loads waiting for driver acceptance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := opts.client().ListPendingAcceptance(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}

	remainingCmd := &cobra.Command{
		Use:   "remaining <load-id>",
		Short: "Show time left until the next deadline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := opts.client().TimeRemaining(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}

	var assign client.AssignRequest
	var assignTimeout time.Duration
	assignCmd := &cobra.Command{
		Use:   "assign <load-id>",
		Short: "Assign a driver and open the acceptance window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assign.TimeoutSeconds = int(assignTimeout / time.Second)
			v, err := opts.client().Assign(cmd.Context(), args[0], assign)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}
	assignCmd.Flags().StringVarP(&assign.DriverID, "driver", "d", "", "driver id")
	assignCmd.Flags().DurationVar(&assignTimeout, "timeout", 0, "acceptance window (server default when 0)")
	assignCmd.Flags().StringVar(&assign.Notes, "notes", "", "assignment notes")
	assignCmd.Flags().BoolVar(&assign.Override, "override", false, "replace the current driver")
	_ = assignCmd.MarkFlagRequired("driver")

	var acceptDriver string
	acceptCmd := &cobra.Command{
		Use:   "accept <load-id>",
		Short: "Record the driver's acceptance and send the SMS code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := opts.client().Accept(cmd.Context(), args[0], acceptDriver)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}
	acceptCmd.Flags().StringVarP(&acceptDriver, "driver", "d", "", "driver id")
	_ = acceptCmd.MarkFlagRequired("driver")

	var code string
	verifyCmd := &cobra.Command{
		Use:   "verify <load-id>",
		Short: "Verify the SMS code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := opts.client().VerifySMS(cmd.Context(), args[0], code)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}
	verifyCmd.Flags().StringVar(&code, "code", "", "six-digit code")
	_ = verifyCmd.MarkFlagRequired("code")

	var release client.ConfirmReleaseRequest
	var releaseTTL time.Duration
	releaseConfirmCmd := &cobra.Command{
		Use:   "release-confirm <load-id>",
		Short: "Confirm the release and reveal the pickup address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if releaseTTL <= 0 {
				return errors.New("--ttl must be positive")
			}
			release.ExpiresAt = time.Now().Add(releaseTTL).UTC()
			v, err := opts.client().ConfirmRelease(cmd.Context(), args[0], release)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}
	releaseConfirmCmd.Flags().StringVar(&release.ReleaseNumber, "number", "", "release number")
	releaseConfirmCmd.Flags().StringVar(&release.PickupAddress, "address", "", "pickup address")
	releaseConfirmCmd.Flags().StringVar(&release.PickupInstructions, "instructions", "", "pickup instructions")
	releaseConfirmCmd.Flags().DurationVar(&releaseTTL, "ttl", 4*time.Hour, "release validity")
	_ = releaseConfirmCmd.MarkFlagRequired("number")
	_ = releaseConfirmCmd.MarkFlagRequired("address")

	var tonu client.FileTonuRequest
	var arrived string
	tonuCmd := &cobra.Command{
		Use:   "tonu <load-id>",
		Short: "File a truck-ordered-not-used claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tonu.ArrivalTime = time.Now().UTC()
			if arrived != "" {
				at, err := time.Parse(time.RFC3339, arrived)
				if err != nil {
					return errors.Wrap(err, "--arrived")
				}
				tonu.ArrivalTime = at
			}
			v, err := opts.client().FileTonu(cmd.Context(), args[0], tonu)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}
	tonuCmd.Flags().StringVarP(&tonu.Reason, "reason", "r", "", "why the load was not used")
	tonuCmd.Flags().StringVar(&arrived, "arrived", "", "arrival time, RFC3339 (now when empty)")
	tonuCmd.Flags().IntVar(&tonu.WaitMinutes, "wait", 0, "minutes waited on site")
	_ = tonuCmd.MarkFlagRequired("reason")

	cmd.AddCommand(
		createCmd, getCmd, listCmd, pendingCmd, remainingCmd,
		assignCmd, acceptCmd, verifyCmd,
		loadActionCommand(opts, "resend-sms", "resend-sms", "Send a fresh SMS code"),
		reasonCommand(opts, "reject", "Reject the load on behalf of the driver",
			func(c *client.Client, cmd *cobra.Command, id, reason string) (any, error) {
				return c.Reject(cmd.Context(), id, reason)
			}),
		loadActionCommand(opts, "release-request", "release-request", "Request a release from the shipper"),
		releaseConfirmCmd,
		loadActionCommand(opts, "pickup", "pickup", "Confirm the pickup"),
		tonuCmd,
		loadActionCommand(opts, "complete", "complete", "Mark the load delivered"),
		reasonCommand(opts, "cancel", "Cancel the load",
			func(c *client.Client, cmd *cobra.Command, id, reason string) (any, error) {
				return c.Cancel(cmd.Context(), id, reason)
			}),
	)
	return cmd
}

func buildDriverCommand(opts *rootOpts) *cobra.Command {
	cmd := &cobra.Command{Use: "driver", Short: "Manage drivers"}

	var name, phone string
	registerCmd := &cobra.Command{
		Use:   "register <driver-id>",
		Short: "Register a driver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := opts.client().RegisterDriver(cmd.Context(), args[0], name, phone)
			if err != nil {
				return err
			}
			return printJSON(cmd, d)
		},
	}
	registerCmd.Flags().StringVar(&name, "name", "", "display name")
	registerCmd.Flags().StringVar(&phone, "phone", "", "phone for SMS codes")
	_ = registerCmd.MarkFlagRequired("phone")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List drivers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := opts.client().ListDrivers(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, ds)
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <driver-id>",
		Short: "Show a driver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := opts.client().GetDriver(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, d)
		},
	}

	var (
		st       client.DriverStatusRequest
		lat, lng float64
	)
	statusCmd := &cobra.Command{
		Use:   "status <driver-id> <status>",
		Short: "Report driver status (EMPTY, EN_ROUTE_PICKUP, ...)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st.Status = strings.ToUpper(args[1])
			latSet, lngSet := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lng")
			if latSet != lngSet {
				return errors.New("--lat and --lng go together")
			}
			if latSet {
				st.Lat, st.Lng = &lat, &lng
			}
			d, err := opts.client().ReportDriverStatus(cmd.Context(), args[0], st)
			if err != nil {
				return err
			}
			return printJSON(cmd, d)
		},
	}
	statusCmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	statusCmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	statusCmd.Flags().StringVar(&st.Notes, "notes", "", "status notes")

	removeCmd := &cobra.Command{
		Use:   "remove <driver-id>",
		Short: "Deregister a driver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().DeregisterDriver(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"removed": args[0]})
		},
	}

	cmd.AddCommand(registerCmd, listCmd, getCmd, statusCmd, removeCmd)
	return cmd
}

func buildAlertCommand(opts *rootOpts) *cobra.Command {
	cmd := &cobra.Command{Use: "alert", Short: "Dispatcher alerts"}

	var (
		unacked   bool
		driverID  string
		alertType string
		limit     int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			as, err := opts.client().ListAlerts(cmd.Context(), unacked, driverID, strings.ToUpper(alertType), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, as)
		},
	}
	listCmd.Flags().BoolVarP(&unacked, "unacked", "u", false, "only unacknowledged")
	listCmd.Flags().StringVarP(&driverID, "driver", "d", "", "filter by driver")
	listCmd.Flags().StringVarP(&alertType, "type", "t", "", "filter by type")
	listCmd.Flags().IntVarP(&limit, "limit", "n", 0, "max rows")

	ackCmd := &cobra.Command{
		Use:   "ack <alert-id>",
		Short: "Acknowledge an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.client().AckAlert(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, a)
		},
	}

	cmd.AddCommand(listCmd, ackCmd)
	return cmd
}

func buildDispatchCommand(opts *rootOpts) *cobra.Command {
	cmd := &cobra.Command{Use: "dispatch", Short: "Pair unassigned loads with empty drivers"}

	suggestCmd := &cobra.Command{
		Use:   "suggest",
		Short: "Show FIFO load/driver pairs without assigning",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := opts.client().Suggestions(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, ps)
		},
	}

	var timeout time.Duration
	autoCmd := &cobra.Command{
		Use:   "auto",
		Short: "Assign every suggested pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().AutoDispatch(cmd.Context(), int(timeout/time.Second))
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	autoCmd.Flags().DurationVar(&timeout, "timeout", 0, "acceptance window per assignment (server default when 0)")

	cmd.AddCommand(suggestCmd, autoCmd)
	return cmd
}

func buildStatsCommand(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show runtime stats of dispatch-api",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.client().Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		},
	}
}
