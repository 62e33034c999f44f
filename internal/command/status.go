package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/iliyamo/marketplace-auth/internal/auth"
	"github.com/iliyamo/marketplace-auth/internal/gateway"
	"github.com/iliyamo/marketplace-auth/internal/model"
)

func newStatus(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the resolved authentication state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, o, func(ctx context.Context, a *App) error {
				out := cmd.OutOrStdout()
				printView(out, a.Facade.View())
				if o.As != "" {
					ut, err := o.role("")
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s: authenticated=%t\n", ut, a.Role(ut).IsAuthenticated())
				}
				return nil
			})
		},
	}
}

func newWhoami(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the signed-in identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, o, func(ctx context.Context, a *App) error {
				return printIdentity(cmd.OutOrStdout(), a)
			})
		},
	}
}

func newWatch(o *Options) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream authentication changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, o, func(ctx context.Context, a *App) error {
				return watch(ctx, a, cmd.OutOrStdout(), interval)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "how often to re-check the session with the gateway (0 disables)")
	return cmd
}

// watch prints every façade change until interrupted.  Remote sign-outs
// arrive through the broker bridge when enabled; the periodic check
// refreshes expiring tokens and notices revoked sessions otherwise.
func watch(ctx context.Context, a *App, out io.Writer, interval time.Duration) error {
	changes := make(chan auth.View, 16)
	unsub := a.Facade.Subscribe(func(v auth.View) {
		select {
		case changes <- v:
		default:
		}
	})
	defer unsub()
	printView(out, a.Facade.View())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	g.Add(func() error {
		var tick <-chan time.Time
		if interval > 0 {
			t := time.NewTicker(interval)
			defer t.Stop()
			tick = t.C
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case v := <-changes:
				printView(out, v)
			case <-tick:
				if _, err := a.Gateway.GetSession(ctx); err != nil {
					a.Log.Warn("session check failed", "err", err)
				}
			}
		}
	}, func(error) { cancel() })
	if a.Config.EventsEnabled {
		bridge := gateway.NewBridge(a.Config.AMQPURL, a.Gateway, a.Log)
		g.Add(func() error {
			err := bridge.Run(ctx)
			if err != nil && ctx.Err() == nil {
				a.Log.Error("event bridge stopped", "err", err)
			}
			return err
		}, func(error) { cancel() })
	}

	switch err := g.Run().(type) {
	case run.SignalError:
		a.Log.Info(fmt.Sprintf("received %v, stopping", err.Signal))
		return nil
	default:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

func printView(w io.Writer, v auth.View) {
	ut := string(v.UserType)
	if ut == "" {
		ut = "none"
	}
	fmt.Fprintf(w, "user_type=%s authenticated=%t loading=%t\n", ut, v.IsAuthenticated, v.Loading)
}

func printIdentity(w io.Writer, a *App) error {
	id, ok := a.Identity()
	if !ok {
		return errNotSignedIn
	}
	fmt.Fprintf(w, "%s %s <%s>\n", id.Type(), id.DisplayName(), id.GetEmail())
	fmt.Fprintf(w, "  user id: %s\n", id.GetUserID())
	if p, ok := id.(*model.Provider); ok {
		fmt.Fprintf(w, "  role: %s (%s)\n", p.Role, p.VerificationStatus)
		if p.Business != nil {
			fmt.Fprintf(w, "  business: %s\n", p.Business.Name)
			for _, l := range p.BusinessLocations {
				fmt.Fprintf(w, "    - %s, %s\n", l.Name, l.City)
			}
		}
	}
	return nil
}
