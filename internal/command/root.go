// Package command implements the authctl command tree.  Every command
// builds the full client stack (session cache, gateway client, both role
// contexts and the façade), runs one action against it and tears it down.
package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iliyamo/marketplace-auth/internal/model"
)

// Options are the persistent flags shared by every command.  Empty
// values fall back to the environment.
type Options struct {
	As         string
	GatewayURL string
	APIURL     string
	Cache      string
	LogLevel   string
}

// role returns the user type selected with --as, or fallback.
func (o *Options) role(fallback model.UserType) (model.UserType, error) {
	if o.As == "" {
		return fallback, nil
	}
	ut := model.UserType(o.As)
	if !ut.Valid() {
		return "", fmt.Errorf("--as must be %q or %q, got %q", model.UserTypeCustomer, model.UserTypeProvider, o.As)
	}
	return ut, nil
}

// NewRootCmd returns the authctl root command.
func NewRootCmd() *cobra.Command {
	o := &Options{}

	cmd := &cobra.Command{
		Use:           "authctl",
		Short:         "Sign in to the marketplace as a customer or a provider",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&o.As, "as", "", "role to act as: customer or provider")
	pf.StringVar(&o.GatewayURL, "gateway-url", "", "auth gateway base URL (default $GATEWAY_URL)")
	pf.StringVar(&o.APIURL, "api-url", "", "data API base URL (default $API_URL)")
	pf.StringVar(&o.Cache, "cache", "", "session cache backend: memory, redis or keyring (default $CACHE_BACKEND)")
	pf.StringVar(&o.LogLevel, "log-level", "", "log level (default $LOG_LEVEL)")

	cmd.AddCommand(
		newLogin(o),
		newSignup(o),
		newOAuth(o),
		newLogout(o),
		newRefresh(o),
		newStatus(o),
		newWhoami(o),
		newWatch(o),
		newData(o),
	)
	return cmd
}
