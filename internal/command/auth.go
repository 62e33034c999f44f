package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/iliyamo/marketplace-auth/internal/model"
)

func newLogin(o *Options) *cobra.Command {
	var creds model.Credentials

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			ut, err := o.role(model.UserTypeCustomer)
			if err != nil {
				return err
			}
			if creds.Password == "" {
				if creds.Password, err = readSecret(cmd, "Password: "); err != nil {
					return err
				}
			}
			return withApp(cmd, o, func(ctx context.Context, a *App) error {
				if err := a.Role(ut).SignIn(ctx, creds); err != nil {
					return explain(err, ut)
				}
				return printIdentity(cmd.OutOrStdout(), a)
			})
		},
	}
	cmd.Flags().StringVar(&creds.Email, "email", "", "account email")
	cmd.Flags().StringVar(&creds.Password, "password", "", "password (read from stdin when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSignup(o *Options) *cobra.Command {
	var reg model.Registration
	var role string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			ut, err := o.role(model.UserTypeCustomer)
			if err != nil {
				return err
			}
			reg.Role = model.ProviderRole(role)
			if reg.Password == "" {
				if reg.Password, err = readSecret(cmd, "Password: "); err != nil {
					return err
				}
			}
			return withApp(cmd, o, func(ctx context.Context, a *App) error {
				if err := a.Role(ut).SignUp(ctx, reg); err != nil {
					return explain(err, ut)
				}
				return printIdentity(cmd.OutOrStdout(), a)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&reg.Email, "email", "", "account email")
	f.StringVar(&reg.Password, "password", "", "password (read from stdin when empty)")
	f.StringVar(&reg.FirstName, "first-name", "", "first name")
	f.StringVar(&reg.LastName, "last-name", "", "last name")
	f.StringVar(&reg.Phone, "phone", "", "phone number")
	f.StringVar(&role, "role", "", "provider role: owner, dispatcher or provider")
	f.StringVar(&reg.BusinessName, "business", "", "business name (owners)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newOAuth(o *Options) *cobra.Command {
	var creds model.OAuthCredentials

	cmd := &cobra.Command{
		Use:   "oauth",
		Short: "Sign in with an ID token from a federated identity provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			ut, err := o.role(model.UserTypeCustomer)
			if err != nil {
				return err
			}
			if creds.IDToken == "" {
				if creds.IDToken, err = readSecret(cmd, "ID token: "); err != nil {
					return err
				}
			}
			return withApp(cmd, o, func(ctx context.Context, a *App) error {
				if err := a.Role(ut).SignInWithOAuth(ctx, creds); err != nil {
					return explain(err, ut)
				}
				return printIdentity(cmd.OutOrStdout(), a)
			})
		},
	}
	cmd.Flags().StringVar(&creds.Provider, "provider", "oidc", "identity provider name")
	cmd.Flags().StringVar(&creds.IDToken, "id-token", "", "ID token (read from stdin when empty)")
	return cmd
}

func newLogout(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out of both roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, o, func(ctx context.Context, a *App) error {
				a.Facade.SignOut(ctx)
				fmt.Fprintln(cmd.OutOrStdout(), "signed out")
				return nil
			})
		},
	}
}

func newRefresh(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rotate the session tokens and reload the profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, o, func(ctx context.Context, a *App) error {
				sess, err := a.Gateway.Refresh(ctx)
				if err != nil {
					return explain(err, a.Facade.UserType())
				}
				if sess == nil {
					return errNotSignedIn
				}
				if ut := a.Facade.UserType(); ut != "" {
					a.Role(ut).RefreshUser(ctx)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "token refreshed, expires %s\n", sess.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
				return nil
			})
		},
	}
}

var errNotSignedIn = errors.New("not signed in")

// withApp opens the stack for the duration of fn.
func withApp(cmd *cobra.Command, o *Options, fn func(ctx context.Context, a *App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := open(ctx, o, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// readSecret prompts without echo on a terminal and reads one line
// from stdin otherwise.
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	r := cmd.InOrStdin()
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		if len(b) == 0 {
			return "", errors.New("no secret given")
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no secret given on stdin")
	}
	return line, nil
}
