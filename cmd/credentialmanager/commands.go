package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nkiryanov/credentialmanager/internal/controller"
	"github.com/nkiryanov/credentialmanager/internal/models"
)

const SecretKeyBytesLen = 32

func newRootCmd(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "credentialmanager",
		Short:         "Keeps OAuth2 credentials fresh and serves them over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cfg.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(cfg),
		newLoginCmd(cfg),
		newListCmd(cfg),
		newAppTokenCmd(cfg),
		newRefreshCmd(cfg),
		newGenSecretCmd(),
	)
	return root
}

// withApp opens app for the command and closes it when fn returns
func withApp(ctx context.Context, cfg *Config, factory controllerFactory, fn func(*App) error) (err error) {
	app, err := NewApp(ctx, cfg, factory)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, app.Close())
	}()
	return fn(app)
}

func newServeCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API and refresh stored credentials in background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), cfg, newRefreshingController, func(app *App) error {
				return app.Serve(cmd.Context())
			})
		},
	}
}

func newLoginCmd(cfg *Config) *cobra.Command {
	var scopes []string

	cmd := &cobra.Command{
		Use:   "login <provider>",
		Short: "Authorize user with the device flow and store the credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			return withApp(ctx, cfg, newDeviceFlowController, func(app *App) error {
				p, err := app.manager.OAuth2ProviderByName(args[0])
				if err != nil {
					return err
				}

				done := make(chan *models.DeviceTokenResponse, 1)
				auth, err := app.manager.Controller().StartDeviceAuthorizationGrant(ctx, p, scopes, func(r *models.DeviceTokenResponse) {
					done <- r
				})
				if err != nil {
					return err
				}

				fmt.Fprintf(out, "Open %s and enter code %s\n", auth.VerificationURI, auth.UserCode)
				if complete := auth.CompleteURI(); complete != "" {
					fmt.Fprintf(out, "Or open %s\n", complete)
				}

				var r *models.DeviceTokenResponse
				select {
				case r = <-done:
				case <-ctx.Done():
					return ctx.Err()
				}

				switch {
				case r == nil:
					return errors.New("login interrupted")
				case r.Credential == nil:
					return fmt.Errorf("login failed: %s", r.Error)
				}

				if err := app.manager.Save(ctx); err != nil {
					return err
				}
				fmt.Fprintf(out, "Logged in as %s\n", displayUser(r.Credential))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scopes to request")
	return cmd
}

func newListCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), cfg, newDummyController, func(app *App) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "PROVIDER\tUSER\tSCOPES\tEXPIRES")
				for _, c := range app.manager.Credentials() {
					oc, ok := c.(*models.OAuth2Credential)
					if !ok {
						fmt.Fprintf(w, "%s\t%s\t\t\n", c.ProviderName(), c.OwnerID())
						continue
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", oc.IdentityProvider, displayUser(oc), strings.Join(oc.Scopes, " "), displayExpiry(oc))
				}
				return w.Flush()
			})
		},
	}
}

func newAppTokenCmd(cfg *Config) *cobra.Command {
	var scopes []string

	cmd := &cobra.Command{
		Use:   "app-token <provider>",
		Short: "Get client credentials token and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, cfg, newDummyController, func(app *App) error {
				p, err := app.manager.OAuth2ProviderByName(args[0])
				if err != nil {
					return err
				}
				c, err := p.AppAccessToken(ctx, strings.Join(scopes, " "))
				if err != nil {
					return err
				}
				if err := app.manager.AddCredential(ctx, p.Name(), c); err != nil {
					return err
				}
				if err := app.manager.Save(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Application token of %s stored, expires %s\n", p.Name(), displayExpiry(c))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scopes to request")
	return cmd
}

func newRefreshCmd(cfg *Config) *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh stored credentials once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			return withApp(ctx, cfg, newDummyController, func(app *App) error {
				var errs []error
				refreshed := 0
				for _, c := range app.manager.Credentials() {
					if provider != "" && !strings.EqualFold(c.ProviderName(), provider) {
						continue
					}
					if err := controller.Refresh(ctx, app.manager, c); err != nil {
						errs = append(errs, fmt.Errorf("%s %s: %w", c.ProviderName(), c.OwnerID(), err))
						continue
					}
					refreshed++
				}

				if err := app.manager.Save(ctx); err != nil {
					return err
				}
				fmt.Fprintf(out, "Refreshed %d credential(s)\n", refreshed)
				return errors.Join(errs...)
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Refresh only credentials of the provider")
	return cmd
}

func newGenSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gensecret",
		Short: "Print random secret key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b := make([]byte, SecretKeyBytesLen)
			if _, err := rand.Read(b); err != nil {
				return fmt.Errorf("error while generating secret key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(b))
			return nil
		},
	}
}

func displayUser(c *models.OAuth2Credential) string {
	switch {
	case c.UserName != "":
		return c.UserName
	case c.UserID != "":
		return c.UserID
	default:
		return "-"
	}
}

func displayExpiry(c *models.OAuth2Credential) string {
	expiresAt := c.ExpiresAt()
	switch {
	case expiresAt.Equal(models.NeverExpiresAt):
		return "never"
	case c.IsExpired():
		return "expired"
	default:
		return expiresAt.Format(time.RFC3339)
	}
}
