package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"onvifsimple/gover/backend/app"
	"onvifsimple/gover/backend/config"
	"onvifsimple/gover/backend/httpapi"
	"onvifsimple/gover/backend/render"
	"onvifsimple/gover/backend/service/auth"
	"onvifsimple/gover/backend/service/onvif"
)

var (
	configFile string
	cfg        config.Config
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Printf("onvif: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "onvif_simple_server [service]",
		Short: "ONVIF SOAP endpoint for simple cameras",
		Long: `Reads one SOAP request from stdin and writes the CGI response to stdout.

The service (device_service, media_service, media2_service, ptz_service,
deviceio_service) is taken from the executable name, so the binary can be
symlinked once per service, or given as the only argument.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			config.LoadDotEnv()
			loaded, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			service := serviceName(os.Args[0])
			if len(args) == 1 {
				service = args[0]
			}
			application, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer application.Close()
			return application.HandleOneShot(cmd.Context(), service, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (JSON or YAML), defaults to $ONVIF_CONFIG_FILE")
	root.AddCommand(newServeCmd(), newSignCmd(), newProbeCmd(), newHashTokenCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve every service over HTTP at /onvif/{service}",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := app.New(cfg)
			if err != nil {
				return fmt.Errorf("init app failed: %w", err)
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- application.Run()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				log.Printf("received signal: %s", sig.String())
				ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
				defer cancel()
				if err := application.Shutdown(ctx); err != nil {
					return fmt.Errorf("shutdown failed: %w", err)
				}
			case err := <-errCh:
				_ = application.Close()
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server stopped with error: %w", err)
				}
			}
			return nil
		},
	}
}

func newSignCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Wrap a body fragment from stdin in an envelope with a UsernameToken digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" {
				username = cfg.Username
			}
			if password == "" {
				password = cfg.Password
			}
			body, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), app.MaxRequestSize))
			if err != nil {
				return err
			}
			header := ""
			if username != "" || password != "" {
				token, err := auth.NewToken(username, password, time.Now())
				if err != nil {
					return err
				}
				if header, err = token.Header(); err != nil {
					return err
				}
			}
			out, err := render.Request(header, strings.TrimSpace(string(body)))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username, defaults to the configured one")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password, defaults to the configured one")
	return cmd
}

func newProbeCmd() *cobra.Command {
	var username, password string
	req := onvif.CommandRequest{}
	cmd := &cobra.Command{
		Use:   "probe <device_service url> [action]",
		Short: "Exercise a running endpoint: status, presets, left, right, up, down, zoom_in, zoom_out, stop, home, absolute, relative, goto_preset, set_preset",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				username = cfg.Username
			}
			if password == "" {
				password = cfg.Password
			}
			client := onvif.New(username, password)
			req.Endpoint = args[0]
			var result any
			if len(args) == 1 {
				caps, err := client.GetCapabilities(cmd.Context(), req.Endpoint)
				if err != nil {
					return err
				}
				profiles, err := client.GetProfiles(cmd.Context(), caps.MediaXAddr)
				if err != nil {
					return err
				}
				result = map[string]any{"capabilities": caps, "profiles": profiles}
			} else {
				req.Action = args[1]
				out, err := client.ExecuteCommand(cmd.Context(), req)
				if err != nil {
					return err
				}
				result = out
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(result)
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username, defaults to the configured one")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password, defaults to the configured one")
	cmd.Flags().StringVar(&req.ProfileToken, "profile", "", "profile token, defaults to the first profile")
	cmd.Flags().Float64Var(&req.Speed, "speed", 0.3, "continuous move speed")
	cmd.Flags().IntVar(&req.DurationMS, "duration-ms", 700, "continuous move duration before stop")
	cmd.Flags().Float64Var(&req.Pan, "pan", 0, "pan for absolute or relative moves")
	cmd.Flags().Float64Var(&req.Tilt, "tilt", 0, "tilt for absolute or relative moves")
	cmd.Flags().Float64Var(&req.Zoom, "zoom", 0, "zoom for absolute or relative moves")
	cmd.Flags().StringVar(&req.PresetToken, "preset", "", "preset token for goto_preset")
	cmd.Flags().StringVar(&req.PresetName, "preset-name", "", "preset name for set_preset")
	return cmd
}

func newHashTokenCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-token [token]",
		Short: "Print the bcrypt hash to use as adminTokenHash; the token is read from stdin when not given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				raw, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 4096))
				if err != nil {
					return err
				}
				token = string(raw)
			}
			hash, err := httpapi.HashAdminToken(token, cost)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func serviceName(argv0 string) string {
	base := filepath.Base(argv0)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
