package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"inventorybot/internal/catalog"
	"inventorybot/internal/config"
	"inventorybot/internal/crypto"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var envFiles []string

	cmd := &cobra.Command{
		Use:           "inventorybot",
		Short:         "Telegram bot that loads network inventory spreadsheets into regional tables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env, .env.local)")

	loadConfig := func() (*config.Configuration, error) {
		return config.Load(envFiles...)
	}

	cmd.AddCommand(newServeCmd(loadConfig))
	cmd.AddCommand(newIngestCmd(loadConfig))
	cmd.AddCommand(newCatalogCmd(loadConfig))
	cmd.AddCommand(newTokenCmd())
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

type configLoader func() (*config.Configuration, error)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot (long polling)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			token, err := crypto.ResolveToken(cfg.Telegram.Token)
			if err != nil {
				return fmt.Errorf("%w: set BOT_TOKEN or run `inventorybot token set`", err)
			}

			app := NewApp(cfg)
			if err := app.startup(); err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			defer app.shutdown(context.Background())

			return app.serve(ctx, token)
		},
	}
}

func newIngestCmd(load configLoader) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest --kind ftm|uplink --region <code> --site <code> [--sub-site <code>] --file <path.xlsx>",
		Short: "Load a spreadsheet without Telegram, using the same validation and upsert",
		RunE: func(cmd *cobra.Command, _ []string) error {
			required := []struct{ flag, value string }{
				{"--kind", opts.Kind}, {"--region", opts.Region}, {"--site", opts.Site}, {"--file", opts.File},
			}
			for _, r := range required {
				if strings.TrimSpace(r.value) == "" {
					return fmt.Errorf("%s is required", r.flag)
				}
			}
			cfg, err := load()
			if err != nil {
				return err
			}

			app := NewApp(cfg)
			if err := app.startup(); err != nil {
				return err
			}
			defer app.shutdown(context.Background())

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return app.ingestFile(ctx, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "inventory kind: ftm or uplink")
	cmd.Flags().StringVar(&opts.Region, "region", "", "region code")
	cmd.Flags().StringVar(&opts.Site, "site", "", "site code")
	cmd.Flags().StringVar(&opts.SubSite, "sub-site", "", "sub-site code, when the site has sub-sites")
	cmd.Flags().StringVar(&opts.File, "file", "", "path to the .xlsx file")
	return cmd
}

func newCatalogCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the region -> site -> sub-site catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			cat, err := catalog.Load(cfg.CatalogPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, region := range cat.Regions() {
				fmt.Fprintln(out, region)
				sites, _ := cat.SitesFor(region)
				for _, site := range sites {
					subs, _ := cat.SubSitesFor(site)
					if len(subs) == 0 {
						fmt.Fprintf(out, "  %s\n", site)
						continue
					}
					fmt.Fprintf(out, "  %s: %s\n", site, strings.Join(subs, ", "))
				}
			}
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the bot token stored in the system keychain",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set [token]",
		Short: "Store the bot token (reads stdin when no argument is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no token on stdin")
				}
				token = line
			}
			if err := crypto.SaveToken(token); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token stored.")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the stored bot token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := crypto.DeleteToken(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token removed.")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report whether a token is stored",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if crypto.IsTokenStored() {
				fmt.Fprintln(cmd.OutOrStdout(), "A token is stored.")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "No token stored.")
			}
			return nil
		},
	})
	return cmd
}
