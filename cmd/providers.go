package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaharia-lab/dispatchd/internal/config"
	"github.com/shaharia-lab/dispatchd/internal/notification"
	"github.com/shaharia-lab/dispatchd/internal/storage"
)

const providerTestTimeout = 30 * time.Second

// NewProvidersCmd returns the "providers" command group.
func NewProvidersCmd(cfg *config.AppConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect and test the configured channel providers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List providers and whether they are enabled",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := loadRegistry(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			printProviders(cmd.OutOrStdout(), registry.Providers())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "test [type...]",
		Short: "Check connectivity of enabled providers",
		Long: `Check connectivity of the providers for the given channel types
(email, sms, push, webhook). With no arguments every enabled provider is tested.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := loadRegistry(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return runProviderTests(cmd.Context(), cmd.OutOrStdout(), registry, args)
		},
	})

	return cmd
}

func printProviders(out io.Writer, providers []notification.ProviderInfo) {
	r := newRenderer(out)
	typeCol := r.NewStyle().Bold(true).Width(9)
	nameCol := r.NewStyle().Width(9)
	on := r.NewStyle().Foreground(okColor)
	off := r.NewStyle().Faint(true)

	for _, p := range providers {
		state := off.Render("disabled")
		if p.Enabled {
			state = on.Render("enabled")
		}
		fmt.Fprintln(out, typeCol.Render(string(p.Type))+nameCol.Render(p.Name)+state)
	}
}

func runProviderTests(ctx context.Context, out io.Writer, registry *notification.Registry, args []string) error {
	types := make([]storage.NotificationType, 0, len(args))
	for _, a := range args {
		types = append(types, storage.NotificationType(a))
	}
	if len(types) == 0 {
		for _, p := range registry.Providers() {
			if p.Enabled {
				types = append(types, p.Type)
			}
		}
	}
	if len(types) == 0 {
		fmt.Fprintln(out, "No providers are enabled.")
		return nil
	}

	r := newRenderer(out)
	pass := r.NewStyle().Foreground(okColor).Bold(true)
	fail := r.NewStyle().Foreground(errColor).Bold(true)

	var failed []string
	for _, t := range types {
		provider, err := registry.Lookup(t)
		if err != nil {
			fmt.Fprintf(out, "%s %s: %v\n", fail.Render("FAIL"), t, err)
			failed = append(failed, string(t))
			continue
		}

		tctx, cancel := context.WithTimeout(ctx, providerTestTimeout)
		res := provider.TestConnection(tctx)
		cancel()

		if res.Success {
			fmt.Fprintf(out, "%s %s (%s): %s\n", pass.Render("OK"), t, provider.Name(), res.Message)
			continue
		}
		fmt.Fprintf(out, "%s %s (%s): %s\n", fail.Render("FAIL"), t, provider.Name(), res.Error)
		failed = append(failed, string(t))
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d provider(s) failed the connection test: %v", len(failed), failed)
	}
	return nil
}
