package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"xbdm-loader/registry"
	"xbdm-loader/transport"
)

func newConsolesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consoles",
		Short: "List and publish consoles",
	}
	cmd.AddCommand(newConsolesListCmd(a))
	cmd.AddCommand(newConsolesRegisterCmd(a))
	return cmd
}

func newConsolesListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured and published consoles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			consoles, err := a.discover(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(consoles) == 0 {
				fmt.Fprintln(out, "No consoles configured.")
				return nil
			}
			fmt.Fprintf(out, "%-20s %-24s %s\n", "NAME", "ADDRESS", "WEIGHT")
			for _, c := range consoles {
				name := c.Name
				if a.cfg.Console != "" && (strings.EqualFold(c.Name, a.cfg.Console) || strings.EqualFold(c.Addr, a.cfg.Console)) {
					name += " *"
				}
				fmt.Fprintf(out, "%-20s %-24s %d\n", name, transport.WithDefaultPort(c.Addr), c.Weight)
			}
			return nil
		},
	}
}

func newConsolesRegisterCmd(a *app) *cobra.Command {
	var ttl int64
	cmd := &cobra.Command{
		Use:   "register <name> <addr>",
		Short: "Publish a console in etcd until interrupted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.etcd == nil {
				return errors.New("no etcd endpoints configured (etcd.endpoints or XBDM_ETCD_ENDPOINTS)")
			}
			if ttl < 1 {
				return fmt.Errorf("ttl must be at least 1 second, got %d", ttl)
			}
			console := registry.Console{Name: args[0], Addr: args[1]}

			ctx := cmd.Context()
			if err := a.etcd.Register(ctx, console, ttl); err != nil {
				return fmt.Errorf("failed to register %s: %w", console.Name, err)
			}
			a.logger.Info().Str("name", console.Name).Str("addr", console.Addr).Msg("console published, interrupt to withdraw")

			<-ctx.Done()
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discoverTimeout)
			defer cancel()
			if err := a.etcd.Deregister(ctx, console.Name); err != nil {
				a.logger.Warn().Err(err).Msg("console deregistration failed")
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&ttl, "ttl", 10, "lease TTL in seconds")
	return cmd
}
