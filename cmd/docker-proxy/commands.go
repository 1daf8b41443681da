package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/auto-dns/docker-proxy/internal/domain"
	"github.com/auto-dns/docker-proxy/internal/relay"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start a relay for the scope and keep it running until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a application) error {
			if err := a.Run(ctx); err != nil {
				return fmt.Errorf("app run error: %w", err)
			}
			return nil
		})
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Start a relay and GET a URL that may name a container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a application) error {
			return a.Fetch(ctx, args[0], cmd.OutOrStdout())
		})
	},
}

var dialCmd = &cobra.Command{
	Use:   "dial <host:port>",
	Short: "Start a relay and connect stdin/stdout to a container port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a application) error {
			return a.Dial(ctx, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		})
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <host>",
	Short: "Print the address of a container by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a application) error {
			addr, ok, err := a.Directory().LookupAddressForHost(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return domain.NewNotFoundError(args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), addr)
			return nil
		})
	},
}

var reverseCmd = &cobra.Command{
	Use:   "reverse <ip>",
	Short: "Print the container name for an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a application) error {
			host, ok, err := a.Directory().LookupHostForAddress(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return domain.NewNotFoundError(args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), host)
			return nil
		})
	},
}

var routeRelay string

var routeCmd = &cobra.Command{
	Use:   "route <dest>",
	Short: "Show whether connections to dest would go through the relay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a application) error {
			decision, err := a.Selector(routeRelay).SelectRoute(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), decision)
			return nil
		})
	},
}

var indexPublished bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Print every hostname and address in the scope",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a application) error {
			if indexPublished {
				entries, err := a.PublishedEntries(ctx)
				if err != nil {
					return err
				}
				return writeEntries(cmd.OutOrStdout(), entries)
			}
			idx, err := a.Directory().Snapshot(ctx)
			if err != nil {
				return err
			}
			return writeEntries(cmd.OutOrStdout(), idx.Entries())
		})
	},
}

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Print a compose file that runs the relay on the scope's network",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(_ context.Context, a application) error {
			out, err := a.ComposeFile()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		})
	},
}

func init() {
	upCmd.Flags().Bool("publish", false, "publish the host index to etcd while running")
	if err := viper.BindPFlag("etcd.enabled", upCmd.Flags().Lookup("publish")); err != nil {
		panic(fmt.Sprintf("bind flag publish: %v", err))
	}
	routeCmd.Flags().StringVar(&routeRelay, "relay", fmt.Sprintf("127.0.0.1:%d", relay.DefaultPort), "relay address reported for container destinations")
	indexCmd.Flags().BoolVar(&indexPublished, "published", false, "read the index published to etcd instead of the runtime")
}

func writeEntries(out io.Writer, entries []domain.IndexEntry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tADDRESS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\n", e.Host, e.Address)
	}
	return w.Flush()
}
