// cmd/kvcli is a CLI client for a dynamokv cluster, built with Cobra.
//
// Usage:
//
//	kvcli put mykey "hello world"  --peers :8080,:8081,:8082 --nreplicas 3
//	kvcli get mykey                --peers :8080,:8081,:8082 --nreplicas 3
//	kvcli append mykey " world"     --peers :8080,:8081,:8082 --nreplicas 3
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dynamokv/internal/clerk"
	"dynamokv/internal/clusterconfig"
	"dynamokv/internal/placement"
	"dynamokv/internal/rpcx"
)

var (
	peersFlag string
	nreplicas int
	timeout   time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "kvcli",
		Short: "CLI client for a dynamokv cluster",
	}

	root.PersistentFlags().StringVar(&peersFlag, "peers", ":8080",
		"comma-separated host:port of every server, in id order")
	root.PersistentFlags().IntVar(&nreplicas, "nreplicas", 3,
		"replication degree (must match the cluster's)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Second,
		"per-peer RPC timeout")

	root.AddCommand(getCmd(), putCmd(), appendCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClerk() (*clerk.Clerk, error) {
	addrs := strings.Split(peersFlag, ",")
	cfg, err := clusterconfig.New(len(addrs), nreplicas, addrs)
	if err != nil {
		return nil, err
	}
	table := placement.New(cfg.NServers, cfg.NReplicas)
	endpoints := make([]rpcx.Endpoint, cfg.NServers)
	for i, addr := range cfg.Addrs {
		endpoints[i] = rpcx.NewHTTPEndpoint(addr, i, timeout)
	}
	return clerk.New(endpoints, table), nil
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClerk()
			if err != nil {
				return err
			}
			fmt.Println(c.Get(args[0]))
			return nil
		},
	}
}

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a key-value pair, overwriting any prior value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClerk()
			if err != nil {
				return err
			}
			c.Put(args[0], args[1])
			return nil
		},
	}
}

func appendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "append <key> <value>",
		Short: "Append to a key's value and print the value from before the append",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClerk()
			if err != nil {
				return err
			}
			fmt.Println(c.Append(args[0], args[1]))
			return nil
		},
	}
}
