// Package clusterconfig holds the small, static piece of configuration the
// rest of dynamokv is built on: how many servers exist, how many replicas a
// key is written to, and where to reach each server.
//
// This is the Go-native split of the reference implementation's single
// "cfg" object (which bundled numeric parameters together with direct
// in-process server references): Config stays pure data, while the
// capability to actually reach a peer lives in rpcx.Endpoint.
package clusterconfig

import "fmt"

// Config describes a fixed-size dynamokv cluster.
type Config struct {
	// NServers is the total number of servers in the cluster.
	NServers int
	// NReplicas is the replication degree (preference-list length).
	// NReplicas == 0 disables fan-out and read-repair (degenerate
	// single-replica mode, per spec §6).
	NReplicas int
	// Addrs holds one network address per server id, in order. It is used
	// only by the HTTP transport (internal/rpcx); in-process deployments
	// and tests can leave it nil and wire rpcx.LocalEndpoint directly.
	Addrs []string
}

// New validates and returns a Config. nreplicas must not exceed nservers —
// the spec leaves larger values undefined and Design Notes §9 directs
// implementers to reject them at construction.
func New(nservers, nreplicas int, addrs []string) (*Config, error) {
	if nservers <= 0 {
		return nil, fmt.Errorf("clusterconfig: nservers must be positive, got %d", nservers)
	}
	if nreplicas < 0 || nreplicas > nservers {
		return nil, fmt.Errorf("clusterconfig: nreplicas (%d) must be in [0, nservers=%d]", nreplicas, nservers)
	}
	if addrs != nil && len(addrs) != nservers {
		return nil, fmt.Errorf("clusterconfig: got %d addrs, want nservers=%d", len(addrs), nservers)
	}
	return &Config{NServers: nservers, NReplicas: nreplicas, Addrs: addrs}, nil
}
