/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
mDNS Node Discovery
===================

DriftDB nodes can advertise themselves over mDNS/DNS-SD for
zero-configuration setup on local networks: a primary lists candidate
followers without static peer configuration, and operators inspect a LAN
for running nodes.

Each node publishes the service "_driftdb._tcp" with TXT records carrying
its node id and replication role. Discovery is advisory: the replication
topology itself remains the explicitly configured follower list.
*/
package replication

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"driftdb/internal/logging"
)

// mdnsService is the DNS-SD service type DriftDB advertises.
const mdnsService = "_driftdb._tcp"

// DiscoveredNode is one node found on the local network.
type DiscoveredNode struct {
	NodeID string `json:"nodeId"`
	Role   string `json:"role"`
	Addr   string `json:"addr"`
	Port   int    `json:"port"`
}

// Advertiser publishes this node's presence over mDNS until Shutdown.
type Advertiser struct {
	server *mdns.Server
	log    *logging.Logger
}

// Advertise starts announcing the node on the local network.
func Advertise(nodeID string, role Role, port int) (*Advertiser, error) {
	txt := []string{
		"node_id=" + nodeID,
		"role=" + string(role),
	}
	service, err := mdns.NewMDNSService(nodeID, mdnsService, "", "", port, nil, txt)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}

	log := logging.NewLogger("discovery")
	log.Info("advertising node", "node", nodeID, "role", string(role), "port", port)
	return &Advertiser{server: server, log: log}, nil
}

// Shutdown stops the advertisement.
func (a *Advertiser) Shutdown() error {
	return a.server.Shutdown()
}

// Discover queries the local network for DriftDB nodes for up to timeout.
func Discover(timeout time.Duration) ([]DiscoveredNode, error) {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	entriesCh := make(chan *mdns.ServiceEntry, 16)
	done := make(chan []DiscoveredNode, 1)
	go func() {
		var nodes []DiscoveredNode
		for entry := range entriesCh {
			if node, ok := parseServiceEntry(entry); ok {
				nodes = append(nodes, node)
			}
		}
		done <- nodes
	}()

	params := &mdns.QueryParam{
		Service: mdnsService,
		Timeout: timeout,
		Entries: entriesCh,
	}
	err := mdns.Query(params)
	close(entriesCh)
	nodes := <-done
	if err != nil {
		return nodes, fmt.Errorf("mDNS query failed: %w", err)
	}
	return nodes, nil
}

// parseServiceEntry extracts a DiscoveredNode from an mDNS answer.
func parseServiceEntry(entry *mdns.ServiceEntry) (DiscoveredNode, bool) {
	if !strings.Contains(entry.Name, mdnsService) {
		return DiscoveredNode{}, false
	}
	node := DiscoveredNode{Port: entry.Port}
	if entry.AddrV4 != nil {
		node.Addr = entry.AddrV4.String()
	} else if entry.AddrV6 != nil {
		node.Addr = entry.AddrV6.String()
	}
	for _, field := range entry.InfoFields {
		switch {
		case strings.HasPrefix(field, "node_id="):
			node.NodeID = strings.TrimPrefix(field, "node_id=")
		case strings.HasPrefix(field, "role="):
			node.Role = strings.TrimPrefix(field, "role=")
		}
	}
	return node, node.NodeID != ""
}
