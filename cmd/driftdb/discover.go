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

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"driftdb/internal/replication"
)

var (
	flagDiscoverWait time.Duration

	discoverCmd = &cobra.Command{
		Use:   "discover",
		Short: "Find DriftDB nodes on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := replication.Discover(flagDiscoverWait)
			if err != nil {
				return err
			}
			if len(nodes) == 0 {
				fmt.Println("no nodes found")
				return nil
			}
			for _, node := range nodes {
				fmt.Printf("%-36s  %-10s  %s:%d\n", node.NodeID, node.Role, node.Addr, node.Port)
			}
			return nil
		},
	}
)

func init() {
	discoverCmd.Flags().DurationVar(&flagDiscoverWait, "wait", 2*time.Second, "how long to listen for answers")
}
