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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"driftdb/internal/engine"
	"driftdb/internal/query"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open an interactive shell on a local data directory",
	Long: `Open the DriftDB shell against the configured data directory. The shell
embeds the engine directly; do not point it at a directory a running server
owns.`,
	RunE: runShell,
}

const shellHelp = `Commands:
  get <key>                      print a value
  set <key> <json> [ttl-secs]    write a value (JSON or bare string)
  del <key>                      delete a key
  keys                           list keys
  where <field> <op> <json>      query, e.g. where age >= 21
  count                          store size
  stats                          engine counters
  compact                        snapshot + truncate WAL
  help                           this help
  exit                           leave the shell`

func runShell(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng := engine.New(cfg)
	if err := eng.Init(); err != nil {
		return err
	}
	defer eng.Close()
	runner := query.NewRunner(eng)

	rl, err := readline.New("driftdb> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Printf("DriftDB shell v%s — %s (%d keys)\ntype 'help' for commands\n",
		Version, cfg.BasePath(), eng.Len())

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF or readline.ErrInterrupt
			return nil
		}
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "exit", "quit":
			return nil
		case "help":
			fmt.Println(shellHelp)
		case "get":
			if len(fields) != 2 {
				fmt.Println("usage: get <key>")
				continue
			}
			value, ok, err := eng.Get(fields[1])
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			if !ok {
				fmt.Println("(not found)")
				continue
			}
			printJSON(value)
		case "set":
			if len(fields) < 3 {
				fmt.Println("usage: set <key> <json> [ttl-secs]")
				continue
			}
			value := parseShellValue(fields[2])
			var opts []engine.SetOption
			if len(fields) >= 4 {
				secs, err := strconv.Atoi(fields[3])
				if err != nil {
					fmt.Println("bad ttl:", fields[3])
					continue
				}
				opts = append(opts, engine.WithTTL(time.Duration(secs)*time.Second))
			}
			if err := eng.Set(fields[1], value, opts...); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("ok")
		case "del":
			if len(fields) != 2 {
				fmt.Println("usage: del <key>")
				continue
			}
			removed, err := eng.Delete(fields[1])
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("deleted:", removed)
		case "keys":
			all, err := eng.All()
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for key := range all {
				fmt.Println(key)
			}
		case "where":
			if len(fields) != 4 {
				fmt.Println("usage: where <field> <op> <json>")
				continue
			}
			res, err := runner.Where(fields[1], fields[2], parseShellValue(fields[3]))
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, m := range res.Matches() {
				fmt.Printf("%s\t", m.Key)
				printJSON(m.Value)
			}
			fmt.Printf("(%d matches)\n", res.Count())
		case "count":
			fmt.Println(eng.Len())
		case "stats":
			printJSON(eng.Stats())
		case "compact":
			if err := eng.Compact(); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("ok")
		default:
			fmt.Printf("unknown command '%s'; type 'help'\n", fields[0])
		}
	}
}

// parseShellValue decodes the argument as JSON, falling back to a bare
// string so `set name Alice` works without quoting.
func parseShellValue(raw string) interface{} {
	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}
	return value
}

func printJSON(value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		fmt.Println(value)
		return
	}
	fmt.Println(string(data))
}
