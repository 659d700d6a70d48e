// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command xan is a thin illustrative front end over the streaming row
// pipeline, the moonblade expression language and the aggregation
// engine: just enough subcommand surface (select, behead, stats,
// groupby, sort, join) to give those subsystems a caller. Argument
// parsing, full subcommand coverage and progress/TTY niceties are a
// declared non-goal of the system this wires; see SPEC_FULL.md.
package main

import (
	"fmt"
	"log"
	"os"
)

var errlog = log.New(os.Stderr, "", 0)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "select":
		err = runSelect(os.Args[2:])
	case "behead":
		err = runBehead(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "groupby":
		err = runGroupby(os.Args[2:])
	case "sort":
		err = runSort(os.Args[2:])
	case "join":
		err = runJoin(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		err = fmt.Errorf("unknown subcommand %q", os.Args[1])
	}

	if err != nil {
		errlog.Println(err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `xan <command> [flags] [args]

commands:
  select   <selector> [file]             project columns, or evaluate an expression list
  behead   [file]                        drop the header row
  stats    <agg-program> [file]          run an aggregation program over the whole stream
  groupby  <selector> <agg-program> [file]   grouped aggregation, with optional -total
  sort     <selector> [file]             sort rows by a column selection
  join     <variant> <left> <lsel> <right> <rsel>   equi-join two CSV files`)
}
