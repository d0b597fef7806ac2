// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// dump-bonding-options probes the running kernel's bonding module and
// writes the per-mode option defaults and name-to-numeric tables C6
// produces (spec.md §4.6, §6), grounded on original_source's
// lib/vdsm/tool/dump_bonding_opts.py @expose('dump-bonding-options').
//
// Usage:
//
//	dump-bonding-options
package main

import (
	"fmt"
	"os"

	"grimm.is/vnetd/internal/bonding"
	"grimm.is/vnetd/internal/install"
	"grimm.is/vnetd/internal/logging"
)

func main() {
	if len(os.Args) > 1 {
		fmt.Fprintln(os.Stderr, "dump-bonding-options takes no arguments")
		os.Exit(1)
	}

	logger := logging.New(logging.DefaultConfig())
	mapper := bonding.New(logger)

	defaults, name2numeric, err := mapper.DumpBondingOptions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dump-bonding-options: %v\n", err)
		os.Exit(1)
	}

	if err := writeJSON(install.GetBondingDefaultsFile(), defaults); err != nil {
		fmt.Fprintf(os.Stderr, "dump-bonding-options: write defaults: %v\n", err)
		os.Exit(1)
	}
	if err := writeJSON(install.GetBondingName2NumericFile(), name2numeric); err != nil {
		fmt.Fprintf(os.Stderr, "dump-bonding-options: write name2numeric: %v\n", err)
		os.Exit(1)
	}
}

// writeJSON emits path atomically (write to a sibling .tmp file, then
// rename over it), matching runningconfig.Store.writeJSON so the two
// bonding JSON artifacts never appear half-written (spec.md §4.6).
func writeJSON(path string, v any) error {
	data, err := bonding.MarshalSorted(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
