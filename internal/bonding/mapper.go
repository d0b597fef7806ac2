// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package bonding probes kernel-advertised bonding option defaults and
// name-to-numeric value tables (spec.md §4.6), grounded line-for-line on
// original_source's lib/vdsm/network/link/bond/sysfs_options_mapper.py.
package bonding

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/fvbommel/sortorder"

	"grimm.is/vnetd/internal/logging"
)

const (
	bondingMasters   = "/sys/class/net/bonding_masters"
	bondOptFmt       = "/sys/class/net/%s/bonding/%s"
	maxBondingModes  = 6
	probeBondNameFmt = "vnetd-probe%d"
)

// excludedBondingEntries are sysfs files under bonding/ that are not
// genuine options (mirrors sysfs_options.EXCLUDED_BONDING_ENTRIES).
var excludedBondingEntries = map[string]bool{
	"slaves":       true,
	"ad_num_ports": true,
	"active_slave": true,
	"queue_id":     true,
}

// Mapper probes a live kernel for bonding option defaults.
type Mapper struct {
	logger *logging.Logger
}

func New(logger *logging.Logger) *Mapper {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Mapper{logger: logger.WithComponent("bonding")}
}

// DumpBondingOptions probes the kernel and returns the two JSON artifacts
// spec.md §4.6 describes: per-mode default options, and per-mode
// {option: {name -> numeric}} maps. Callers write these atomically to
// install.GetBondingDefaultsFile()/GetBondingName2NumericFile().
func (m *Mapper) DumpBondingOptions() (defaults map[string]map[string]string, name2numeric map[string]map[string]map[string]string, err error) {
	defaults, err = m.defaultBondingOptions()
	if err != nil {
		return nil, nil, fmt.Errorf("bonding: probe defaults: %w", err)
	}
	name2numeric, err = m.bondingOptionsName2Numeric()
	if err != nil {
		return nil, nil, fmt.Errorf("bonding: probe name2numeric: %w", err)
	}
	return defaults, name2numeric, nil
}

// MarshalSorted renders v as JSON with map keys naturally sorted
// (fvbommel/sortorder, so "2" sorts before "10", unlike a plain
// lexicographic sort) for map[string]string and
// map[string]map[string]string; any other type goes through
// json.MarshalIndent, whose map keys are in byte order. Either way the
// output is byte-identical across runs (testable property 11).
func MarshalSorted(v any) ([]byte, error) {
	return marshalSortedIndent(v, "")
}

func marshalSortedIndent(v any, prefix string) ([]byte, error) {
	switch t := v.(type) {
	case map[string]map[string]string:
		keys := sortedKeys(t)
		var b strings.Builder
		b.WriteString("{\n")
		for i, k := range keys {
			inner, err := marshalSortedIndent(t[k], prefix+"    ")
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&b, "%s    %q: %s", prefix, k, inner)
			if i < len(keys)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s}", prefix)
		return []byte(b.String()), nil
	case map[string]string:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Sort(sortorder.Natural(keys))
		var b strings.Builder
		b.WriteString("{\n")
		for i, k := range keys {
			val, _ := json.Marshal(t[k])
			fmt.Fprintf(&b, "%s    %q: %s", prefix, k, val)
			if i < len(keys)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s}", prefix)
		return []byte(b.String()), nil
	default:
		return json.MarshalIndent(v, prefix, "    ")
	}
}

func sortedKeys(m map[string]map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Sort(sortorder.Natural(keys))
	return keys
}

// defaultBondingOptions implements _get_default_bonding_options: create a
// probe bond once to read its default mode, then recreate it per mode
// 0..6 (per-mode recreation avoids the EBUSY flipping an existing bond's
// mode randomly triggers) and read its filtered properties.
func (m *Mapper) defaultBondingOptions() (map[string]map[string]string, error) {
	bondName := fmt.Sprintf(probeBondNameFmt, os.Getpid())

	var defaultMode string
	if err := withBondDevice(bondName, "", func() error {
		props, err := bondProperties(bondName, []string{"mode"})
		if err != nil {
			return err
		}
		defaultMode = props["mode"]
		return nil
	}); err != nil {
		return nil, err
	}

	opts := make(map[string]map[string]string)
	for mode := 0; mode <= maxBondingModes; mode++ {
		modeStr := fmt.Sprintf("%d", mode)
		err := withBondDevice(bondName, modeStr, func() error {
			props, err := bondPropertiesFiltered(bondName)
			if err != nil {
				return err
			}
			props["mode"] = defaultMode
			opts[modeStr] = props
			return nil
		})
		if err != nil {
			m.logger.Warn("failed to probe bonding mode defaults", "mode", modeStr, "error", err)
			continue
		}
	}
	return opts, nil
}

// bondingOptionsName2Numeric implements _get_bonding_options_name2numeric.
func (m *Mapper) bondingOptionsName2Numeric() (map[string]map[string]map[string]string, error) {
	bondName := fmt.Sprintf(probeBondNameFmt, os.Getpid()+1)

	opts := make(map[string]map[string]map[string]string)
	for mode := 0; mode <= maxBondingModes; mode++ {
		modeStr := fmt.Sprintf("%d", mode)
		err := withBondDevice(bondName, modeStr, func() error {
			scanned, err := bondOptsName2NumericFiltered(bondName)
			if err != nil {
				return err
			}
			opts[modeStr] = scanned
			return nil
		})
		if err != nil {
			m.logger.Warn("failed to probe bonding mode name2numeric", "mode", modeStr, "error", err)
			continue
		}
	}
	return opts, nil
}

// withBondDevice mirrors the Python _bond_device context manager: create
// the bond via bonding_masters, optionally set its mode, run fn, then
// always tear it down.
func withBondDevice(bondName, mode string, fn func() error) (err error) {
	if writeErr := writeBondingMasters("+" + bondName); writeErr != nil {
		return fmt.Errorf("create probe bond %s: %w", bondName, writeErr)
	}
	defer func() {
		if destroyErr := writeBondingMasters("-" + bondName); destroyErr != nil && err == nil {
			err = fmt.Errorf("destroy probe bond %s: %w", bondName, destroyErr)
		}
	}()

	if mode != "" {
		if modeErr := os.WriteFile(fmt.Sprintf(bondOptFmt, bondName, "mode"), []byte(mode), 0o644); modeErr != nil {
			return fmt.Errorf("set mode %s on probe bond %s: %w", mode, bondName, modeErr)
		}
	}
	return fn()
}

func writeBondingMasters(entry string) error {
	f, err := os.OpenFile(bondingMasters, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(entry)
	return err
}

// bondProperties reads the named option files under
// /sys/class/net/<bond>/bonding/ and returns their first
// whitespace-separated token.
func bondProperties(bondName string, names []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, name := range names {
		val, err := readBondOptFirstField(bondName, name)
		if err != nil {
			return nil, err
		}
		out[name] = val
	}
	return out, nil
}

func bondPropertiesFiltered(bondName string) (map[string]string, error) {
	dir := filepath.Join("/sys/class/net", bondName, "bonding")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || excludedBondingEntries[e.Name()] {
			continue
		}
		val, err := readBondOptFirstField(bondName, e.Name())
		if err != nil {
			continue
		}
		out[e.Name()] = val
	}
	return out, nil
}

func readBondOptFirstField(bondName, opt string) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf(bondOptFmt, bondName, opt))
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], nil
}

// bondOptsName2NumericFiltered implements _bond_opts_name2numeric_filtered:
// for every option file with exactly two whitespace-separated elements
// (name, numeric) — excluding "mode" itself and non-option entries —
// scan numeric values 0..31.
func bondOptsName2NumericFiltered(bondName string) (map[string]map[string]string, error) {
	dir := filepath.Join("/sys/class/net", bondName, "bonding")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	result := make(map[string]map[string]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "mode" || excludedBondingEntries[name] {
			continue
		}
		path := filepath.Join(dir, name)
		elements, err := bondOptsReadElements(path)
		if err != nil || len(elements) != 2 {
			continue
		}
		vals, err := bondOptsName2NumericScan(path)
		if err != nil {
			continue
		}
		result[name] = vals
	}
	return result, nil
}

// bondOptsReadElements reads the whitespace-separated fields of opt_path's
// current value, e.g. "balance-rr 0".
func bondOptsReadElements(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Fields(string(data)), nil
}

// bondOptsName2NumericScan implements _bond_opts_name2numeric_scan:
// open the option file unbuffered for writing and, for numeric values
// 0..31, write the value and read back the resulting (name, numeric)
// pair; EINVAL/EPERM/EACCES ends the scan for this option.
func bondOptsName2NumericScan(optPath string) (map[string]string, error) {
	f, err := os.OpenFile(optPath, os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vals := make(map[string]string)
	for numeric := 0; numeric < 32; numeric++ {
		name, numericVal, ok, err := bondOptsName2NumericGetVal(f, optPath, numeric)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		vals[name] = numericVal
	}
	return vals, nil
}

func bondOptsName2NumericGetVal(w io.Writer, optPath string, numeric int) (name, numericVal string, ok bool, err error) {
	_, writeErr := w.Write([]byte(fmt.Sprintf("%d", numeric)))
	if writeErr != nil {
		if errors.Is(writeErr, syscall.EINVAL) || errors.Is(writeErr, syscall.EPERM) || errors.Is(writeErr, syscall.EACCES) {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("opt[%s], numeric_val[%d]: %w", optPath, numeric, writeErr)
	}

	elements, err := bondOptsReadElements(optPath)
	if err != nil {
		return "", "", false, err
	}
	if len(elements) != 2 {
		return "", "", false, nil
	}
	return elements[0], elements[1], true, nil
}
