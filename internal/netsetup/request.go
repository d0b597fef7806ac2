// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package netsetup implements the setup reconciler (C4), spec.md §4.4 —
// the central algorithm that diffs a requested description of networks
// and bondings against kernel state, orders remove/edit/add operations,
// drives the netmodel/configurator packages, performs a connectivity
// check, and triggers rollback on failure.
package netsetup

import (
	"grimm.is/vnetd/internal/netmodel"
)

// Code re-exports netmodel.Code under the name spec.md §7 uses
// ("stable integer codes carried through setup").
type Code = netmodel.Code

const (
	CodeBadParams      = netmodel.CodeBadParams
	CodeBadAddr        = netmodel.CodeBadAddr
	CodeBadBridge      = netmodel.CodeBadBridge
	CodeBadBonding     = netmodel.CodeBadBonding
	CodeBadNic         = netmodel.CodeBadNic
	CodeUsedBridge     = netmodel.CodeUsedBridge
	CodeUsedBond       = netmodel.CodeUsedBond
	CodeUsedNic        = netmodel.CodeUsedNic
	CodeFailedIfup     = netmodel.CodeFailedIfup
	CodeLostConnection = netmodel.CodeLostConnection
)

// BondRequest is the flat attrs bag for one entry of the setupNetworks
// `bondings` map (spec.md §6).
type BondRequest struct {
	Name    string
	Nics    []string
	Options string
	Remove  bool
}

// Options mirrors spec.md §6's `options` bag.
type Options struct {
	ConnectivityCheck   bool
	ConnectivityTimeout int // seconds, default 4
	InRollback          bool
}

// DefaultOptions returns connectivityCheck=true, connectivityTimeout=4
// per spec.md §6.
func DefaultOptions() Options {
	return Options{ConnectivityCheck: true, ConnectivityTimeout: 4}
}

// Request is the full setupNetworks entry-point argument.
type Request struct {
	Networks map[string]*netmodel.NetworkRequest
	Bondings map[string]*BondRequest
	Options  Options
}

// HookDict is the shape before/after hook functions receive and return
// (spec.md §6: "before_network_setup(dict) -> dict").
type HookDict struct {
	Networks map[string]*netmodel.NetworkRequest
	Bondings map[string]*BondRequest
	Options  Options
}

// BeforeHookFunc is the out-of-scope pre-hook contract (spec.md §1, §4.4
// phase 1): it may return a mutated HookDict, or an error to abort setup
// before any mutation.
type BeforeHookFunc func(HookDict) (HookDict, error)

// AfterHookFunc is the out-of-scope post-hook contract (spec.md §4.4
// phase 4).
type AfterHookFunc func(HookDict)
