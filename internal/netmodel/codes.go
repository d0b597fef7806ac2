// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netmodel

// Code is the stable integer error code taxonomy carried through setup
// (spec.md §7), attached to an *errors.Error via errors.Attr(err, "code", ...).
// Defined in netmodel (rather than netsetup) so both netmodel's
// objectivization and netsetup's reconciler can attach the same codes
// without an import cycle; netsetup re-exports these under its own names.
type Code int

const (
	CodeBadParams Code = iota + 1
	CodeBadAddr
	CodeBadBridge
	CodeBadBonding
	CodeBadNic
	CodeUsedBridge
	CodeUsedBond
	CodeUsedNic
	CodeFailedIfup
	CodeLostConnection
)

func (c Code) String() string {
	switch c {
	case CodeBadParams:
		return "BAD_PARAMS"
	case CodeBadAddr:
		return "BAD_ADDR"
	case CodeBadBridge:
		return "BAD_BRIDGE"
	case CodeBadBonding:
		return "BAD_BONDING"
	case CodeBadNic:
		return "BAD_NIC"
	case CodeUsedBridge:
		return "USED_BRIDGE"
	case CodeUsedBond:
		return "USED_BOND"
	case CodeUsedNic:
		return "USED_NIC"
	case CodeFailedIfup:
		return "FAILED_IFUP"
	case CodeLostConnection:
		return "LOST_CONNECTION"
	default:
		return "UNKNOWN"
	}
}
