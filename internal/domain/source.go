package domain

import (
	"fmt"
	"strings"
)

// Slot names one (repository, revision) materialization target.
type Slot string

// Benchmark flow slots
const (
	SlotTrunkBinding  Slot = "trunk-binding"
	SlotTrunkCore     Slot = "trunk-core"
	SlotBranchBinding Slot = "branch-binding"
	SlotBranchCore    Slot = "branch-core"
)

// Build-and-test flow slots
const (
	SlotBinding Slot = "binding"
	SlotCore    Slot = "core"
)

// IsBinding reports whether the slot holds a binding checkout
func (s Slot) IsBinding() bool {
	return strings.HasSuffix(string(s), "binding")
}

// String returns the string representation
func (s Slot) String() string {
	return string(s)
}

// MaterializedSource is a working tree produced by source acquisition.
type MaterializedSource struct {
	Slot Slot
	Dir  string
	Repo string
	Ref  string
	// Commit is the object the working tree was checked out at.
	Commit string
}

// String formats the source for logs
func (m MaterializedSource) String() string {
	return fmt.Sprintf("%s@%s (%s)", m.Slot, m.Ref, m.Dir)
}

// RevisionSet holds the four refs a run needs. It is resolved once per run.
type RevisionSet struct {
	TrunkBindingRef  string `json:"trunk_binding_ref"`
	TrunkCoreRef     string `json:"trunk_core_ref"`
	BranchBindingRef string `json:"branch_binding_ref"`
	BranchCoreRef    string `json:"branch_core_ref"`

	// BranchBindingRepo optionally points the branch binding at a fork.
	BranchBindingRepo string `json:"branch_binding_repo,omitempty"`
}

// Validate checks that every ref resolved to a non-empty identifier
func (r RevisionSet) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"trunk binding ref", r.TrunkBindingRef},
		{"trunk core ref", r.TrunkCoreRef},
		{"branch binding ref", r.BranchBindingRef},
		{"branch core ref", r.BranchCoreRef},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%s resolved to an empty identifier", f.name)
		}
	}
	return nil
}
