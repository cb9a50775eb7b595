package vmm

import (
	"testing"

	"burrowos/kernel/mm"
)

func TestPageTableEntryFlags(t *testing.T) {
	var pte pageTableEntry

	pte.SetFlags(FlagPresent | FlagRW)

	if !pte.HasFlags(FlagPresent | FlagRW) {
		t.Fatal("expected entry to have FlagPresent and FlagRW set")
	}

	if pte.HasAnyFlag(FlagHugePage | FlagNoExecute) {
		t.Fatal("expected entry not to have FlagHugePage or FlagNoExecute set")
	}

	pte.ClearFlags(FlagRW)

	if pte.HasFlags(FlagRW) {
		t.Fatal("expected FlagRW to be cleared")
	}

	if !pte.HasFlags(FlagPresent) {
		t.Fatal("expected FlagPresent to survive clearing FlagRW")
	}
}

func TestPageTableEntryFrame(t *testing.T) {
	var (
		pte   pageTableEntry
		frame = mm.Frame(0x123456)
	)

	pte.SetFlags(FlagPresent | FlagNoExecute)
	pte.SetFrame(frame)

	if got := pte.Frame(); got != frame {
		t.Fatalf("expected entry frame to be %d; got %d", frame, got)
	}

	// Flag bits live outside the frame address mask
	if !pte.HasFlags(FlagPresent | FlagNoExecute) {
		t.Fatal("expected flags to survive SetFrame")
	}

	if exp, got := FlagPresent|FlagNoExecute, pte.Flags(); got != exp {
		t.Fatalf("expected Flags() to return 0x%x; got 0x%x", uintptr(exp), uintptr(got))
	}

	pte.SetFrame(mm.Frame(0x42))

	if exp, got := mm.Frame(0x42), pte.Frame(); got != exp {
		t.Fatalf("expected entry frame to be %d; got %d", exp, got)
	}
}

func TestPageTableEntryFor(t *testing.T) {
	var (
		table    pageTable
		virtAddr = uintptr(3<<39 | 7<<30 | 1<<21 | 511<<12)
	)

	specs := []struct {
		level    uint8
		expIndex int
	}{
		{0, 3},
		{1, 7},
		{2, 1},
		{3, 511},
	}

	for specIndex, spec := range specs {
		if exp, got := &table[spec.expIndex], table.entryFor(virtAddr, spec.level); got != exp {
			t.Errorf("[spec %d] expected entryFor to select index %d at level %d", specIndex, spec.expIndex, spec.level)
		}
	}
}

func TestPageTableEmpty(t *testing.T) {
	var table pageTable

	if !table.empty() {
		t.Fatal("expected a zeroed table to be empty")
	}

	// Entries without FlagPresent do not count as live mappings
	table[42].SetFrame(mm.Frame(123))

	if !table.empty() {
		t.Fatal("expected a table with only non-present entries to be empty")
	}

	table[42].SetFlags(FlagPresent)

	if table.empty() {
		t.Fatal("expected a table with a present entry not to be empty")
	}
}
