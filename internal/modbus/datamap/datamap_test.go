package datamap

import "testing"

func TestSetDataThenDataRoundTrip(t *testing.T) {
	m := New(10, 10, 10, 10)
	changed, err := m.SetData(Coils, 3, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected change")
	}
	v, err := m.Data(Coils, 3)
	if err != nil || v != 1 {
		t.Fatalf("got v=%d err=%v", v, err)
	}
}

func TestSetDataNoChangeReportsFalse(t *testing.T) {
	m := New(10, 0, 0, 0)
	if _, err := m.SetData(Coils, 0, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	changed, err := m.SetData(Coils, 0, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Fatal("expected no change when writing the same value twice")
	}
}

func TestReadOnlyTableRejectsWrite(t *testing.T) {
	m := New(0, 5, 0, 0)
	if _, err := m.SetData(DiscreteInputs, 0, 1); err == nil {
		t.Fatal("expected error writing to a read-only table")
	}
}

func TestOutOfRangeAddress(t *testing.T) {
	m := New(5, 0, 0, 0)
	if _, err := m.Data(Coils, 10); err == nil {
		t.Fatal("expected out-of-range error")
	}
	if _, err := m.SetData(Coils, 10, 1); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestUnconfiguredTable(t *testing.T) {
	m := New(5, 0, 0, 0)
	if _, err := m.Data(HoldingRegisters, 0); err == nil {
		t.Fatal("expected error for unconfigured table")
	}
}

func TestRangeReadWrite(t *testing.T) {
	m := New(0, 0, 10, 0)
	changed, err := m.SetDataRange(HoldingRegisters, 2, []uint16{1, 2, 3})
	if err != nil || !changed {
		t.Fatalf("got changed=%v err=%v", changed, err)
	}
	got, err := m.DataRange(HoldingRegisters, 2, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range []uint16{1, 2, 3} {
		if got[i] != v {
			t.Fatalf("index %d: got %d want %d", i, got[i], v)
		}
	}
}

func TestBitHelpers(t *testing.T) {
	m := New(8, 0, 0, 0)
	if _, err := m.SetBit(Coils, 1, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := m.Bit(Coils, 1)
	if err != nil || !v {
		t.Fatalf("got v=%v err=%v", v, err)
	}
}
