package events

import (
	"reflect"
	"testing"
)

func TestSortedIsStable(t *testing.T) {
	s := Stream{{Time: 3, Addr: 1}, {Time: 1, Addr: 9}, {Time: 3, Addr: 0}, {Time: 1, Addr: 2}}
	got := s.Sorted()
	want := Stream{{Time: 1, Addr: 9}, {Time: 1, Addr: 2}, {Time: 3, Addr: 1}, {Time: 3, Addr: 0}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Sorted = %v, want %v", got, want)
	}
	if s[0].Time != 3 {
		t.Error("Sorted mutated its receiver")
	}
	if !got.IsSorted() || s.IsSorted() {
		t.Error("IsSorted disagrees with order")
	}
}

func TestEachTickCoverage(t *testing.T) {
	s := Stream{
		{Time: 0, Addr: 1}, // dropped
		{Time: 2, Addr: 5},
		{Time: 2, Addr: 6},
		{Time: 4, Addr: 7},
		{Time: 5, Addr: 8}, // == simTicks, dropped
		{Time: 9, Addr: 8}, // beyond, dropped
	}
	var ticks []uint64
	total := 0
	err := EachTick(s, 5, func(tick uint64, evs []Event) error {
		ticks = append(ticks, tick)
		total += len(evs)
		for _, ev := range evs {
			if ev.Time != tick {
				t.Errorf("tick %d got event at %d", tick, ev.Time)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("EachTick failed: %v", err)
	}
	if !reflect.DeepEqual(ticks, []uint64{1, 2, 3, 4}) {
		t.Errorf("ticks = %v", ticks)
	}
	if total != 3 || s.CountInRange(5) != 3 {
		t.Errorf("total = %d, CountInRange = %d, want 3", total, s.CountInRange(5))
	}
}

func TestEachTickZeroOrOneTicks(t *testing.T) {
	for _, simTicks := range []uint64{0, 1} {
		calls := 0
		_ = EachTick(Stream{{Time: 0, Addr: 1}}, simTicks, func(uint64, []Event) error {
			calls++
			return nil
		})
		if calls != 0 {
			t.Errorf("simTicks=%d: %d calls, want 0", simTicks, calls)
		}
	}
}

func TestJoinSplit(t *testing.T) {
	addr := Join(3, 42, DefaultChannelShift)
	if addr != 3<<16|42 {
		t.Fatalf("Join = %d", addr)
	}
	ch, unit := Split(addr, DefaultChannelShift)
	if ch != 3 || unit != 42 {
		t.Errorf("Split = (%d, %d), want (3, 42)", ch, unit)
	}
}

func TestExportAER(t *testing.T) {
	a := Stream{{Time: 1, Addr: 5}, {Time: 2, Addr: 6}, {Time: 3, Addr: 7}}
	b := Stream{{Time: 2, Addr: 3}, {Time: 5, Addr: 9}, {Time: 1, Addr: 5}}
	got, err := ExportAER([]Stream{a, b}, 8)
	if err != nil {
		t.Fatalf("ExportAER failed: %v", err)
	}
	want := Stream{
		{Time: 1, Addr: 5},
		{Time: 1, Addr: 1<<8 | 5},
		{Time: 2, Addr: 6},
		{Time: 2, Addr: 1<<8 | 3},
		{Time: 3, Addr: 7},
		{Time: 5, Addr: 1<<8 | 9},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExportAER = %v, want %v", got, want)
	}

	if _, err := ExportAER([]Stream{{{Time: 1, Addr: 256}}}, 8); err == nil {
		t.Error("expected overflow error for address wider than unit field")
	}
}

func TestBuild(t *testing.T) {
	s, err := Build([]uint64{1, 2}, []uint64{10, 20})
	if err != nil || len(s) != 2 || s[1].Addr != 20 {
		t.Fatalf("Build = %v, %v", s, err)
	}
	if _, err := Build([]uint64{1}, nil); err == nil {
		t.Error("expected length mismatch error")
	}
}

func TestDataHelpers(t *testing.T) {
	d := Data{2: {{Time: 1}}, 0: {{Time: 1}, {Time: 2}}}
	if !reflect.DeepEqual(d.Cores(), []int{0, 2}) {
		t.Errorf("Cores = %v", d.Cores())
	}
	if d.Len() != 3 {
		t.Errorf("Len = %d", d.Len())
	}
	c := d.Clone()
	c[0][0].Addr = 99
	if d[0][0].Addr == 99 {
		t.Error("Clone shares backing arrays")
	}
	var absent Data
	if absent.Clone() != nil {
		t.Error("Clone of nil Data should be nil")
	}
}
