// Package events holds address-event (AER) spike streams fed to the
// simulator as external input.
package events

import (
	"fmt"
	"sort"
)

// DefaultChannelShift is the bit offset of the channel field in a
// multi-channel address. Channel c, unit u encode as c<<shift | u.
const DefaultChannelShift = 16

// Event is one spike: the tick it occurs at and the unit address it targets.
type Event struct {
	Time uint64
	Addr uint64
}

// Stream is a list of events for one core or one combined channel set.
// It need not be sorted.
type Stream []Event

// Data maps a core id to its input stream. A nil Data means external events
// are absent and no event file is produced.
type Data map[int]Stream

// Clone returns a deep copy.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, s := range d {
		out[k] = append(Stream(nil), s...)
	}
	return out
}

// Cores returns the core ids with a stream, ascending.
func (d Data) Cores() []int {
	ids := make([]int, 0, len(d))
	for k := range d {
		ids = append(ids, k)
	}
	sort.Ints(ids)
	return ids
}

// Len returns the total number of events across all cores.
func (d Data) Len() int {
	n := 0
	for _, s := range d {
		n += len(s)
	}
	return n
}

// Build zips parallel time and address slices into a stream.
func Build(times, addrs []uint64) (Stream, error) {
	if len(times) != len(addrs) {
		return nil, fmt.Errorf("events: %d times but %d addresses", len(times), len(addrs))
	}
	s := make(Stream, len(times))
	for i := range times {
		s[i] = Event{Time: times[i], Addr: addrs[i]}
	}
	return s, nil
}

// Sorted returns a copy of s ordered by time. Events sharing a timestamp
// keep their original relative order.
func (s Stream) Sorted() Stream {
	out := append(Stream(nil), s...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// IsSorted reports whether s is non-decreasing in time.
func (s Stream) IsSorted() bool {
	return sort.SliceIsSorted(s, func(i, j int) bool { return s[i].Time < s[j].Time })
}

// Join encodes a channel and unit into one address.
func Join(channel, unit uint64, shift uint) uint64 {
	return channel<<shift | unit
}

// Split decodes an address into its channel and unit.
func Split(addr uint64, shift uint) (channel, unit uint64) {
	return addr >> shift, addr & AddrMask(shift)
}

// AddrMask returns the mask selecting the unit bits of an address.
func AddrMask(shift uint) uint64 {
	return 1<<shift - 1
}

// ExportAER merges one stream per channel into a single stream whose
// addresses carry the channel index. The result is time-sorted, with ties
// ordered by channel and then original position.
func ExportAER(channels []Stream, shift uint) (Stream, error) {
	var out Stream
	mask := AddrMask(shift)
	for ch, s := range channels {
		for _, ev := range s {
			if ev.Addr > mask {
				return nil, fmt.Errorf("events: address %d on channel %d exceeds %d-bit unit field", ev.Addr, ch, shift)
			}
			out = append(out, Event{Time: ev.Time, Addr: Join(uint64(ch), ev.Addr, shift)})
		}
	}
	return out.Sorted(), nil
}

// EachTick walks ticks 1..simTicks-1 over a time-sorted stream with a single
// forward cursor and calls fn with the events of each tick (possibly none).
// Events at tick 0 or at or after simTicks are never passed to fn.
func EachTick(sorted Stream, simTicks uint64, fn func(tick uint64, evs []Event) error) error {
	pos := 0
	for tick := uint64(1); tick < simTicks; tick++ {
		for pos < len(sorted) && sorted[pos].Time < tick {
			pos++
		}
		end := pos
		for end < len(sorted) && sorted[end].Time == tick {
			end++
		}
		if err := fn(tick, sorted[pos:end]); err != nil {
			return err
		}
		pos = end
	}
	return nil
}

// CountInRange returns how many events fall in [1, simTicks).
func (s Stream) CountInRange(simTicks uint64) int {
	n := 0
	for _, ev := range s {
		if ev.Time >= 1 && ev.Time < simTicks {
			n++
		}
	}
	return n
}
