package codec

import (
	"fmt"
	"io"

	"github.com/nvandessel/nsatio/internal/binpack"
	"github.com/nvandessel/nsatio/internal/events"
)

// StreamStats summarizes an encoded event stream.
type StreamStats struct {
	Ticks   int
	Events  int
	Dropped int
}

// EncodeEventStream writes one core's external input as a per-tick
// run-length stream: for every tick 1..simTicks-1 a (tick, count) pair of
// uint64 followed by count uint64 addresses. Ticks without events are still
// written so the simulator advances one record per tick.
func EncodeEventStream(w io.Writer, s events.Stream, simTicks uint64) (StreamStats, error) {
	return encodeTicks(w, s, simTicks, func(enc *binpack.Encoder, ev events.Event) {
		enc.U64(ev.Addr)
	})
}

// EncodeSingleStream writes the combined stream of all cores. Each event is
// emitted as a (channel, unit) pair split from its address at shift.
func EncodeSingleStream(w io.Writer, s events.Stream, simTicks uint64, shift uint) (StreamStats, error) {
	return encodeTicks(w, s, simTicks, func(enc *binpack.Encoder, ev events.Event) {
		ch, unit := events.Split(ev.Addr, shift)
		enc.U64(ch)
		enc.U64(unit)
	})
}

func encodeTicks(w io.Writer, s events.Stream, simTicks uint64, emit func(*binpack.Encoder, events.Event)) (StreamStats, error) {
	if !s.IsSorted() {
		s = s.Sorted()
	}
	enc := binpack.NewEncoder(w)
	var st StreamStats
	err := events.EachTick(s, simTicks, func(tick uint64, evs []events.Event) error {
		enc.U64(tick)
		enc.U64(uint64(len(evs)))
		for _, ev := range evs {
			emit(enc, ev)
		}
		st.Ticks++
		st.Events += len(evs)
		return enc.Err()
	})
	if err == nil {
		err = enc.Err()
	}
	if err != nil {
		return StreamStats{}, fmt.Errorf("encoding event stream: %w", err)
	}
	st.Dropped = len(s) - st.Events
	return st, nil
}

// TickRecord is one decoded tick of an event stream. Channels is only set
// for single-stream files.
type TickRecord struct {
	Tick     uint64
	Addrs    []uint64
	Channels []uint64
}

// DecodeEventStream reads an event stream file. single selects the
// (channel, unit) pair layout.
func DecodeEventStream(r io.Reader, single bool) ([]TickRecord, error) {
	dec := binpack.NewDecoder(r, "ext_events")
	var out []TickRecord
	var last uint64
	for !dec.AtEOF() {
		rec := TickRecord{Tick: dec.U64()}
		n := count(dec, dec.U64())
		if dec.Err() != nil {
			break
		}
		if rec.Tick <= last {
			dec.Mismatch("tick %d follows tick %d", rec.Tick, last)
			break
		}
		last = rec.Tick
		for i := 0; i < n && dec.Err() == nil; i++ {
			if single {
				rec.Channels = append(rec.Channels, dec.U64())
			}
			rec.Addrs = append(rec.Addrs, dec.U64())
		}
		out = append(out, rec)
	}
	if err := dec.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Flatten turns decoded tick records back into an event stream. Single
// stream records have their channel folded into the address at shift.
func Flatten(recs []TickRecord, shift uint) events.Stream {
	var s events.Stream
	for _, rec := range recs {
		for i, a := range rec.Addrs {
			if rec.Channels != nil {
				a = events.Join(rec.Channels[i], a, shift)
			}
			s = append(s, events.Event{Time: rec.Tick, Addr: a})
		}
	}
	return s
}
