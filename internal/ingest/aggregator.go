// Package ingest turns real-time feed traffic into graph points: 1-second
// bars aggregated from ticks, bars read off a websocket, and a fan-out that
// hands one sample stream to several consumers.
package ingest

import (
	"context"
	"log"
	"sync"
	"time"

	"putup-system/internal/graph"
	"putup-system/internal/model"
)

// Sample is one point routed to the putup of Security.
type Sample struct {
	Security model.Security
	Point    *graph.Point
}

// barState holds the in-progress bar of one security in the current second.
type barState struct {
	bucket int64 // unix second
	first  model.Tick
	high   model.Price
	low    model.Price
	close  model.Price
	volume int64
	count  int
	notion int64 // sum of price*size, for the WAP
}

func (s *barState) point() *graph.Point {
	wap := s.close
	if s.volume > 0 {
		wap = model.Price(s.notion / s.volume)
	}
	return graph.NewBarPoint(graph.KindRealTimeBar, 0, s.bucket*1000,
		s.first.Price, s.high, s.low, s.close, wap, s.volume, s.count, false)
}

// Aggregator builds 1-second real-time bar points from a tick stream. When a
// second passes without a tick for a security it has seen, it emits a
// synthetic copy of the last point advanced by one second.
type Aggregator struct {
	mu     sync.Mutex
	states map[string]*barState
	last   map[string]Sample // last emitted sample per security

	flushInterval time.Duration

	// MaxFill bounds the gap, in seconds, that synthetic points fill. Longer
	// silences (a closed market) are not filled.
	MaxFill int64

	// Now is the clock used for periodic flushes.
	Now func() time.Time

	// Optional hooks
	OnDroppedTick func()
	OnSynthetic   func()
}

// NewAggregator creates an aggregator filling gaps of up to a minute.
func NewAggregator() *Aggregator {
	return &Aggregator{
		states:        make(map[string]*barState),
		last:          make(map[string]Sample),
		flushInterval: 100 * time.Millisecond,
		MaxFill:       60,
		Now:           time.Now,
	}
}

// Run consumes ticks until ctx ends or tickCh closes, sending finalized and
// synthetic samples to out.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, out chan<- Sample) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flushAll(out)
			return

		case tick, ok := <-tickCh:
			if !ok {
				a.flushAll(out)
				return
			}
			a.processTick(tick, out)

		case <-ticker.C:
			a.flushBefore(a.Now().Unix(), out)
		}
	}
}

// processTick folds one tick into its security's bar.
func (a *Aggregator) processTick(tick model.Tick, out chan<- Sample) {
	if tick.Side != "" && tick.Side != model.SideLast {
		// quotes do not form bars; pass them through as bid/ask points
		a.send(Sample{Security: tick.Security, Point: graph.FromTick(tick, 0)}, out)
		return
	}
	bucket := tick.TickTS.Unix()
	key := tick.Security.Key()

	a.mu.Lock()
	state, exists := a.states[key]
	late := exists && bucket < state.bucket
	if prev, ok := a.last[key]; ok && !exists && bucket*1000 <= prev.Point.Timestamp {
		// that second was already emitted
		late = true
	}
	if late {
		dropped := a.OnDroppedTick
		a.mu.Unlock()
		if dropped != nil {
			dropped()
		}
		return
	}

	var emit []Sample
	if exists && bucket > state.bucket {
		emit = append(emit, a.finalize(key, state))
		exists = false
	}
	if !exists {
		emit = append(emit, a.fill(key, bucket)...)
		a.states[key] = &barState{
			bucket: bucket,
			first:  tick,
			high:   tick.Price,
			low:    tick.Price,
			close:  tick.Price,
			volume: tick.Size,
			count:  1,
			notion: int64(tick.Price) * tick.Size,
		}
	} else {
		if tick.Price > state.high {
			state.high = tick.Price
		}
		if tick.Price < state.low {
			state.low = tick.Price
		}
		state.close = tick.Price
		state.volume += tick.Size
		state.count++
		state.notion += int64(tick.Price) * tick.Size
	}
	a.mu.Unlock()

	a.emit(emit, out)
}

// finalize turns state into a sample and forgets it. Caller holds mu.
func (a *Aggregator) finalize(key string, state *barState) Sample {
	s := Sample{Security: state.first.Security, Point: state.point()}
	a.last[key] = s
	delete(a.states, key)
	return s
}

// fill returns synthetic samples for every silent second between the last
// emitted point of key and bucket. Caller holds mu.
func (a *Aggregator) fill(key string, bucket int64) []Sample {
	prev, ok := a.last[key]
	if !ok {
		return nil
	}
	from := prev.Point.Timestamp/1000 + 1
	if from >= bucket || bucket-from > a.MaxFill {
		return nil
	}
	var out []Sample
	p := prev.Point
	for s := from; s < bucket; s++ {
		p = p.Advance(time.Second)
		out = append(out, Sample{Security: prev.Security, Point: p})
	}
	a.last[key] = out[len(out)-1]
	return out
}

// flushBefore finalizes bars of seconds before now and fills silent
// seconds up to now.
func (a *Aggregator) flushBefore(now int64, out chan<- Sample) {
	var emit []Sample
	a.mu.Lock()
	for key, state := range a.states {
		if state.bucket < now {
			emit = append(emit, a.finalize(key, state))
		}
	}
	for key := range a.last {
		if _, open := a.states[key]; !open {
			emit = append(emit, a.fill(key, now)...)
		}
	}
	a.mu.Unlock()
	a.emit(emit, out)
}

// flushAll finalizes every open bar.
func (a *Aggregator) flushAll(out chan<- Sample) {
	var emit []Sample
	a.mu.Lock()
	for key, state := range a.states {
		emit = append(emit, a.finalize(key, state))
	}
	a.mu.Unlock()
	a.emit(emit, out)
}

func (a *Aggregator) emit(samples []Sample, out chan<- Sample) {
	for _, s := range samples {
		if s.Point.Kind == graph.KindSynthetic && a.OnSynthetic != nil {
			a.OnSynthetic()
		}
		a.send(s, out)
	}
}

// send is non-blocking so a stalled consumer cannot stall the feed.
func (a *Aggregator) send(s Sample, out chan<- Sample) {
	select {
	case out <- s:
	default:
		log.Printf("[ingest] sample channel full, dropping %s %s", s.Security.Key(), s.Point)
	}
}
