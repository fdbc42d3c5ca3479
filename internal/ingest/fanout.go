package ingest

import (
	"context"
	"log"
	"sync"

	"putup-system/internal/graph"
	"putup-system/internal/model"
)

type subscriber struct {
	name   string
	filter func(Sample) bool
	ch     chan Sample
}

// FanOut broadcasts samples from one input channel to N subscribers. If a
// subscriber's channel is full the sample is dropped for that subscriber
// only.
type FanOut struct {
	mu      sync.RWMutex
	outputs []*subscriber
	bufSize int

	// OnDrop is called with the subscriber name when a sample is dropped.
	OnDrop func(name string)
}

// NewFanOut creates a FanOut with the given buffer size per subscriber.
func NewFanOut(outputBufferSize int) *FanOut {
	return &FanOut{bufSize: outputBufferSize}
}

// Subscribe returns a channel receiving every sample.
func (f *FanOut) Subscribe(name string) <-chan Sample {
	return f.subscribe(name, nil)
}

// SubscribeSecurity returns a channel receiving the samples of sec only.
func (f *FanOut) SubscribeSecurity(name string, sec model.Security) <-chan Sample {
	key := sec.Key()
	return f.subscribe(name, func(s Sample) bool { return s.Security.Key() == key })
}

func (f *FanOut) subscribe(name string, filter func(Sample) bool) <-chan Sample {
	sub := &subscriber{name: name, filter: filter, ch: make(chan Sample, f.bufSize)}
	f.mu.Lock()
	f.outputs = append(f.outputs, sub)
	f.mu.Unlock()
	return sub.ch
}

// Run reads input and fans out until ctx ends or input closes, then closes
// every subscriber channel.
func (f *FanOut) Run(ctx context.Context, input <-chan Sample) {
	defer func() {
		f.mu.RLock()
		for _, sub := range f.outputs {
			close(sub.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for _, sub := range f.outputs {
				if sub.filter != nil && !sub.filter(s) {
					continue
				}
				select {
				case sub.ch <- s:
				default:
					if f.OnDrop != nil {
						f.OnDrop(sub.name)
					} else {
						log.Printf("[ingest] subscriber %s full, dropping %s", sub.name, s.Point)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is the (length, capacity) of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, sub := range f.outputs {
		stats[i] = ChannelStat{Name: sub.name, Len: len(sub.ch), Cap: cap(sub.ch)}
	}
	return stats
}

// Points strips the security off a sample stream. The returned channel
// closes when in closes or ctx ends.
func Points(ctx context.Context, in <-chan Sample) <-chan *graph.Point {
	out := make(chan *graph.Point, cap(in))
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- s.Point:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
