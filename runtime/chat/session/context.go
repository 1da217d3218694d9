package session

import (
	"goa.design/inlet/runtime/chat/interrupt"
	"goa.design/inlet/runtime/chat/stream"
	"goa.design/inlet/runtime/chat/timeline"
)

type (
	// streamingContext accumulates one request's collected state. It is
	// owned exclusively by the controller loop; nothing outside the loop
	// ever sees it directly, only Snapshot copies.
	streamingContext struct {
		events  []stream.Event
		seen    map[string]struct{}
		sources []stream.SourcePayload
		images  []stream.ImagePayload
		imgIdx  map[int]struct{}
		frame   *stream.BrowserStreamPayload
	}

	// Snapshot is the immutable view published to the presentation layer
	// and, terminally, handed to persistence. Slices are copies; mutating
	// them never affects the stream loop.
	Snapshot struct {
		// Content is the merged transcript at publish time.
		Content string
		// Groups is the visible progress timeline.
		Groups []timeline.StageGroup
		// Sources are the collected references so far.
		Sources []stream.SourcePayload
		// Images are the collected images so far.
		Images []stream.ImagePayload
		// Frame is the latest browser screenshot frame, if any.
		Frame *stream.BrowserStreamPayload
		// Interrupt is the active prompt awaiting a user decision, or nil.
		Interrupt *interrupt.Prompt
	}
)

// newStreamingContext returns an empty accumulator.
func newStreamingContext() *streamingContext {
	return &streamingContext{
		seen:   make(map[string]struct{}),
		imgIdx: make(map[int]struct{}),
	}
}

// add inserts the event into the ordered collection unless its dedup key was
// already seen. Reports whether the event was inserted; a retransmitted
// envelope is a no-op.
func (s *streamingContext) add(ev stream.Event) bool {
	key := ev.Key()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.events = append(s.events, ev)
	return true
}

// addSource collects a discovered reference, deduplicating through the
// event key (wire id, falling back to URL).
func (s *streamingContext) addSource(ev stream.Source) bool {
	if !s.add(ev) {
		return false
	}
	s.sources = append(s.sources, ev.Data)
	return true
}

// addImage collects a generated image. Identity is the index alone: a later
// duplicate with an already-seen index is dropped, not merged, regardless of
// its envelope id.
func (s *streamingContext) addImage(ev stream.Image) bool {
	if _, ok := s.imgIdx[ev.Data.Index]; ok {
		return false
	}
	s.imgIdx[ev.Data.Index] = struct{}{}
	s.seen[ev.Key()] = struct{}{}
	s.events = append(s.events, ev)
	s.images = append(s.images, ev.Data)
	return true
}

// setFrame retains the latest browser frame, replacing any prior one.
func (s *streamingContext) setFrame(p stream.BrowserStreamPayload) {
	s.frame = &p
}

// sourcesCopy returns a copy of the collected sources.
func (s *streamingContext) sourcesCopy() []stream.SourcePayload {
	if len(s.sources) == 0 {
		return nil
	}
	out := make([]stream.SourcePayload, len(s.sources))
	copy(out, s.sources)
	return out
}

// imagesCopy returns a copy of the collected images.
func (s *streamingContext) imagesCopy() []stream.ImagePayload {
	if len(s.images) == 0 {
		return nil
	}
	out := make([]stream.ImagePayload, len(s.images))
	copy(out, s.images)
	return out
}

// frameCopy returns a copy of the latest browser frame, or nil.
func (s *streamingContext) frameCopy() *stream.BrowserStreamPayload {
	if s.frame == nil {
		return nil
	}
	cp := *s.frame
	return &cp
}
