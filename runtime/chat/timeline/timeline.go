// Package timeline reconstructs an ordered tree of agent activity from the
// flat, partially ordered event sequence of one request stream. Each named
// stage becomes a StageGroup holding the tool calls and notices observed
// while it was current; orphan activity is never lost, it lands in a
// synthesized implicit group.
package timeline

import (
	"time"

	"goa.design/inlet/runtime/chat/stream"
)

// implicitGroupName names the group synthesized for tool activity that
// arrives while no stage is open.
const implicitGroupName = "processing"

// hiddenStages are internal stage names consumed for ordering and the
// current-group pointer but filtered from display output.
var hiddenStages = map[string]bool{
	"planning": true,
	"routing":  true,
}

type (
	// ItemKind discriminates the entries held by a StageGroup.
	ItemKind string

	// Item is one unit of activity inside a group: a tool call with its
	// eventual result folded in, or an annotation notice (routing, handoff,
	// code result, skill output).
	Item struct {
		// Kind discriminates tool items from annotations.
		Kind ItemKind
		// ID correlates a tool call with its result. Empty for annotations
		// and for calls whose envelope carried no id.
		ID string
		// Tool is the tool identifier for ItemTool entries, or the notice
		// subject (agent name, skill name) for annotations.
		Tool string
		// Detail is display text: the call description, handoff reason,
		// result excerpt.
		Detail string
		// Status tracks the item lifecycle. Annotations are born completed.
		Status stream.Status
		// StartTime is when the call (or notice) was observed.
		StartTime time.Time
		// EndTime is set in place when the matching result closes the call.
		EndTime time.Time
	}

	// StageGroup is one reconstructed unit of agent activity: a named phase
	// plus the items observed while it was the current stage.
	StageGroup struct {
		// Name is the stage name; synthetic browser stages are named
		// "browser_<action>".
		Name string
		// Description is optional display detail from the opening event.
		Description string
		// Status is running until the matching completed/failed transition
		// closes the group.
		Status stream.Status
		// Implicit marks a group synthesized to hold orphan activity.
		Implicit bool
		// StartTime is when the group opened.
		StartTime time.Time
		// EndTime is set when the group closes.
		EndTime time.Time
		// Items holds the group's activity in arrival order.
		Items []Item

		hidden bool
	}

	// Tally is the per-tool rollup of a group's tool items for compact
	// "(completed/total)" display.
	Tally struct {
		// Tool is the tool identifier.
		Tool string
		// Category is the display bucket from the classification table.
		Category Category
		// Completed counts items whose result arrived.
		Completed int
		// Total counts all calls of the tool in the group.
		Total int
	}

	// Timeline consumes canonical events and owns the ordered group list.
	// It is owned by the session controller loop and is not safe for
	// concurrent use; consumers read deep-copied snapshots from Groups.
	Timeline struct {
		groups  []*StageGroup
		open    map[string][]*StageGroup
		current *StageGroup
	}
)

const (
	// ItemTool is a tool invocation.
	ItemTool ItemKind = "tool"
	// ItemRouting is an agent routing notice.
	ItemRouting ItemKind = "routing"
	// ItemHandoff is an agent handoff notice.
	ItemHandoff ItemKind = "handoff"
	// ItemCode is a code execution result.
	ItemCode ItemKind = "code"
	// ItemSkill is a skill output notice.
	ItemSkill ItemKind = "skill"
)

// New returns an empty Timeline.
func New() *Timeline {
	return &Timeline{open: make(map[string][]*StageGroup)}
}

// Apply folds one event into the timeline. Events the timeline does not
// track (tokens, sources, images, interrupts, errors, completion) are
// ignored so the controller can route unconditionally.
func (t *Timeline) Apply(ev stream.Event) {
	switch e := ev.(type) {
	case stream.Stage:
		t.applyStage(e.Data.Name, e.Data.Status, e.Data.Description, e.OccurredAt())
	case stream.BrowserAction:
		// Browser automation displays like any other stage.
		t.applyStage("browser_"+e.Data.Action, e.Data.Status, e.Data.Detail, e.OccurredAt())
	case stream.ToolCall:
		t.applyToolCall(e)
	case stream.ToolResult:
		t.applyToolResult(e)
	case stream.Routing:
		t.annotate(Item{Kind: ItemRouting, Tool: e.Data.Agent, Detail: e.Data.Reason}, e.OccurredAt())
	case stream.Handoff:
		t.annotate(Item{Kind: ItemHandoff, Tool: e.Data.To, Detail: e.Data.Reason}, e.OccurredAt())
	case stream.CodeResult:
		t.annotate(Item{Kind: ItemCode, ID: e.Data.ID, Tool: e.Data.Language, Detail: e.Data.Output}, e.OccurredAt())
	case stream.SkillOutput:
		t.annotate(Item{Kind: ItemSkill, Tool: e.Data.Skill, Detail: e.Data.Content}, e.OccurredAt())
	}
}

// applyStage handles open and close transitions. Repeated running
// transitions for one name each open their own group; close transitions
// match the most recently opened open group of that name. An unmatched
// close synthesizes an already-closed group so out-of-order arrival is
// visible rather than lost.
func (t *Timeline) applyStage(name string, status stream.Status, description string, at time.Time) {
	if status == stream.StatusRunning {
		g := &StageGroup{
			Name:        name,
			Description: description,
			Status:      stream.StatusRunning,
			StartTime:   at,
			hidden:      hiddenStages[name],
		}
		t.groups = append(t.groups, g)
		t.open[name] = append(t.open[name], g)
		t.current = g
		return
	}

	stack := t.open[name]
	if len(stack) == 0 {
		g := &StageGroup{
			Name:        name,
			Description: description,
			Status:      status,
			StartTime:   at,
			EndTime:     at,
			hidden:      hiddenStages[name],
		}
		t.groups = append(t.groups, g)
		return
	}
	g := stack[len(stack)-1]
	t.open[name] = stack[:len(stack)-1]
	g.Status = status
	g.EndTime = at
	if t.current == g {
		t.current = t.lastOpen()
	}
}

// applyToolCall appends a tool item to the current group, synthesizing an
// implicit group when none is open.
func (t *Timeline) applyToolCall(e stream.ToolCall) {
	g := t.ensureCurrent(e.OccurredAt())
	g.Items = append(g.Items, Item{
		Kind:      ItemTool,
		ID:        e.Data.ID,
		Tool:      e.Data.Tool,
		Detail:    e.Data.Description,
		Status:    stream.StatusRunning,
		StartTime: e.OccurredAt(),
	})
}

// applyToolResult closes the matching call in place. The match is by id,
// searching open groups newest first; an orphan result synthesizes an
// already-closed item so the activity still shows.
func (t *Timeline) applyToolResult(e stream.ToolResult) {
	status := e.Data.Status
	if status == "" {
		status = stream.StatusCompleted
	}
	if e.Data.ID != "" {
		for i := len(t.groups) - 1; i >= 0; i-- {
			items := t.groups[i].Items
			for j := len(items) - 1; j >= 0; j-- {
				if items[j].Kind == ItemTool && items[j].ID == e.Data.ID {
					items[j].Status = status
					items[j].EndTime = e.OccurredAt()
					if e.Data.Content != "" {
						items[j].Detail = e.Data.Content
					}
					return
				}
			}
		}
	}
	g := t.ensureCurrent(e.OccurredAt())
	g.Items = append(g.Items, Item{
		Kind:      ItemTool,
		ID:        e.Data.ID,
		Tool:      e.Data.Tool,
		Detail:    e.Data.Content,
		Status:    status,
		StartTime: e.OccurredAt(),
		EndTime:   e.OccurredAt(),
	})
}

// annotate appends a completed annotation item to the current group.
func (t *Timeline) annotate(item Item, at time.Time) {
	item.Status = stream.StatusCompleted
	item.StartTime = at
	item.EndTime = at
	g := t.ensureCurrent(at)
	g.Items = append(g.Items, item)
}

// ensureCurrent returns the current open group, synthesizing the implicit
// catch-all when none is open.
func (t *Timeline) ensureCurrent(at time.Time) *StageGroup {
	if t.current != nil && t.current.Status == stream.StatusRunning {
		return t.current
	}
	g := &StageGroup{
		Name:      implicitGroupName,
		Status:    stream.StatusRunning,
		Implicit:  true,
		StartTime: at,
	}
	t.groups = append(t.groups, g)
	t.open[implicitGroupName] = append(t.open[implicitGroupName], g)
	t.current = g
	return g
}

// lastOpen returns the most recently opened group that is still running, or
// nil when none is.
func (t *Timeline) lastOpen() *StageGroup {
	for i := len(t.groups) - 1; i >= 0; i-- {
		if t.groups[i].Status == stream.StatusRunning {
			return t.groups[i]
		}
	}
	return nil
}

// Groups returns a deep-copied snapshot of the display-visible groups in
// open order. Internal stages are filtered here; they still participated in
// ordering and the current-group pointer.
func (t *Timeline) Groups() []StageGroup {
	out := make([]StageGroup, 0, len(t.groups))
	for _, g := range t.groups {
		if g.hidden {
			continue
		}
		cp := *g
		cp.Items = make([]Item, len(g.Items))
		copy(cp.Items, g.Items)
		out = append(out, cp)
	}
	return out
}

// Reset discards all state for a new request.
func (t *Timeline) Reset() {
	t.groups = nil
	t.open = make(map[string][]*StageGroup)
	t.current = nil
}

// Tallies folds the group's tool items into per-tool completed/total counts
// in first-appearance order. Annotations are excluded. The fold is pure and
// recomputed on demand, so it is always consistent with the item list.
func (g *StageGroup) Tallies() []Tally {
	var (
		order  []string
		byTool = make(map[string]*Tally)
	)
	for _, item := range g.Items {
		if item.Kind != ItemTool {
			continue
		}
		tl, ok := byTool[item.Tool]
		if !ok {
			tl = &Tally{Tool: item.Tool, Category: Classify(item.Tool)}
			byTool[item.Tool] = tl
			order = append(order, item.Tool)
		}
		tl.Total++
		if item.Status == stream.StatusCompleted {
			tl.Completed++
		}
	}
	out := make([]Tally, 0, len(order))
	for _, name := range order {
		out = append(out, *byTool[name])
	}
	return out
}
