package planner

import (
	"math"
	"sort"
	"time"

	"sage/pkg/types"
)

const (
	// minWindow discards slivers left over after meeting subtraction.
	minWindow = 15 * time.Minute
	// defaultEstimate applies to tasks with no estimate of their own.
	defaultEstimate = time.Hour

	priorityWeight = 0.6
	urgencyWeight  = 0.4
	urgencyHorizon = 14.0 // days until due over which urgency decays to zero
	noDueUrgency   = 0.25
)

// Window is a free interval within working hours.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the window length.
func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

// Slot is one scheduled block of work.
type Slot struct {
	Task    types.Task    `json:"task"`
	Start   time.Time     `json:"start"`
	End     time.Time     `json:"end"`
	Partial bool          `json:"partial"` // true when the task is split across windows
	Score   float64       `json:"score"`
	Used    time.Duration `json:"-"`
}

// TaskScore blends priority and due-date urgency.
func TaskScore(task *types.Task, day time.Time) float64 {
	urgency := noDueUrgency
	if task.DueDate != nil {
		daysUntil := task.DueDate.Sub(day).Hours() / 24
		urgency = clamp(1-daysUntil/urgencyHorizon, 0, 1)
	}
	return priorityWeight*task.Priority.Score() + urgencyWeight*urgency
}

// FreeWindows subtracts the day's meetings from working hours. Meetings may
// overlap each other and extend past the working day; windows shorter than
// minWindow are dropped.
func FreeWindows(dayStart, dayEnd time.Time, meetings []types.Meeting) []Window {
	if !dayStart.Before(dayEnd) {
		return nil
	}

	busy := make([]Window, 0, len(meetings))
	for _, m := range meetings {
		start, end := m.Start, m.End
		if start.Before(dayStart) {
			start = dayStart
		}
		if end.After(dayEnd) {
			end = dayEnd
		}
		if start.Before(end) {
			busy = append(busy, Window{Start: start, End: end})
		}
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })

	var free []Window
	cursor := dayStart
	for _, b := range busy {
		if b.Start.After(cursor) {
			free = append(free, Window{Start: cursor, End: b.Start})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(dayEnd) {
		free = append(free, Window{Start: cursor, End: dayEnd})
	}

	kept := free[:0]
	for _, w := range free {
		if w.Duration() >= minWindow {
			kept = append(kept, w)
		}
	}
	return kept
}

// candidate pairs a task with its score and remaining effort.
type candidate struct {
	task      types.Task
	score     float64
	remaining time.Duration
	splitOK   bool
}

// Fit greedily places tasks into the free windows: per window, the
// highest-scoring task that fits the remaining time goes first. Ties break on
// earlier due date, then ID. A task spans multiple windows only when its
// detail lists sub-items.
func Fit(day time.Time, tasks []types.Task, details map[string]*types.TaskDetail, windows []Window) []Slot {
	candidates := make([]candidate, 0, len(tasks))
	for _, t := range tasks {
		if !t.Open() {
			continue
		}
		estimate := time.Duration(t.EstimateHours * float64(time.Hour))
		if estimate <= 0 {
			estimate = defaultEstimate
		}
		splitOK := false
		if d, ok := details[t.ID]; ok && d != nil && len(d.Tasks) > 0 {
			splitOK = true
		}
		candidates = append(candidates, candidate{
			task:      t,
			score:     TaskScore(&t, day),
			remaining: estimate,
			splitOK:   splitOK,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		di, dj := candidates[i].task.DueDate, candidates[j].task.DueDate
		switch {
		case di != nil && dj != nil && !di.Equal(*dj):
			return di.Before(*dj)
		case di != nil && dj == nil:
			return true
		case di == nil && dj != nil:
			return false
		}
		return candidates[i].task.ID < candidates[j].task.ID
	})

	var slots []Slot
	for _, w := range windows {
		cursor := w.Start
		left := w.Duration()
		for left >= minWindow {
			idx := -1
			partial := false
			for i := range candidates {
				if candidates[i].remaining == 0 {
					continue
				}
				if candidates[i].remaining <= left {
					idx = i
					break
				}
				if candidates[i].splitOK {
					idx = i
					partial = true
					break
				}
			}
			if idx < 0 {
				break
			}

			used := candidates[idx].remaining
			if partial {
				used = left
			}
			slots = append(slots, Slot{
				Task:    candidates[idx].task,
				Start:   cursor,
				End:     cursor.Add(used),
				Partial: partial,
				Score:   candidates[idx].score,
				Used:    used,
			})
			candidates[idx].remaining -= used
			cursor = cursor.Add(used)
			left -= used
		}
	}
	return slots
}

func clamp(f, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, f))
}
