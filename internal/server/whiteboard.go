package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/npezzotti/go-meet/internal/types"
)

// UndoUnit is a single reversible history entry: either one stroke
// removed by undo or the board snapshot captured by a clear.
type UndoUnit struct {
	Stroke   *types.Stroke  `json:"stroke,omitempty"`
	Snapshot []types.Stroke `json:"snapshot,omitempty"`
	seq      uint64
}

func (u *UndoUnit) IsClear() bool {
	return u.Stroke == nil
}

// Whiteboard holds a room's stroke log and undo/redo history. Sequence
// numbers are assigned server-side and only ever increase, so the most
// recent mutation is found by comparing the newest live stroke against
// the newest clear snapshot. Every stroke ever drawn lives in exactly
// one of strokes, a pending clear snapshot, or the redo stack.
type Whiteboard struct {
	mu      sync.Mutex
	nextSeq uint64
	strokes []types.Stroke
	// undo holds clear snapshots awaiting undo. Individual strokes
	// are undone straight off the tail of strokes.
	undo []UndoUnit
	redo []UndoUnit
}

func NewWhiteboard() *Whiteboard {
	return &Whiteboard{}
}

// Draw appends a stroke with the next sequence number and invalidates
// any redoable history.
func (wb *Whiteboard) Draw(author types.User, path json.RawMessage) types.Stroke {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	wb.nextSeq++
	stroke := types.Stroke{
		Seq:               wb.nextSeq,
		AuthorId:          author.Id,
		AuthorDisplayName: author.DisplayName,
		Path:              path,
		CreatedAt:         time.Now().UTC(),
	}

	wb.strokes = append(wb.strokes, stroke)
	wb.redo = nil

	return stroke
}

// Clear empties the board, keeping the removed strokes as one snapshot
// so a single undo restores them all. Clearing an already empty board
// still records a snapshot, making clear itself undoable.
func (wb *Whiteboard) Clear() int {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	wb.nextSeq++
	snapshot := wb.strokes
	if snapshot == nil {
		snapshot = []types.Stroke{}
	}

	wb.undo = append(wb.undo, UndoUnit{
		Snapshot: snapshot,
		seq:      wb.nextSeq,
	})
	wb.strokes = nil
	wb.redo = nil

	return len(snapshot)
}

// Undo reverts the most recent mutation, a stroke or a clear, and
// moves it to the redo stack. Returns nil if there is nothing to undo.
func (wb *Whiteboard) Undo() *UndoUnit {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	var lastStroke, lastClear uint64
	if n := len(wb.strokes); n > 0 {
		lastStroke = wb.strokes[n-1].Seq
	}
	if n := len(wb.undo); n > 0 {
		lastClear = wb.undo[n-1].seq
	}

	if lastStroke == 0 && lastClear == 0 {
		return nil
	}

	if lastStroke > lastClear {
		n := len(wb.strokes)
		s := wb.strokes[n-1]
		wb.strokes = wb.strokes[:n-1]

		unit := UndoUnit{Stroke: &s, seq: s.Seq}
		wb.redo = append(wb.redo, unit)
		return &unit
	}

	// Undo the clear: the snapshot returns to the live board and the
	// clear moves to the redo stack.
	n := len(wb.undo)
	unit := wb.undo[n-1]
	wb.undo = wb.undo[:n-1]

	wb.strokes = append(wb.strokes, unit.Snapshot...)
	wb.redo = append(wb.redo, unit)
	return &unit
}

// Redo re-applies the most recently undone mutation. Returns nil if
// there is nothing to redo.
func (wb *Whiteboard) Redo() *UndoUnit {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	n := len(wb.redo)
	if n == 0 {
		return nil
	}

	unit := wb.redo[n-1]
	wb.redo = wb.redo[:n-1]

	if unit.Stroke != nil {
		wb.strokes = append(wb.strokes, *unit.Stroke)
		return &unit
	}

	// Re-apply the clear against the current board.
	snapshot := wb.strokes
	if snapshot == nil {
		snapshot = []types.Stroke{}
	}
	unit.Snapshot = snapshot

	wb.undo = append(wb.undo, unit)
	wb.strokes = nil
	return &unit
}

// Strokes returns a copy of the live board in draw order.
func (wb *Whiteboard) Strokes() []types.Stroke {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	strokes := make([]types.Stroke, len(wb.strokes))
	copy(strokes, wb.strokes)
	return strokes
}

func (wb *Whiteboard) NumStrokes() int {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	return len(wb.strokes)
}
