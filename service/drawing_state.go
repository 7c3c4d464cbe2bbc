package service

import (
	"sync"
	"time"

	"github.com/zlnvch/sketchroom/models"
)

// DrawingState is the append-only operation log of a single room.
// The visible canvas is always the log filtered by !Undone, in log order.
type DrawingState struct {
	mu       sync.Mutex
	ops      []models.Operation
	nextOpId int
	now      func() time.Time
}

func NewDrawingState() *DrawingState {
	return &DrawingState{
		ops:      make([]models.Operation, 0),
		nextOpId: 1,
		now:      time.Now,
	}
}

func (d *DrawingState) AddStroke(stroke models.Stroke) models.Operation {
	d.mu.Lock()
	defer d.mu.Unlock()

	op := models.Operation{
		Id:        d.nextOpId,
		Kind:      models.OperationStroke,
		Data:      stroke,
		Undone:    false,
		Timestamp: d.now().UnixMilli(),
	}
	d.nextOpId++
	d.ops = append(d.ops, op)
	return op
}

// Undo marks the most recently appended visible operation as undone,
// regardless of who authored it.
func (d *DrawingState) Undo() (models.Operation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := len(d.ops) - 1; i >= 0; i-- {
		if !d.ops[i].Undone {
			d.ops[i].Undone = true
			return d.ops[i], true
		}
	}
	return models.Operation{}, false
}

// Redo restores the oldest undone operation. This is only the inverse of
// Undo when no stroke was appended in between.
func (d *DrawingState) Redo() (models.Operation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.ops {
		if d.ops[i].Undone {
			d.ops[i].Undone = false
			return d.ops[i], true
		}
	}
	return models.Operation{}, false
}

func (d *DrawingState) ActiveStrokes() []models.Stroke {
	d.mu.Lock()
	defer d.mu.Unlock()

	strokes := make([]models.Stroke, 0, len(d.ops))
	for _, op := range d.ops {
		if !op.Undone {
			strokes = append(strokes, op.Data)
		}
	}
	return strokes
}

func (d *DrawingState) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ops = make([]models.Operation, 0)
	d.nextOpId = 1
}

// Operations returns a copy of the full history, undone entries included.
func (d *DrawingState) Operations() []models.Operation {
	d.mu.Lock()
	defer d.mu.Unlock()

	ops := make([]models.Operation, len(d.ops))
	copy(ops, d.ops)
	return ops
}

func (d *DrawingState) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ops)
}
