package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/mmdatafocus/itemloc_backend/models"
	"github.com/shopspring/decimal"
)

// ScriptedHost answers prompts from queued responses, for tests and batch runs.
// When a queue runs dry the prompt is cancelled; Confirm falls back to DefaultConfirm.
type ScriptedHost struct {
	mu sync.Mutex

	lotSerials []*LotSerialAssignment
	splits     []*LocationSplit
	confirms   []bool

	DefaultConfirm bool

	LotSerialPrompts []LotSerialPrompt
	LocationPrompts  []LocationPrompt
	ConfirmPrompts   []Prompt
	Notices          []Notice
}

func NewScriptedHost() *ScriptedHost {
	return &ScriptedHost{}
}

func (h *ScriptedHost) AssignLot(number string, qty decimal.Decimal, expiration *time.Time) *ScriptedHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lotSerials = append(h.lotSerials, &LotSerialAssignment{Number: number, Qty: qty, Expiration: expiration})
	return h
}

func (h *ScriptedHost) AssignSerials(numbers ...string) *ScriptedHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range numbers {
		h.lotSerials = append(h.lotSerials, &LotSerialAssignment{Number: n, Qty: decimal.NewFromInt(1)})
	}
	return h
}

func (h *ScriptedHost) Assign(a LotSerialAssignment) *ScriptedHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lotSerials = append(h.lotSerials, &a)
	return h
}

func (h *ScriptedHost) Split(picks ...LocationPick) *ScriptedHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.splits = append(h.splits, &LocationSplit{Picks: picks})
	return h
}

func (h *ScriptedHost) Refilter(q models.LocationQuery) *ScriptedHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.splits = append(h.splits, &LocationSplit{Query: &q})
	return h
}

func (h *ScriptedHost) Answer(answers ...bool) *ScriptedHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.confirms = append(h.confirms, answers...)
	return h
}

func (h *ScriptedHost) AssignLotSerial(ctx context.Context, prompt LotSerialPrompt) (*LotSerialAssignment, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LotSerialPrompts = append(h.LotSerialPrompts, prompt)
	if len(h.lotSerials) == 0 {
		return nil, models.ErrCancelled
	}
	a := h.lotSerials[0]
	h.lotSerials = h.lotSerials[1:]
	return a, nil
}

func (h *ScriptedHost) DistributeLocations(ctx context.Context, prompt LocationPrompt) (*LocationSplit, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LocationPrompts = append(h.LocationPrompts, prompt)
	if len(h.splits) == 0 {
		return nil, models.ErrCancelled
	}
	s := h.splits[0]
	h.splits = h.splits[1:]
	return s, nil
}

func (h *ScriptedHost) Confirm(ctx context.Context, prompt Prompt) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ConfirmPrompts = append(h.ConfirmPrompts, prompt)
	if len(h.confirms) == 0 {
		return h.DefaultConfirm
	}
	a := h.confirms[0]
	h.confirms = h.confirms[1:]
	return a
}

func (h *ScriptedHost) Notify(ctx context.Context, notice Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Notices = append(h.Notices, notice)
}

// NoticesAt returns the notices raised at level.
func (h *ScriptedHost) NoticesAt(level NoticeLevel) []Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Notice, 0)
	for _, n := range h.Notices {
		if n.Level == level {
			out = append(out, n)
		}
	}
	return out
}
