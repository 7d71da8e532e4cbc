package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/itemloc_backend/models"
	"github.com/shopspring/decimal"
)

// InteractionHost is the only place user interaction happens. Calls block until the
// user answers. An error (or a nil result) from AssignLotSerial or DistributeLocations
// means the user cancelled.
type InteractionHost interface {
	AssignLotSerial(ctx context.Context, prompt LotSerialPrompt) (*LotSerialAssignment, error)
	DistributeLocations(ctx context.Context, prompt LocationPrompt) (*LocationSplit, error)
	Confirm(ctx context.Context, prompt Prompt) bool
	Notify(ctx context.Context, notice Notice)
}

// LotSerialPrompt asks for one lot/serial identity and its quantity.
type LotSerialPrompt struct {
	Distribution *models.ItemlocDist
	Policy       *models.ItemSitePolicy
	// Remaining is the unsigned quantity still to assign.
	Remaining decimal.Decimal
	Assigned  decimal.Decimal
	// Preassigned, when not empty, is the only list the user may pick from.
	Preassigned []*models.PreassignedLotSerial
	// OnHand lists stock the user can withdraw from.
	OnHand          []*models.LotSerialOnHand
	SuggestedNumber string
	// FixedQty is set for serial items, where every assignment is one unit.
	FixedQty bool
}

// LotSerialAssignment is the user's answer. Qty is unsigned.
type LotSerialAssignment struct {
	Number              string
	PreassignedDetailId int
	Qty                 decimal.Decimal
	Expiration          *time.Time
	Warranty            *time.Time
}

type LocationPrompt struct {
	Distribution *models.ItemlocDist
	Policy       *models.ItemSitePolicy
	Query        models.LocationQuery
	Candidates   []*models.LocationCandidate
	// Remaining is signed like the distribution quantity.
	Remaining decimal.Decimal
}

// LocationPick tags quantity to one location. Exactly one of ItemLocId, LocationId
// or Barcode should be set; Barcode is a scanned lot/serial number.
type LocationPick struct {
	ItemLocId  int
	LocationId int
	Barcode    string
	Qty        decimal.Decimal
}

// LocationSplit is the user's answer. A non-nil Query asks for the candidate list
// again with new filters and carries no picks.
type LocationSplit struct {
	Picks []LocationPick
	Query *models.LocationQuery
}

type PromptKind string

const (
	PromptLotReuse      PromptKind = "lot_reuse"
	PromptSpaceInNumber PromptKind = "space_in_number"
	PromptShortage      PromptKind = "shortage"
)

type Prompt struct {
	Kind         PromptKind
	Message      string
	Distribution *models.ItemlocDist
}

type NoticeLevel string

const (
	NoticeInfo     NoticeLevel = "info"
	NoticeWarning  NoticeLevel = "warning"
	NoticeCritical NoticeLevel = "critical"
)

type Notice struct {
	Level   NoticeLevel
	Field   string
	Message string
}

// cancellingHost backs engines used without a user: every prompt is declined.
type cancellingHost struct{}

func (cancellingHost) AssignLotSerial(context.Context, LotSerialPrompt) (*LotSerialAssignment, error) {
	return nil, models.ErrCancelled
}

func (cancellingHost) DistributeLocations(context.Context, LocationPrompt) (*LocationSplit, error) {
	return nil, models.ErrCancelled
}

func (cancellingHost) Confirm(context.Context, Prompt) bool { return false }

func (cancellingHost) Notify(context.Context, Notice) {}

func hostOrDefault(host InteractionHost) InteractionHost {
	if host == nil {
		return cancellingHost{}
	}
	return host
}
