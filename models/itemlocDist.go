package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ItemlocDist is a planned movement of one item site awaiting location and
// lot/serial detail. Negative Qty distributes from stock, positive to stock.
type ItemlocDist struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"index;not null" json:"business_id"`
	Series       int             `gorm:"index;not null" json:"series"`
	Role         DistRole        `gorm:"size:1;not null;default:P" json:"role"`
	ItemSiteId   int             `gorm:"index;not null" json:"item_site_id"`
	ParentId     *int            `gorm:"index" json:"parent_id"`
	SourceDistId *int            `json:"source_dist_id"`
	Qty          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	OrderType    OrderType       `gorm:"size:2" json:"order_type"`
	OrderId      *int            `json:"order_id"`
	OrderNumber  string          `gorm:"size:100" json:"order_number"`
	TransType    TransType       `gorm:"size:2;not null" json:"trans_type"`
	InvHistId    *int            `json:"inv_hist_id"`
	// ReqLotSerial is set when the item site is lot or serial controlled.
	ReqLotSerial bool `gorm:"not null;default:false" json:"req_lot_serial"`
	// DistLotSerial marks a withdrawal whose lot/serial must come from stock.
	DistLotSerial       bool            `gorm:"not null;default:false" json:"dist_lot_serial"`
	ResolutionState     ResolutionState `gorm:"size:1;not null;default:U" json:"resolution_state"`
	ChildSeries         *int            `gorm:"index" json:"child_series"`
	SourceType          SourceType      `gorm:"size:1" json:"source_type"`
	SourceId            *int            `json:"source_id"`
	LotSerialId         *int            `gorm:"index" json:"lot_serial_id"`
	PreassignedDetailId *int            `gorm:"index" json:"preassigned_detail_id"`
	Expiration          *time.Time      `json:"expiration"`
	Warranty            *time.Time      `json:"warranty"`
	Posted              bool            `gorm:"not null;default:false" json:"posted"`
	PostedAt            *time.Time      `json:"posted_at"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type ResolutionState string

const (
	ResolutionUnresolved  ResolutionState = "U"
	ResolutionTerminal    ResolutionState = "T"
	ResolutionHasChildren ResolutionState = "C"
)

// Resolution is the tagged form of the child series column.
// Terminal means no further detail is needed; HasChildren carries the child series.
type Resolution struct {
	State       ResolutionState
	ChildSeries int
}

func Unresolved() Resolution {
	return Resolution{State: ResolutionUnresolved}
}

func Terminal() Resolution {
	return Resolution{State: ResolutionTerminal}
}

func HasChildren(childSeries int) Resolution {
	return Resolution{State: ResolutionHasChildren, ChildSeries: childSeries}
}

func (r Resolution) IsResolved() bool {
	return r.State == ResolutionTerminal || r.State == ResolutionHasChildren
}

func (r Resolution) String() string {
	switch r.State {
	case ResolutionTerminal:
		return "Terminal"
	case ResolutionHasChildren:
		return fmt.Sprintf("HasChildren(%d)", r.ChildSeries)
	}
	return "Unresolved"
}

func (d *ItemlocDist) Resolution() Resolution {
	switch d.ResolutionState {
	case ResolutionTerminal:
		return Terminal()
	case ResolutionHasChildren:
		if d.ChildSeries != nil {
			return HasChildren(*d.ChildSeries)
		}
	}
	return Unresolved()
}

// ApplyResolution writes r into the state and child series columns.
// Terminal keeps the self-referencing child series readers of the column expect.
func (d *ItemlocDist) ApplyResolution(r Resolution) {
	d.ResolutionState = r.State
	switch r.State {
	case ResolutionTerminal:
		s := d.Series
		d.ChildSeries = &s
	case ResolutionHasChildren:
		s := r.ChildSeries
		d.ChildSeries = &s
	default:
		d.ResolutionState = ResolutionUnresolved
		d.ChildSeries = nil
	}
}

func (d *ItemlocDist) IsWithdrawal() bool {
	return d.Qty.IsNegative()
}

func (d *ItemlocDist) LocationSourceId() int {
	if d.SourceId == nil {
		return 0
	}
	return *d.SourceId
}

// NewSeries is the input for series allocation.
type NewSeries struct {
	ItemSiteId int             `json:"item_site_id" validate:"required,gt=0"`
	Qty        decimal.Decimal `json:"qty" validate:"ne=0"`
	OrderType  OrderType       `json:"order_type"`
	TransType  TransType       `json:"trans_type" validate:"required"`
	OrderId    *int            `json:"order_id"`
	// OrderNumber is the source document number preassigned detail is matched on.
	OrderNumber string `json:"order_number"`
	// ExistingSeries attaches a second leg to a series already in use.
	ExistingSeries *int `json:"existing_series"`
	// ExistingDistributionId links the root to the other leg's record.
	ExistingDistributionId *int `json:"existing_distribution_id"`
	InvHistId              *int `json:"inv_hist_id"`
}
