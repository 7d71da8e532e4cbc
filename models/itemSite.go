package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Item struct {
	ID          int       `gorm:"primary_key" json:"id"`
	BusinessId  string    `gorm:"index;not null" json:"business_id"`
	Number      string    `gorm:"size:100;not null" json:"number"`
	Description string    `gorm:"size:255" json:"description"`
	Fractional  bool      `gorm:"not null;default:false" json:"fractional"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ItemSite is an item stocked at one warehouse, with its control policy.
type ItemSite struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	BusinessId          string          `gorm:"index;not null" json:"business_id"`
	ItemId              int             `gorm:"index;not null" json:"item_id"`
	WarehouseId         int             `gorm:"index;not null" json:"warehouse_id"`
	ControlMethod       ControlMethod   `gorm:"size:1;not null;default:N" json:"control_method"`
	LocationControl     bool            `gorm:"not null;default:false" json:"location_control"`
	Perishable          bool            `gorm:"not null;default:false" json:"perishable"`
	WarrantyRequired    bool            `gorm:"not null;default:false" json:"warranty_required"`
	LocationId          int             `gorm:"default:0" json:"location_id"`
	RecvLocationId      int             `gorm:"default:0" json:"recv_location_id"`
	IssueLocationId     int             `gorm:"default:0" json:"issue_location_id"`
	LocationDist        bool            `gorm:"not null;default:false" json:"location_dist"`
	RecvLocationDist    bool            `gorm:"not null;default:false" json:"recv_location_dist"`
	IssueLocationDist   bool            `gorm:"not null;default:false" json:"issue_location_dist"`
	LotSerialSequenceId *int            `json:"lot_serial_sequence_id"`
	QtyOnHand           decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"qty_on_hand"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ItemSitePolicy is the read-only control policy the engine works from.
type ItemSitePolicy struct {
	ItemSiteId          int
	ItemId              int
	ItemNumber          string
	WarehouseId         int
	ControlMethod       ControlMethod
	LocationControl     bool
	Perishable          bool
	WarrantyRequired    bool
	Fractional          bool
	LocationId          int
	RecvLocationId      int
	IssueLocationId     int
	LocationDist        bool
	RecvLocationDist    bool
	IssueLocationDist   bool
	LotSerialSequenceId *int
}

func (p *ItemSitePolicy) IsLotSerial() bool {
	return p.ControlMethod.IsLotSerial()
}

func (p *ItemSitePolicy) IsSerial() bool {
	return p.ControlMethod == ControlMethodSerial
}

// IsControlled reports whether movements of this item site need distribution records.
func (p *ItemSitePolicy) IsControlled(lotSerialEnabled bool) bool {
	return p.LocationControl || (lotSerialEnabled && p.IsLotSerial())
}

func (p *ItemSitePolicy) HasAutoSequence() bool {
	return p.LotSerialSequenceId != nil && *p.LotSerialSequenceId > 0
}

// DefaultLocationFor returns the configured default location for a class, 0 when none.
func (p *ItemSitePolicy) DefaultLocationFor(class TransClass) int {
	switch class {
	case TransClassReceipt:
		return p.RecvLocationId
	case TransClassIssue:
		return p.IssueLocationId
	}
	return p.LocationId
}

// AutoDistFor reports whether the item site distributes to its default location without asking.
func (p *ItemSitePolicy) AutoDistFor(class TransClass) bool {
	switch class {
	case TransClassReceipt:
		return p.RecvLocationDist
	case TransClassIssue:
		return p.IssueLocationDist
	}
	return p.LocationDist
}

func NewItemSitePolicy(site *ItemSite, item *Item) *ItemSitePolicy {
	p := &ItemSitePolicy{
		ItemSiteId:          site.ID,
		ItemId:              site.ItemId,
		WarehouseId:         site.WarehouseId,
		ControlMethod:       site.ControlMethod,
		LocationControl:     site.LocationControl,
		Perishable:          site.Perishable,
		WarrantyRequired:    site.WarrantyRequired,
		LocationId:          site.LocationId,
		RecvLocationId:      site.RecvLocationId,
		IssueLocationId:     site.IssueLocationId,
		LocationDist:        site.LocationDist,
		RecvLocationDist:    site.RecvLocationDist,
		IssueLocationDist:   site.IssueLocationDist,
		LotSerialSequenceId: site.LotSerialSequenceId,
	}
	if p.ControlMethod == "" {
		p.ControlMethod = ControlMethodNone
	}
	if item != nil {
		p.ItemNumber = item.Number
		p.Fractional = item.Fractional
	}
	return p
}
