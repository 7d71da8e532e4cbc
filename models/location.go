package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type WarehouseZone struct {
	ID          int       `gorm:"primary_key" json:"id"`
	BusinessId  string    `gorm:"index;not null" json:"business_id"`
	WarehouseId int       `gorm:"index;not null" json:"warehouse_id"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type Location struct {
	ID          int       `gorm:"primary_key" json:"id"`
	BusinessId  string    `gorm:"index;not null" json:"business_id"`
	WarehouseId int       `gorm:"index;not null" json:"warehouse_id"`
	ZoneId      int       `gorm:"index;default:0" json:"zone_id"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	Netable     bool      `gorm:"not null;default:false" json:"netable"`
	Usable      bool      `gorm:"not null;default:false" json:"usable"`
	Restrict    bool      `gorm:"not null;default:false" json:"restrict"`
	Active      bool      `gorm:"not null;default:false" json:"active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ItemLoc is on-hand detail of an item site by location and lot/serial.
// LocationId and LotSerialId are 0 when the item site does not track them.
type ItemLoc struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"index;not null" json:"business_id"`
	ItemSiteId  int             `gorm:"index:idx_itemloc_key;not null" json:"item_site_id"`
	LocationId  int             `gorm:"index:idx_itemloc_key;not null;default:0" json:"location_id"`
	LotSerialId int             `gorm:"index:idx_itemloc_key;not null;default:0" json:"lot_serial_id"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	Expiration  *time.Time      `json:"expiration"`
	Warranty    *time.Time      `json:"warranty"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// LocationQuery filters the candidate list shown for interactive distribution.
type LocationQuery struct {
	ItemSiteId int
	// DistributionId is the record being distributed. Its tagged picks are reported.
	DistributionId int
	ZoneId         int
	NetableOnly    bool
	UsableOnly     bool
	TaggedOnly     bool
	// LotSerialId restricts existing stock to one lot/serial when non-zero.
	LotSerialId int
	// IncludeEmpty lists warehouse locations that hold none of the item yet.
	IncludeEmpty bool
}

type LocationCandidate struct {
	LocationId      int
	LocationName    string
	ZoneId          int
	ItemLocId       int
	LotSerialId     int
	LotSerialNumber string
	Expiration      *time.Time
	Netable         bool
	Usable          bool
	QtyBefore       decimal.Decimal
	QtyTagged       decimal.Decimal
}

// QtyAfter is the location quantity once the tagged picks post.
func (c LocationCandidate) QtyAfter() decimal.Decimal {
	return c.QtyBefore.Add(c.QtyTagged)
}

func (c LocationCandidate) Matches(q LocationQuery) bool {
	if q.ZoneId > 0 && c.ZoneId != q.ZoneId {
		return false
	}
	if q.NetableOnly && !c.Netable {
		return false
	}
	if q.UsableOnly && !c.Usable {
		return false
	}
	if q.TaggedOnly && c.QtyTagged.IsZero() {
		return false
	}
	if q.LotSerialId > 0 && c.ItemLocId > 0 && c.LotSerialId != q.LotSerialId {
		return false
	}
	return true
}
