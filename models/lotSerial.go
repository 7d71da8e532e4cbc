package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LotSerial is a lot or serial number, unique per item.
type LotSerial struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	ItemId     int       `gorm:"uniqueIndex:idx_ls_item_number;not null" json:"item_id"`
	Number     string    `gorm:"uniqueIndex:idx_ls_item_number;size:100;not null" json:"number"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// LotSerialDetail ties a lot/serial to a source document and quantity.
// Rows with a Series were written by distribution; rows without one are
// preassignments carried by source documents.
type LotSerialDetail struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id"`
	ItemSiteId      int             `gorm:"index;not null" json:"item_site_id"`
	LotSerialId     int             `gorm:"index;not null" json:"lot_serial_id"`
	Series          *int            `gorm:"index" json:"series"`
	SourceType      string          `gorm:"size:2" json:"source_type"`
	SourceOrderType OrderType       `gorm:"size:2" json:"source_order_type"`
	SourceNumber    string          `gorm:"size:100;index" json:"source_number"`
	SourceId        *int            `json:"source_id"`
	DistributionId  *int            `gorm:"index" json:"distribution_id"`
	Qty             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	QtyToAssign     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_to_assign"`
	Expiration      *time.Time      `json:"expiration"`
	Warranty        *time.Time      `json:"warranty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// LotSerialSequence generates lot/serial numbers: prefix, zero padded counter, suffix.
type LotSerialSequence struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"size:100;not null" json:"name"`
	Prefix     string    `gorm:"size:20" json:"prefix"`
	Next       int       `gorm:"not null;default:1" json:"next"`
	Suffix     string    `gorm:"size:20" json:"suffix"`
	Width      int       `gorm:"not null;default:0" json:"width"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *LotSerialSequence) Format(n int) string {
	return strings.ToUpper(fmt.Sprintf("%s%0*d%s", s.Prefix, s.Width, n, s.Suffix))
}

// PreassignedLotSerial is a candidate carried by the source document.
type PreassignedLotSerial struct {
	DetailId    int
	LotSerialId int
	Number      string
	Expiration  *time.Time
	Warranty    *time.Time
	// Remaining is the preassigned quantity not yet consumed by distribution.
	Remaining decimal.Decimal
}

// LotSerialOnHand is stock of one lot/serial at an item site.
type LotSerialOnHand struct {
	LotSerialId int
	Number      string
	Expiration  *time.Time
	Qty         decimal.Decimal
}

// CreateLotSerialParams creates one lot/serial detail record under a child series.
type CreateLotSerialParams struct {
	Parent      *ItemlocDist
	ChildSeries int
	Number      string
	// LotSerialId reuses an existing identity. Zero means create one for Number.
	LotSerialId         int
	Qty                 decimal.Decimal
	Expiration          *time.Time
	Warranty            *time.Time
	PreassignedDetailId *int
}
