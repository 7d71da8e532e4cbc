package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvHist is posted inventory history. Series ties it to its distribution detail.
type InvHist struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;not null" json:"business_id"`
	UUID       string          `gorm:"size:36;uniqueIndex" json:"uuid"`
	ItemSiteId int             `gorm:"index;not null" json:"item_site_id"`
	TransType  TransType       `gorm:"size:2;not null" json:"trans_type"`
	OrderType  OrderType       `gorm:"size:2" json:"order_type"`
	DocNumber  string          `gorm:"size:100" json:"doc_number"`
	Comments   string          `gorm:"type:text" json:"comments"`
	Qty        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	QtyBefore  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_before"`
	QtyAfter   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_after"`
	Series     int             `gorm:"index" json:"series"`
	TransDate  time.Time       `gorm:"not null" json:"trans_date"`
	User       string          `gorm:"size:100" json:"user"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// InvTrans posts a single-site quantity change. Qty is signed.
type InvTrans struct {
	ItemSiteId int
	TransType  TransType
	OrderType  OrderType
	DocNumber  string
	Comments   string
	Qty        decimal.Decimal
	Series     int
	// PostDistribution posts the series detail in the same transaction.
	PostDistribution bool
	TransDate        time.Time
	User             string
}

// TransferTrans moves Qty (positive) from one item site to another.
type TransferTrans struct {
	FromItemSiteId   int
	ToItemSiteId     int
	Qty              decimal.Decimal
	DocNumber        string
	Comments         string
	Series           int
	PostDistribution bool
	TransDate        time.Time
	User             string
}

// ItemlocSeriesSeq backs the database series sequence. One row per id issued.
type ItemlocSeriesSeq struct {
	ID        int       `gorm:"primary_key" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
