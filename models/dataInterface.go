package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type SequenceService interface {
	NextSeriesId(ctx context.Context) (int, error)
}

type ItemSitePolicyService interface {
	GetItemSitePolicy(ctx context.Context, itemSiteId int) (*ItemSitePolicy, error)
}

// LedgerStore reads and writes distribution records. List results are in ascending id order.
type LedgerStore interface {
	CreateDistribution(ctx context.Context, dist *ItemlocDist) error
	GetDistribution(ctx context.Context, id int) (*ItemlocDist, error)
	ListBySeries(ctx context.Context, series int) ([]*ItemlocDist, error)
	ListUnresolved(ctx context.Context, series int) ([]*ItemlocDist, error)
	ListChildDistributions(ctx context.Context, parentId int) ([]*ItemlocDist, error)
	SumChildQty(ctx context.Context, parentId int) (decimal.Decimal, error)
	// ChildQtyByParent sums child quantities grouped by parent id for records of a series.
	ChildQtyByParent(ctx context.Context, series int) (map[int]decimal.Decimal, error)
	// SetResolution returns the number of records updated.
	SetResolution(ctx context.Context, id int, res Resolution) (int64, error)
	// SetSeriesSource stamps every lot/serial detail record of series as resolved to source.
	SetSeriesSource(ctx context.Context, series int, sourceType SourceType, sourceId int) (int64, error)
	SetDistributionSource(ctx context.Context, id int, sourceType SourceType, sourceId int) error
}

type LotSerialStore interface {
	FindLotSerial(ctx context.Context, itemId int, number string) (*LotSerial, error)
	GetLotSerial(ctx context.Context, id int) (*LotSerial, error)
	// CreateLotSerialDetail writes the lot/serial (when new), its detail row and the
	// lot/serial distribution record under params.ChildSeries in one step.
	CreateLotSerialDetail(ctx context.Context, params CreateLotSerialParams) (*ItemlocDist, error)
	ListPreassigned(ctx context.Context, itemSiteId int, orderType OrderType, orderNumber string) ([]*PreassignedLotSerial, error)
	PreassignedRemaining(ctx context.Context, detailId int) (decimal.Decimal, error)
	// SerialInUse reports whether the serial is on hand or in an unposted distribution
	// for the item outside excludeSeries.
	SerialInUse(ctx context.Context, itemId int, lotSerialId int, excludeSeries int) (bool, error)
	// SerialInFlight only looks at unposted distribution outside excludeSeries.
	SerialInFlight(ctx context.Context, itemId int, lotSerialId int, excludeSeries int) (bool, error)
	NextLotSerialNumber(ctx context.Context, sequenceId int) (string, error)
	ListOnHandLotSerials(ctx context.Context, itemSiteId int) ([]*LotSerialOnHand, error)
}

type InventoryStore interface {
	GetLocation(ctx context.Context, id int) (*Location, error)
	GetItemLoc(ctx context.Context, id int) (*ItemLoc, error)
	ListItemLocations(ctx context.Context, query LocationQuery) ([]*LocationCandidate, error)
	// QtyAvailableAtLocation is on hand at the location (and lot/serial when non-zero)
	// net of every unposted withdrawal tagged against it, including earlier picks of
	// the distribution being worked on.
	QtyAvailableAtLocation(ctx context.Context, itemSiteId int, locationId int, lotSerialId int) (decimal.Decimal, error)
	FindItemLocByLotSerial(ctx context.Context, warehouseId int, itemId int, number string) (*ItemLoc, error)
}

type PostingService interface {
	// PostDistributionDetail applies resolved detail of series to on-hand location stock.
	// It returns the number of records posted; zero when the series holds nothing unposted.
	PostDistributionDetail(ctx context.Context, series int) (int, error)
	PostInvTrans(ctx context.Context, trans *InvTrans) (*InvHist, error)
	PostInterWarehouseTransfer(ctx context.Context, trans *TransferTrans) ([]*InvHist, error)
}

type CleanupService interface {
	// DeleteSeries removes unposted records of series and the series spawned from it.
	// With force, lot/serial detail written under those series goes too.
	DeleteSeries(ctx context.Context, series int, force bool) error
	ListAbandonedSeries(ctx context.Context, olderThan time.Time) ([]int, error)
}

type Store interface {
	SequenceService
	ItemSitePolicyService
	LedgerStore
	LotSerialStore
	InventoryStore
	PostingService
	CleanupService
}
