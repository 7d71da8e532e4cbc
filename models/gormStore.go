package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/itemloc_backend/config"
	"github.com/mmdatafocus/itemloc_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on the relational database.
type GormStore struct {
	db  *gorm.DB
	seq SequenceService
}

// NewGormStore uses db for every table. A nil seq issues series ids from the database.
func NewGormStore(db *gorm.DB, seq SequenceService) *GormStore {
	if seq == nil {
		seq = NewGormSeriesSequence(db)
	}
	return &GormStore{db: db, seq: seq}
}

// DefaultGormStore builds the store on the process connection and the configured sequence.
func DefaultGormStore() *GormStore {
	db := config.GetDB()
	if config.SeriesSequenceBackend() == "redis" && config.GetRedisDB() != nil {
		return NewGormStore(db, NewRedisSeriesSequence(config.GetRedisDB()))
	}
	return NewGormStore(db, nil)
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *GormStore) withTx(tx *gorm.DB) *GormStore {
	return &GormStore{db: tx, seq: s.seq}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorRecordNotFound
	}
	return err
}

func businessIdOf(ctx context.Context) string {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	return businessId
}

func (s *GormStore) NextSeriesId(ctx context.Context) (int, error) {
	return s.seq.NextSeriesId(ctx)
}

func (s *GormStore) GetItemSitePolicy(ctx context.Context, itemSiteId int) (*ItemSitePolicy, error) {
	var site ItemSite
	if err := s.conn(ctx).First(&site, itemSiteId).Error; err != nil {
		return nil, notFound(err)
	}
	var item Item
	if err := s.conn(ctx).First(&item, site.ItemId).Error; err != nil {
		return nil, notFound(err)
	}
	return NewItemSitePolicy(&site, &item), nil
}

// ledger

func (s *GormStore) CreateDistribution(ctx context.Context, dist *ItemlocDist) error {
	if dist.BusinessId == "" {
		dist.BusinessId = businessIdOf(ctx)
	}
	if dist.ResolutionState == "" {
		dist.ResolutionState = ResolutionUnresolved
	}
	return s.conn(ctx).Create(dist).Error
}

func (s *GormStore) GetDistribution(ctx context.Context, id int) (*ItemlocDist, error) {
	var dist ItemlocDist
	if err := s.conn(ctx).First(&dist, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &dist, nil
}

func (s *GormStore) ListBySeries(ctx context.Context, series int) ([]*ItemlocDist, error) {
	var dists []*ItemlocDist
	err := s.conn(ctx).Where("series = ?", series).Order("id").Find(&dists).Error
	return dists, err
}

func (s *GormStore) ListUnresolved(ctx context.Context, series int) ([]*ItemlocDist, error) {
	var dists []*ItemlocDist
	err := s.conn(ctx).
		Where("series = ? AND resolution_state = ?", series, ResolutionUnresolved).
		Order("id").Find(&dists).Error
	return dists, err
}

func (s *GormStore) ListChildDistributions(ctx context.Context, parentId int) ([]*ItemlocDist, error) {
	var dists []*ItemlocDist
	err := s.conn(ctx).Where("parent_id = ?", parentId).Order("id").Find(&dists).Error
	return dists, err
}

type parentQty struct {
	ParentId int
	Total    decimal.Decimal
}

func (s *GormStore) SumChildQty(ctx context.Context, parentId int) (decimal.Decimal, error) {
	var rows []parentQty
	err := s.conn(ctx).Model(&ItemlocDist{}).
		Select("parent_id, COALESCE(SUM(qty), 0) AS total").
		Where("parent_id = ?", parentId).
		Group("parent_id").Scan(&rows).Error
	if err != nil || len(rows) == 0 {
		return decimal.Zero, err
	}
	return rows[0].Total, nil
}

func (s *GormStore) ChildQtyByParent(ctx context.Context, series int) (map[int]decimal.Decimal, error) {
	var rows []parentQty
	parents := s.conn(ctx).Model(&ItemlocDist{}).Select("id").Where("series = ?", series)
	err := s.conn(ctx).Model(&ItemlocDist{}).
		Select("parent_id, COALESCE(SUM(qty), 0) AS total").
		Where("parent_id IN (?)", parents).
		Group("parent_id").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int]decimal.Decimal, len(rows))
	for _, r := range rows {
		out[r.ParentId] = r.Total
	}
	return out, nil
}

func resolutionColumns(res Resolution) map[string]interface{} {
	cols := map[string]interface{}{"resolution_state": res.State}
	switch res.State {
	case ResolutionTerminal:
		cols["child_series"] = gorm.Expr("series")
	case ResolutionHasChildren:
		cols["child_series"] = res.ChildSeries
	default:
		cols["resolution_state"] = ResolutionUnresolved
		cols["child_series"] = nil
	}
	return cols
}

func (s *GormStore) SetResolution(ctx context.Context, id int, res Resolution) (int64, error) {
	result := s.conn(ctx).Model(&ItemlocDist{}).
		Where("id = ? AND posted = ?", id, false).
		Updates(resolutionColumns(res))
	return result.RowsAffected, result.Error
}

func (s *GormStore) SetSeriesSource(ctx context.Context, series int, sourceType SourceType, sourceId int) (int64, error) {
	cols := resolutionColumns(Terminal())
	cols["source_type"] = sourceType
	cols["source_id"] = sourceId
	result := s.conn(ctx).Model(&ItemlocDist{}).
		Where("series = ? AND role = ? AND posted = ?", series, DistRoleLotSerial, false).
		Updates(cols)
	return result.RowsAffected, result.Error
}

func (s *GormStore) SetDistributionSource(ctx context.Context, id int, sourceType SourceType, sourceId int) error {
	result := s.conn(ctx).Model(&ItemlocDist{}).
		Where("id = ? AND posted = ?", id, false).
		Updates(map[string]interface{}{"source_type": sourceType, "source_id": sourceId})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

// lot/serial

func (s *GormStore) FindLotSerial(ctx context.Context, itemId int, number string) (*LotSerial, error) {
	var ls LotSerial
	if err := s.conn(ctx).Where("item_id = ? AND number = ?", itemId, number).First(&ls).Error; err != nil {
		return nil, notFound(err)
	}
	return &ls, nil
}

func (s *GormStore) GetLotSerial(ctx context.Context, id int) (*LotSerial, error) {
	var ls LotSerial
	if err := s.conn(ctx).First(&ls, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &ls, nil
}

func (s *GormStore) CreateLotSerialDetail(ctx context.Context, params CreateLotSerialParams) (*ItemlocDist, error) {
	if params.Parent == nil {
		return nil, errors.New("parent distribution is required")
	}
	policy, err := s.GetItemSitePolicy(ctx, params.Parent.ItemSiteId)
	if err != nil {
		return nil, err
	}
	businessId := businessIdOf(ctx)

	var created *ItemlocDist
	err = s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		lsId := params.LotSerialId
		if lsId == 0 {
			var ls LotSerial
			err := tx.Where("item_id = ? AND number = ?", policy.ItemId, params.Number).First(&ls).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				ls = LotSerial{BusinessId: businessId, ItemId: policy.ItemId, Number: params.Number}
				if err := tx.Create(&ls).Error; err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
			lsId = ls.ID
		}

		parentId := params.Parent.ID
		dist := ItemlocDist{
			BusinessId:          businessId,
			Series:              params.ChildSeries,
			Role:                DistRoleLotSerial,
			ItemSiteId:          params.Parent.ItemSiteId,
			ParentId:            &parentId,
			Qty:                 params.Qty,
			OrderType:           params.Parent.OrderType,
			OrderId:             params.Parent.OrderId,
			OrderNumber:         params.Parent.OrderNumber,
			TransType:           params.Parent.TransType,
			InvHistId:           params.Parent.InvHistId,
			DistLotSerial:       params.Qty.IsNegative(),
			ResolutionState:     ResolutionUnresolved,
			SourceType:          SourceTypeDetail,
			LotSerialId:         &lsId,
			PreassignedDetailId: params.PreassignedDetailId,
			Expiration:          params.Expiration,
			Warranty:            params.Warranty,
		}
		if err := tx.Create(&dist).Error; err != nil {
			return err
		}

		series := params.ChildSeries
		detail := LotSerialDetail{
			BusinessId:      businessId,
			ItemSiteId:      params.Parent.ItemSiteId,
			LotSerialId:     lsId,
			Series:          &series,
			SourceType:      LotSerialSourceInventory,
			SourceOrderType: params.Parent.OrderType,
			SourceNumber:    params.Parent.OrderNumber,
			SourceId:        params.Parent.OrderId,
			DistributionId:  &dist.ID,
			Qty:             params.Qty,
			Expiration:      params.Expiration,
			Warranty:        params.Warranty,
		}
		if err := tx.Create(&detail).Error; err != nil {
			return err
		}
		if err := tx.Model(&dist).Update("source_id", detail.ID).Error; err != nil {
			return err
		}
		dist.SourceId = &detail.ID
		created = &dist
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *GormStore) consumedByDetail(ctx context.Context, detailIds []int) (map[int]decimal.Decimal, error) {
	var dists []*ItemlocDist
	if len(detailIds) == 0 {
		return map[int]decimal.Decimal{}, nil
	}
	err := s.conn(ctx).Select("id, qty, preassigned_detail_id").
		Where("preassigned_detail_id IN ?", detailIds).Find(&dists).Error
	if err != nil {
		return nil, err
	}
	out := map[int]decimal.Decimal{}
	for _, d := range dists {
		id := *d.PreassignedDetailId
		out[id] = out[id].Add(d.Qty.Abs())
	}
	return out, nil
}

func (s *GormStore) ListPreassigned(ctx context.Context, itemSiteId int, orderType OrderType, orderNumber string) ([]*PreassignedLotSerial, error) {
	if orderNumber == "" {
		return nil, nil
	}
	var details []*LotSerialDetail
	err := s.conn(ctx).
		Where("item_site_id = ? AND source_order_type = ? AND source_number = ? AND series IS NULL AND qty_to_assign > 0",
			itemSiteId, orderType, orderNumber).
		Order("id DESC").Find(&details).Error
	if err != nil {
		return nil, err
	}
	latest := latestDetailPerLot(details)
	ids := make([]int, 0, len(latest))
	for _, d := range latest {
		ids = append(ids, d.ID)
	}
	consumed, err := s.consumedByDetail(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*PreassignedLotSerial, 0, len(latest))
	for _, d := range latest {
		remaining := d.QtyToAssign.Sub(consumed[d.ID])
		if !remaining.IsPositive() {
			continue
		}
		ls, err := s.GetLotSerial(ctx, d.LotSerialId)
		if err != nil {
			return nil, err
		}
		out = append(out, &PreassignedLotSerial{
			DetailId:    d.ID,
			LotSerialId: d.LotSerialId,
			Number:      ls.Number,
			Expiration:  d.Expiration,
			Warranty:    d.Warranty,
			Remaining:   remaining,
		})
	}
	return out, nil
}

// latestDetailPerLot keeps the first row per lot/serial of a newest-first list.
func latestDetailPerLot(details []*LotSerialDetail) []*LotSerialDetail {
	seen := map[int]bool{}
	out := make([]*LotSerialDetail, 0, len(details))
	for _, d := range details {
		if seen[d.LotSerialId] {
			continue
		}
		seen[d.LotSerialId] = true
		out = append(out, d)
	}
	return out
}

func (s *GormStore) PreassignedRemaining(ctx context.Context, detailId int) (decimal.Decimal, error) {
	var detail LotSerialDetail
	if err := s.conn(ctx).First(&detail, detailId).Error; err != nil {
		return decimal.Zero, notFound(err)
	}
	consumed, err := s.consumedByDetail(ctx, []int{detailId})
	if err != nil {
		return decimal.Zero, err
	}
	return detail.QtyToAssign.Sub(consumed[detailId]), nil
}

func (s *GormStore) SerialInUse(ctx context.Context, itemId int, lotSerialId int, excludeSeries int) (bool, error) {
	var onHand int64
	err := s.conn(ctx).Model(&ItemLoc{}).
		Joins("JOIN item_sites ON item_sites.id = item_locs.item_site_id").
		Where("item_sites.item_id = ? AND item_locs.lot_serial_id = ? AND item_locs.qty > 0", itemId, lotSerialId).
		Count(&onHand).Error
	if err != nil {
		return false, err
	}
	if onHand > 0 {
		return true, nil
	}
	return s.serialInFlight(ctx, itemId, lotSerialId, excludeSeries, true)
}

func (s *GormStore) SerialInFlight(ctx context.Context, itemId int, lotSerialId int, excludeSeries int) (bool, error) {
	return s.serialInFlight(ctx, itemId, lotSerialId, excludeSeries, false)
}

func (s *GormStore) serialInFlight(ctx context.Context, itemId int, lotSerialId int, excludeSeries int, receipts bool) (bool, error) {
	var n int64
	q := s.conn(ctx).Model(&ItemlocDist{}).
		Joins("JOIN item_sites ON item_sites.id = itemloc_dists.item_site_id").
		Where("item_sites.item_id = ? AND itemloc_dists.lot_serial_id = ? AND itemloc_dists.role = ? AND itemloc_dists.posted = ? AND itemloc_dists.series <> ?",
			itemId, lotSerialId, DistRoleLotSerial, false, excludeSeries)
	if receipts {
		q = q.Where("itemloc_dists.qty > 0")
	} else {
		q = q.Where("itemloc_dists.qty < 0")
	}
	if err := q.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *GormStore) NextLotSerialNumber(ctx context.Context, sequenceId int) (string, error) {
	var number string
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var seq LotSerialSequence
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&seq, sequenceId).Error; err != nil {
			return notFound(err)
		}
		number = seq.Format(seq.Next)
		return tx.Model(&seq).Update("next", seq.Next+1).Error
	})
	return number, err
}

func (s *GormStore) ListOnHandLotSerials(ctx context.Context, itemSiteId int) ([]*LotSerialOnHand, error) {
	var itemLocs []*ItemLoc
	err := s.conn(ctx).Where("item_site_id = ? AND lot_serial_id > 0 AND qty > 0", itemSiteId).
		Order("id").Find(&itemLocs).Error
	if err != nil {
		return nil, err
	}
	lots, err := s.lotSerialsFor(ctx, itemLocs)
	if err != nil {
		return nil, err
	}
	return aggregateOnHand(itemLocs, lots), nil
}

func (s *GormStore) lotSerialsFor(ctx context.Context, itemLocs []*ItemLoc) (map[int]*LotSerial, error) {
	ids := make([]int, 0, len(itemLocs))
	for _, il := range itemLocs {
		if il.LotSerialId > 0 {
			ids = append(ids, il.LotSerialId)
		}
	}
	out := map[int]*LotSerial{}
	if len(ids) == 0 {
		return out, nil
	}
	var lots []*LotSerial
	if err := s.conn(ctx).Where("id IN ?", ids).Find(&lots).Error; err != nil {
		return nil, err
	}
	for _, ls := range lots {
		out[ls.ID] = ls
	}
	return out, nil
}

func aggregateOnHand(itemLocs []*ItemLoc, lots map[int]*LotSerial) []*LotSerialOnHand {
	byLot := map[int]*LotSerialOnHand{}
	out := make([]*LotSerialOnHand, 0)
	for _, il := range itemLocs {
		if il.LotSerialId == 0 || !il.Qty.IsPositive() {
			continue
		}
		row, ok := byLot[il.LotSerialId]
		if !ok {
			row = &LotSerialOnHand{LotSerialId: il.LotSerialId, Expiration: il.Expiration}
			if ls := lots[il.LotSerialId]; ls != nil {
				row.Number = ls.Number
			}
			byLot[il.LotSerialId] = row
			out = append(out, row)
		}
		row.Qty = row.Qty.Add(il.Qty)
	}
	return out
}

// inventory

func (s *GormStore) GetLocation(ctx context.Context, id int) (*Location, error) {
	var loc Location
	if err := s.conn(ctx).First(&loc, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &loc, nil
}

func (s *GormStore) GetItemLoc(ctx context.Context, id int) (*ItemLoc, error) {
	var il ItemLoc
	if err := s.conn(ctx).First(&il, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &il, nil
}

func (s *GormStore) ListItemLocations(ctx context.Context, query LocationQuery) ([]*LocationCandidate, error) {
	var site ItemSite
	if err := s.conn(ctx).First(&site, query.ItemSiteId).Error; err != nil {
		return nil, notFound(err)
	}
	var locations []*Location
	if err := s.conn(ctx).Where("warehouse_id = ?", site.WarehouseId).Order("name").Find(&locations).Error; err != nil {
		return nil, err
	}
	var itemLocs []*ItemLoc
	if err := s.conn(ctx).Where("item_site_id = ? AND qty <> 0", site.ID).Order("id").Find(&itemLocs).Error; err != nil {
		return nil, err
	}
	lots, err := s.lotSerialsFor(ctx, itemLocs)
	if err != nil {
		return nil, err
	}
	var picks []*ItemlocDist
	if query.DistributionId > 0 {
		if err := s.conn(ctx).Where("parent_id = ? AND role = ?", query.DistributionId, DistRoleLocation).Find(&picks).Error; err != nil {
			return nil, err
		}
	}
	return buildLocationCandidates(locations, itemLocs, lots, picks, query), nil
}

func (s *GormStore) QtyAvailableAtLocation(ctx context.Context, itemSiteId int, locationId int, lotSerialId int) (decimal.Decimal, error) {
	var itemLocs []*ItemLoc
	q := s.conn(ctx).Where("item_site_id = ? AND location_id = ?", itemSiteId, locationId)
	if lotSerialId > 0 {
		q = q.Where("lot_serial_id = ?", lotSerialId)
	}
	if err := q.Find(&itemLocs).Error; err != nil {
		return decimal.Zero, err
	}
	avail := decimal.Zero
	ids := make([]int, 0, len(itemLocs))
	for _, il := range itemLocs {
		avail = avail.Add(il.Qty)
		ids = append(ids, il.ID)
	}

	var picks []*ItemlocDist
	pq := s.conn(ctx).
		Where("item_site_id = ? AND role = ? AND posted = ? AND qty < 0", itemSiteId, DistRoleLocation, false)
	if len(ids) > 0 {
		pq = pq.Where("((source_type = ? AND source_id = ?) OR (source_type = ? AND source_id IN ?))",
			SourceTypeLocation, locationId, SourceTypeItemLoc, ids)
	} else {
		pq = pq.Where("source_type = ? AND source_id = ?", SourceTypeLocation, locationId)
	}
	if lotSerialId > 0 {
		pq = pq.Where("lot_serial_id = ?", lotSerialId)
	}
	if err := pq.Find(&picks).Error; err != nil {
		return decimal.Zero, err
	}
	for _, p := range picks {
		avail = avail.Add(p.Qty)
	}
	return avail, nil
}

func (s *GormStore) FindItemLocByLotSerial(ctx context.Context, warehouseId int, itemId int, number string) (*ItemLoc, error) {
	var il ItemLoc
	err := s.conn(ctx).
		Joins("JOIN item_sites ON item_sites.id = item_locs.item_site_id").
		Joins("JOIN lot_serials ON lot_serials.id = item_locs.lot_serial_id").
		Where("item_sites.warehouse_id = ? AND item_sites.item_id = ? AND lot_serials.number = ? AND item_locs.qty > 0",
			warehouseId, itemId, number).
		Order("item_locs.id").First(&il).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &il, nil
}

// posting

func (s *GormStore) PostDistributionDetail(ctx context.Context, series int) (int, error) {
	var posted int
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := s.withTx(tx).postDistributionDetail(ctx, series)
		posted = n
		return err
	})
	return posted, err
}

// postDistributionDetail expects to run inside a transaction.
func (s *GormStore) postDistributionDetail(ctx context.Context, series int) (int, error) {
	tree, err := CollectSeriesTree(ctx, s, series)
	if err != nil {
		return 0, err
	}
	plan, err := BuildPostingPlan(series, tree)
	if err != nil {
		return 0, err
	}
	if len(plan.Records) == 0 {
		return 0, nil
	}
	for _, delta := range plan.Deltas {
		if err := s.applyItemLocDelta(ctx, delta); err != nil {
			return 0, err
		}
	}
	now := time.Now()
	result := s.conn(ctx).Model(&ItemlocDist{}).
		Where("id IN ? AND posted = ?", plan.RecordIds(), false).
		Updates(map[string]interface{}{"posted": true, "posted_at": now})
	if result.Error != nil {
		return 0, result.Error
	}
	if int(result.RowsAffected) != len(plan.Records) {
		return 0, &DistError{
			Kind: KindLedgerInconsistency,
			Op:   "postDistributionDetail",
			Msg:  fmt.Sprintf("series %d posted %d of %d records", series, result.RowsAffected, len(plan.Records)),
		}
	}
	return len(plan.Records), nil
}

func (s *GormStore) applyItemLocDelta(ctx context.Context, delta ItemLocDelta) error {
	db := s.conn(ctx)
	var il ItemLoc
	var err error
	if delta.ItemLocId > 0 {
		err = db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&il, delta.ItemLocId).Error
	} else {
		err = db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("item_site_id = ? AND location_id = ? AND lot_serial_id = ?", delta.ItemSiteId, delta.LocationId, delta.LotSerialId).
			First(&il).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			il = ItemLoc{
				BusinessId:  businessIdOf(ctx),
				ItemSiteId:  delta.ItemSiteId,
				LocationId:  delta.LocationId,
				LotSerialId: delta.LotSerialId,
				Qty:         delta.Qty,
				Expiration:  delta.Expiration,
				Warranty:    delta.Warranty,
			}
			return db.Create(&il).Error
		}
	}
	if err != nil {
		return notFound(err)
	}
	qty := il.Qty.Add(delta.Qty)
	if qty.IsZero() {
		return db.Delete(&il).Error
	}
	return db.Model(&il).Update("qty", qty).Error
}

func (s *GormStore) changeQtyOnHand(ctx context.Context, itemSiteId int, qty decimal.Decimal) (before, after decimal.Decimal, err error) {
	var site ItemSite
	if err = s.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&site, itemSiteId).Error; err != nil {
		return before, after, notFound(err)
	}
	before = site.QtyOnHand
	after = before.Add(qty)
	err = s.conn(ctx).Model(&site).Update("qty_on_hand", after).Error
	return before, after, err
}

func (s *GormStore) linkInvHist(ctx context.Context, series int, itemSiteId int, histId int) error {
	return s.conn(ctx).Model(&ItemlocDist{}).
		Where("series = ? AND item_site_id = ? AND role = ? AND inv_hist_id IS NULL", series, itemSiteId, DistRoleRoot).
		Update("inv_hist_id", histId).Error
}

func (s *GormStore) writeInvHist(ctx context.Context, hist *InvHist) error {
	hist.BusinessId = businessIdOf(ctx)
	hist.UUID = uuid.NewString()
	if hist.TransDate.IsZero() {
		hist.TransDate = time.Now()
	}
	if err := s.conn(ctx).Create(hist).Error; err != nil {
		return err
	}
	if hist.Series > 0 {
		return s.linkInvHist(ctx, hist.Series, hist.ItemSiteId, hist.ID)
	}
	return nil
}

func (s *GormStore) PostInvTrans(ctx context.Context, trans *InvTrans) (*InvHist, error) {
	var hist *InvHist
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		st := s.withTx(tx)
		if trans.PostDistribution && trans.Series > 0 {
			if _, err := st.postDistributionDetail(ctx, trans.Series); err != nil {
				return err
			}
		}
		before, after, err := st.changeQtyOnHand(ctx, trans.ItemSiteId, trans.Qty)
		if err != nil {
			return err
		}
		hist = &InvHist{
			ItemSiteId: trans.ItemSiteId,
			TransType:  trans.TransType,
			OrderType:  trans.OrderType,
			DocNumber:  trans.DocNumber,
			Comments:   trans.Comments,
			Qty:        trans.Qty,
			QtyBefore:  before,
			QtyAfter:   after,
			Series:     trans.Series,
			TransDate:  trans.TransDate,
			User:       trans.User,
		}
		return st.writeInvHist(ctx, hist)
	})
	if err != nil {
		return nil, err
	}
	return hist, nil
}

func (s *GormStore) PostInterWarehouseTransfer(ctx context.Context, trans *TransferTrans) ([]*InvHist, error) {
	if !trans.Qty.IsPositive() {
		return nil, fmt.Errorf("transfer quantity must be positive, got %s", trans.Qty.String())
	}
	var hists []*InvHist
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		st := s.withTx(tx)
		if trans.PostDistribution && trans.Series > 0 {
			if _, err := st.postDistributionDetail(ctx, trans.Series); err != nil {
				return err
			}
		}
		legs := []struct {
			itemSiteId int
			qty        decimal.Decimal
		}{
			{trans.FromItemSiteId, trans.Qty.Neg()},
			{trans.ToItemSiteId, trans.Qty},
		}
		for _, leg := range legs {
			before, after, err := st.changeQtyOnHand(ctx, leg.itemSiteId, leg.qty)
			if err != nil {
				return err
			}
			hist := &InvHist{
				ItemSiteId: leg.itemSiteId,
				TransType:  TransTypeInterWarehouse,
				OrderType:  OrderTypeNone,
				DocNumber:  trans.DocNumber,
				Comments:   trans.Comments,
				Qty:        leg.qty,
				QtyBefore:  before,
				QtyAfter:   after,
				Series:     trans.Series,
				TransDate:  trans.TransDate,
				User:       trans.User,
			}
			if err := st.writeInvHist(ctx, hist); err != nil {
				return err
			}
			hists = append(hists, hist)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hists, nil
}

// cleanup

func (s *GormStore) DeleteSeries(ctx context.Context, series int, force bool) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		st := s.withTx(tx)
		tree, err := CollectSeriesTree(ctx, st, series)
		if err != nil {
			return err
		}
		ids := unpostedIds(tree)
		if len(ids) == 0 {
			return nil
		}
		if force {
			var details []*LotSerialDetail
			if err := tx.Where("distribution_id IN ?", ids).Find(&details).Error; err != nil {
				return err
			}
			if len(details) > 0 {
				lotIds := make([]int, 0, len(details))
				detailIds := make([]int, 0, len(details))
				for _, d := range details {
					lotIds = append(lotIds, d.LotSerialId)
					detailIds = append(detailIds, d.ID)
				}
				if err := tx.Where("id IN ?", detailIds).Delete(&LotSerialDetail{}).Error; err != nil {
					return err
				}
				if err := tx.Where("id IN ?", ids).Delete(&ItemlocDist{}).Error; err != nil {
					return err
				}
				return st.deleteOrphanLotSerials(ctx, lotIds)
			}
		}
		return tx.Where("id IN ?", ids).Delete(&ItemlocDist{}).Error
	})
}

func unpostedIds(tree []*ItemlocDist) []int {
	ids := make([]int, 0, len(tree))
	for _, rec := range tree {
		if !rec.Posted {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

// deleteOrphanLotSerials drops identities nothing refers to any more.
func (s *GormStore) deleteOrphanLotSerials(ctx context.Context, lotIds []int) error {
	db := s.conn(ctx)
	for _, id := range lotIds {
		var refs int64
		if err := db.Model(&LotSerialDetail{}).Where("lot_serial_id = ?", id).Count(&refs).Error; err != nil {
			return err
		}
		if refs > 0 {
			continue
		}
		if err := db.Model(&ItemLoc{}).Where("lot_serial_id = ?", id).Count(&refs).Error; err != nil {
			return err
		}
		if refs > 0 {
			continue
		}
		if err := db.Model(&ItemlocDist{}).Where("lot_serial_id = ?", id).Count(&refs).Error; err != nil {
			return err
		}
		if refs > 0 {
			continue
		}
		if err := db.Delete(&LotSerial{}, id).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *GormStore) ListAbandonedSeries(ctx context.Context, olderThan time.Time) ([]int, error) {
	var series []int
	err := s.conn(ctx).Model(&ItemlocDist{}).
		Where("role = ? AND posted = ? AND created_at < ?", DistRoleRoot, false, olderThan).
		Distinct("series").Order("series").Pluck("series", &series).Error
	return series, err
}
