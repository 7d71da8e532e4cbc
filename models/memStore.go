package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/itemloc_backend/utils"
	"github.com/shopspring/decimal"
)

// MemStore is an in-memory Store for tests and the harness command.
// Every call is atomic under one mutex; records handed out are copies.
type MemStore struct {
	mu sync.Mutex

	nextId     int
	nextSeries int
	now        func() time.Time
	failures   map[string]error

	items     map[int]*Item
	sites     map[int]*ItemSite
	zones     map[int]*WarehouseZone
	locations map[int]*Location
	itemLocs  map[int]*ItemLoc
	dists     map[int]*ItemlocDist
	lots      map[int]*LotSerial
	details   map[int]*LotSerialDetail
	sequences map[int]*LotSerialSequence
	hists     map[int]*InvHist
}

func NewMemStore() *MemStore {
	return &MemStore{
		now:       time.Now,
		failures:  map[string]error{},
		items:     map[int]*Item{},
		sites:     map[int]*ItemSite{},
		zones:     map[int]*WarehouseZone{},
		locations: map[int]*Location{},
		itemLocs:  map[int]*ItemLoc{},
		dists:     map[int]*ItemlocDist{},
		lots:      map[int]*LotSerial{},
		details:   map[int]*LotSerialDetail{},
		sequences: map[int]*LotSerialSequence{},
		hists:     map[int]*InvHist{},
	}
}

// SetClock replaces the time source used for timestamps.
func (s *MemStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailOn makes the next call of op (a Store method name) return err.
func (s *MemStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *MemStore) injected(op string) error {
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

func (s *MemStore) id() int {
	s.nextId++
	return s.nextId
}

// seeding

func (s *MemStore) AddItem(item Item) *Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == 0 {
		item.ID = s.id()
	}
	s.items[item.ID] = &item
	return &item
}

func (s *MemStore) AddItemSite(site ItemSite) *ItemSite {
	s.mu.Lock()
	defer s.mu.Unlock()
	if site.ID == 0 {
		site.ID = s.id()
	}
	if site.ControlMethod == "" {
		site.ControlMethod = ControlMethodNone
	}
	s.sites[site.ID] = &site
	return &site
}

func (s *MemStore) AddZone(zone WarehouseZone) *WarehouseZone {
	s.mu.Lock()
	defer s.mu.Unlock()
	if zone.ID == 0 {
		zone.ID = s.id()
	}
	s.zones[zone.ID] = &zone
	return &zone
}

func (s *MemStore) AddLocation(loc Location) *Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if loc.ID == 0 {
		loc.ID = s.id()
	}
	s.locations[loc.ID] = &loc
	return &loc
}

func (s *MemStore) AddLotSerial(ls LotSerial) *LotSerial {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ls.ID == 0 {
		ls.ID = s.id()
	}
	s.lots[ls.ID] = &ls
	return &ls
}

// AddItemLoc seeds on-hand stock. QtyOnHand of the item site is raised to match.
func (s *MemStore) AddItemLoc(il ItemLoc) *ItemLoc {
	s.mu.Lock()
	defer s.mu.Unlock()
	if il.ID == 0 {
		il.ID = s.id()
	}
	s.itemLocs[il.ID] = &il
	if site := s.sites[il.ItemSiteId]; site != nil {
		site.QtyOnHand = site.QtyOnHand.Add(il.Qty)
	}
	return &il
}

// AddLotSerialDetail seeds a preassignment carried by a source document.
func (s *MemStore) AddLotSerialDetail(d LotSerialDetail) *LotSerialDetail {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == 0 {
		d.ID = s.id()
	}
	s.details[d.ID] = &d
	return &d
}

func (s *MemStore) AddLotSerialSequence(seq LotSerialSequence) *LotSerialSequence {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq.ID == 0 {
		seq.ID = s.id()
	}
	if seq.Next == 0 {
		seq.Next = 1
	}
	s.sequences[seq.ID] = &seq
	return &seq
}

// inspection

func (s *MemStore) ItemSite(id int) ItemSite {
	s.mu.Lock()
	defer s.mu.Unlock()
	if site := s.sites[id]; site != nil {
		return *site
	}
	return ItemSite{}
}

func (s *MemStore) ItemLocs(itemSiteId int) []ItemLoc {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ItemLoc, 0)
	for _, il := range s.itemLocs {
		if il.ItemSiteId == itemSiteId {
			out = append(out, *il)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemStore) Distributions() []ItemlocDist {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ItemlocDist, 0, len(s.dists))
	for _, d := range s.dists {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemStore) LotSerialDetails() []LotSerialDetail {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LotSerialDetail, 0, len(s.details))
	for _, d := range s.details {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemStore) LotSerials() []LotSerial {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LotSerial, 0, len(s.lots))
	for _, ls := range s.lots {
		out = append(out, *ls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemStore) InvHists() []InvHist {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]InvHist, 0, len(s.hists))
	for _, h := range s.hists {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StockSnapshot is on-hand state and posted history, for before/after comparisons.
type StockSnapshot struct {
	QtyOnHand map[int]string
	ItemLocs  map[string]string
	InvHists  int
	Posted    int
}

func (s *MemStore) Snapshot() StockSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := StockSnapshot{QtyOnHand: map[int]string{}, ItemLocs: map[string]string{}, InvHists: len(s.hists)}
	for id, site := range s.sites {
		snap.QtyOnHand[id] = site.QtyOnHand.String()
	}
	for _, il := range s.itemLocs {
		key := fmt.Sprintf("%d/%d/%d", il.ItemSiteId, il.LocationId, il.LotSerialId)
		snap.ItemLocs[key] = il.Qty.String()
	}
	for _, d := range s.dists {
		if d.Posted {
			snap.Posted++
		}
	}
	return snap
}

// sequence and policy

func (s *MemStore) NextSeriesId(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("NextSeriesId"); err != nil {
		return 0, err
	}
	s.nextSeries++
	return s.nextSeries, nil
}

func (s *MemStore) GetItemSitePolicy(ctx context.Context, itemSiteId int) (*ItemSitePolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("GetItemSitePolicy"); err != nil {
		return nil, err
	}
	return s.policy(itemSiteId)
}

func (s *MemStore) policy(itemSiteId int) (*ItemSitePolicy, error) {
	site := s.sites[itemSiteId]
	if site == nil {
		return nil, utils.ErrorRecordNotFound
	}
	return NewItemSitePolicy(site, s.items[site.ItemId]), nil
}

// ledger

func cloneDist(d *ItemlocDist) *ItemlocDist {
	c := *d
	return &c
}

func (s *MemStore) CreateDistribution(ctx context.Context, dist *ItemlocDist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("CreateDistribution"); err != nil {
		return err
	}
	s.insertDist(dist)
	return nil
}

func (s *MemStore) insertDist(dist *ItemlocDist) {
	dist.ID = s.id()
	if dist.ResolutionState == "" {
		dist.ResolutionState = ResolutionUnresolved
	}
	dist.CreatedAt = s.now()
	dist.UpdatedAt = dist.CreatedAt
	s.dists[dist.ID] = cloneDist(dist)
}

func (s *MemStore) GetDistribution(ctx context.Context, id int) (*ItemlocDist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("GetDistribution"); err != nil {
		return nil, err
	}
	d := s.dists[id]
	if d == nil {
		return nil, utils.ErrorRecordNotFound
	}
	return cloneDist(d), nil
}

func (s *MemStore) filterDists(keep func(*ItemlocDist) bool) []*ItemlocDist {
	out := make([]*ItemlocDist, 0)
	for _, d := range s.dists {
		if keep(d) {
			out = append(out, cloneDist(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemStore) ListBySeries(ctx context.Context, series int) ([]*ItemlocDist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("ListBySeries"); err != nil {
		return nil, err
	}
	return s.bySeries(series), nil
}

func (s *MemStore) bySeries(series int) []*ItemlocDist {
	return s.filterDists(func(d *ItemlocDist) bool { return d.Series == series })
}

func (s *MemStore) byParent(parentId int) []*ItemlocDist {
	return s.filterDists(func(d *ItemlocDist) bool { return d.ParentId != nil && *d.ParentId == parentId })
}

func (s *MemStore) ListUnresolved(ctx context.Context, series int) ([]*ItemlocDist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterDists(func(d *ItemlocDist) bool {
		return d.Series == series && d.ResolutionState == ResolutionUnresolved
	}), nil
}

func (s *MemStore) ListChildDistributions(ctx context.Context, parentId int) ([]*ItemlocDist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byParent(parentId), nil
}

func (s *MemStore) SumChildQty(ctx context.Context, parentId int) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, d := range s.byParent(parentId) {
		sum = sum.Add(d.Qty)
	}
	return sum, nil
}

func (s *MemStore) ChildQtyByParent(ctx context.Context, series int) (map[int]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int]decimal.Decimal{}
	for _, parent := range s.bySeries(series) {
		for _, d := range s.byParent(parent.ID) {
			out[parent.ID] = out[parent.ID].Add(d.Qty)
		}
	}
	return out, nil
}

func (s *MemStore) SetResolution(ctx context.Context, id int, res Resolution) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("SetResolution"); err != nil {
		return 0, err
	}
	d := s.dists[id]
	if d == nil || d.Posted {
		return 0, nil
	}
	d.ApplyResolution(res)
	d.UpdatedAt = s.now()
	return 1, nil
}

func (s *MemStore) SetSeriesSource(ctx context.Context, series int, sourceType SourceType, sourceId int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("SetSeriesSource"); err != nil {
		return 0, err
	}
	var n int64
	for _, d := range s.dists {
		if d.Series != series || d.Role != DistRoleLotSerial || d.Posted {
			continue
		}
		id := sourceId
		d.SourceType = sourceType
		d.SourceId = &id
		d.ApplyResolution(Terminal())
		d.UpdatedAt = s.now()
		n++
	}
	return n, nil
}

func (s *MemStore) SetDistributionSource(ctx context.Context, id int, sourceType SourceType, sourceId int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.dists[id]
	if d == nil || d.Posted {
		return utils.ErrorRecordNotFound
	}
	src := sourceId
	d.SourceType = sourceType
	d.SourceId = &src
	d.UpdatedAt = s.now()
	return nil
}

// lot/serial

func (s *MemStore) findLot(itemId int, number string) *LotSerial {
	for _, ls := range s.lots {
		if ls.ItemId == itemId && ls.Number == number {
			return ls
		}
	}
	return nil
}

func (s *MemStore) FindLotSerial(ctx context.Context, itemId int, number string) (*LotSerial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := s.findLot(itemId, number)
	if ls == nil {
		return nil, utils.ErrorRecordNotFound
	}
	c := *ls
	return &c, nil
}

func (s *MemStore) GetLotSerial(ctx context.Context, id int) (*LotSerial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := s.lots[id]
	if ls == nil {
		return nil, utils.ErrorRecordNotFound
	}
	c := *ls
	return &c, nil
}

func (s *MemStore) CreateLotSerialDetail(ctx context.Context, params CreateLotSerialParams) (*ItemlocDist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("CreateLotSerialDetail"); err != nil {
		return nil, err
	}
	if params.Parent == nil {
		return nil, errors.New("parent distribution is required")
	}
	policy, err := s.policy(params.Parent.ItemSiteId)
	if err != nil {
		return nil, err
	}

	lsId := params.LotSerialId
	if lsId == 0 {
		ls := s.findLot(policy.ItemId, params.Number)
		if ls == nil {
			ls = &LotSerial{ID: s.id(), ItemId: policy.ItemId, Number: params.Number, CreatedAt: s.now()}
			s.lots[ls.ID] = ls
		}
		lsId = ls.ID
	} else if s.lots[lsId] == nil {
		return nil, utils.ErrorRecordNotFound
	}

	parentId := params.Parent.ID
	dist := &ItemlocDist{
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
		SourceType:          SourceTypeDetail,
		LotSerialId:         &lsId,
		PreassignedDetailId: params.PreassignedDetailId,
		Expiration:          params.Expiration,
		Warranty:            params.Warranty,
	}
	s.insertDist(dist)

	series := params.ChildSeries
	distId := dist.ID
	detail := &LotSerialDetail{
		ID:              s.id(),
		ItemSiteId:      params.Parent.ItemSiteId,
		LotSerialId:     lsId,
		Series:          &series,
		SourceType:      LotSerialSourceInventory,
		SourceOrderType: params.Parent.OrderType,
		SourceNumber:    params.Parent.OrderNumber,
		SourceId:        params.Parent.OrderId,
		DistributionId:  &distId,
		Qty:             params.Qty,
		Expiration:      params.Expiration,
		Warranty:        params.Warranty,
		CreatedAt:       s.now(),
	}
	s.details[detail.ID] = detail

	detailId := detail.ID
	s.dists[dist.ID].SourceId = &detailId
	return cloneDist(s.dists[dist.ID]), nil
}

func (s *MemStore) consumed(detailId int) decimal.Decimal {
	sum := decimal.Zero
	for _, d := range s.dists {
		if d.PreassignedDetailId != nil && *d.PreassignedDetailId == detailId {
			sum = sum.Add(d.Qty.Abs())
		}
	}
	return sum
}

func (s *MemStore) ListPreassigned(ctx context.Context, itemSiteId int, orderType OrderType, orderNumber string) ([]*PreassignedLotSerial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if orderNumber == "" {
		return nil, nil
	}
	details := make([]*LotSerialDetail, 0)
	for _, d := range s.details {
		if d.ItemSiteId == itemSiteId && d.SourceOrderType == orderType && d.SourceNumber == orderNumber &&
			d.Series == nil && d.QtyToAssign.IsPositive() {
			details = append(details, d)
		}
	}
	sort.Slice(details, func(i, j int) bool { return details[i].ID > details[j].ID })

	out := make([]*PreassignedLotSerial, 0)
	for _, d := range latestDetailPerLot(details) {
		remaining := d.QtyToAssign.Sub(s.consumed(d.ID))
		if !remaining.IsPositive() {
			continue
		}
		row := &PreassignedLotSerial{
			DetailId:    d.ID,
			LotSerialId: d.LotSerialId,
			Expiration:  d.Expiration,
			Warranty:    d.Warranty,
			Remaining:   remaining,
		}
		if ls := s.lots[d.LotSerialId]; ls != nil {
			row.Number = ls.Number
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *MemStore) PreassignedRemaining(ctx context.Context, detailId int) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.details[detailId]
	if d == nil {
		return decimal.Zero, utils.ErrorRecordNotFound
	}
	return d.QtyToAssign.Sub(s.consumed(detailId)), nil
}

func (s *MemStore) itemOfSite(itemSiteId int) int {
	if site := s.sites[itemSiteId]; site != nil {
		return site.ItemId
	}
	return 0
}

func (s *MemStore) SerialInUse(ctx context.Context, itemId int, lotSerialId int, excludeSeries int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, il := range s.itemLocs {
		if il.LotSerialId == lotSerialId && il.Qty.IsPositive() && s.itemOfSite(il.ItemSiteId) == itemId {
			return true, nil
		}
	}
	return s.serialInFlight(itemId, lotSerialId, excludeSeries, true), nil
}

func (s *MemStore) SerialInFlight(ctx context.Context, itemId int, lotSerialId int, excludeSeries int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serialInFlight(itemId, lotSerialId, excludeSeries, false), nil
}

func (s *MemStore) serialInFlight(itemId int, lotSerialId int, excludeSeries int, receipts bool) bool {
	for _, d := range s.dists {
		if d.Role != DistRoleLotSerial || d.Posted || d.Series == excludeSeries || d.LotSerialId == nil {
			continue
		}
		if *d.LotSerialId != lotSerialId || s.itemOfSite(d.ItemSiteId) != itemId {
			continue
		}
		if receipts == d.Qty.IsPositive() {
			return true
		}
	}
	return false
}

func (s *MemStore) NextLotSerialNumber(ctx context.Context, sequenceId int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("NextLotSerialNumber"); err != nil {
		return "", err
	}
	seq := s.sequences[sequenceId]
	if seq == nil {
		return "", utils.ErrorRecordNotFound
	}
	number := seq.Format(seq.Next)
	seq.Next++
	return number, nil
}

func (s *MemStore) ListOnHandLotSerials(ctx context.Context, itemSiteId int) ([]*LotSerialOnHand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	itemLocs := s.itemLocsOf(itemSiteId)
	return aggregateOnHand(itemLocs, s.lots), nil
}

func (s *MemStore) itemLocsOf(itemSiteId int) []*ItemLoc {
	out := make([]*ItemLoc, 0)
	for _, il := range s.itemLocs {
		if il.ItemSiteId == itemSiteId {
			c := *il
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// inventory

func (s *MemStore) GetLocation(ctx context.Context, id int) (*Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc := s.locations[id]
	if loc == nil {
		return nil, utils.ErrorRecordNotFound
	}
	c := *loc
	return &c, nil
}

func (s *MemStore) GetItemLoc(ctx context.Context, id int) (*ItemLoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	il := s.itemLocs[id]
	if il == nil {
		return nil, utils.ErrorRecordNotFound
	}
	c := *il
	return &c, nil
}

func (s *MemStore) ListItemLocations(ctx context.Context, query LocationQuery) ([]*LocationCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site := s.sites[query.ItemSiteId]
	if site == nil {
		return nil, utils.ErrorRecordNotFound
	}
	locations := make([]*Location, 0)
	for _, loc := range s.locations {
		if loc.WarehouseId == site.WarehouseId {
			locations = append(locations, loc)
		}
	}
	sort.Slice(locations, func(i, j int) bool { return locations[i].ID < locations[j].ID })

	itemLocs := make([]*ItemLoc, 0)
	for _, il := range s.itemLocsOf(site.ID) {
		if !il.Qty.IsZero() {
			itemLocs = append(itemLocs, il)
		}
	}
	var picks []*ItemlocDist
	if query.DistributionId > 0 {
		picks = s.filterDists(func(d *ItemlocDist) bool {
			return d.Role == DistRoleLocation && d.ParentId != nil && *d.ParentId == query.DistributionId
		})
	}
	return buildLocationCandidates(locations, itemLocs, s.lots, picks, query), nil
}

func (s *MemStore) QtyAvailableAtLocation(ctx context.Context, itemSiteId int, locationId int, lotSerialId int) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("QtyAvailableAtLocation"); err != nil {
		return decimal.Zero, err
	}
	avail := decimal.Zero
	atLocation := map[int]bool{}
	for _, il := range s.itemLocs {
		if il.ItemSiteId != itemSiteId || il.LocationId != locationId {
			continue
		}
		if lotSerialId > 0 && il.LotSerialId != lotSerialId {
			continue
		}
		avail = avail.Add(il.Qty)
		atLocation[il.ID] = true
	}
	for _, d := range s.dists {
		if d.ItemSiteId != itemSiteId || d.Role != DistRoleLocation || d.Posted || !d.Qty.IsNegative() || d.SourceId == nil {
			continue
		}
		if lotSerialId > 0 && (d.LotSerialId == nil || *d.LotSerialId != lotSerialId) {
			continue
		}
		if (d.SourceType == SourceTypeLocation && *d.SourceId == locationId) ||
			(d.SourceType == SourceTypeItemLoc && atLocation[*d.SourceId]) {
			avail = avail.Add(d.Qty)
		}
	}
	return avail, nil
}

func (s *MemStore) FindItemLocByLotSerial(ctx context.Context, warehouseId int, itemId int, number string) (*ItemLoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := s.findLot(itemId, number)
	if ls == nil {
		return nil, utils.ErrorRecordNotFound
	}
	ids := make([]int, 0)
	for id, il := range s.itemLocs {
		site := s.sites[il.ItemSiteId]
		if site == nil || site.WarehouseId != warehouseId || site.ItemId != itemId {
			continue
		}
		if il.LotSerialId == ls.ID && il.Qty.IsPositive() {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, utils.ErrorRecordNotFound
	}
	sort.Ints(ids)
	c := *s.itemLocs[ids[0]]
	return &c, nil
}

// posting

// memTreeReader reads the ledger without taking the lock; the caller holds it.
type memTreeReader struct {
	s *MemStore
}

func (r memTreeReader) ListBySeries(ctx context.Context, series int) ([]*ItemlocDist, error) {
	return r.s.bySeries(series), nil
}

func (r memTreeReader) ListChildDistributions(ctx context.Context, parentId int) ([]*ItemlocDist, error) {
	return r.s.byParent(parentId), nil
}

func (s *MemStore) PostDistributionDetail(ctx context.Context, series int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("PostDistributionDetail"); err != nil {
		return 0, err
	}
	return s.postDistributionDetail(ctx, series)
}

func (s *MemStore) postDistributionDetail(ctx context.Context, series int) (int, error) {
	tree, err := CollectSeriesTree(ctx, memTreeReader{s}, series)
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
		if delta.ItemLocId > 0 && s.itemLocs[delta.ItemLocId] == nil {
			return 0, fmt.Errorf("itemloc %d: %w", delta.ItemLocId, utils.ErrorRecordNotFound)
		}
	}
	for _, delta := range plan.Deltas {
		s.applyItemLocDelta(delta)
	}
	now := s.now()
	for _, id := range plan.RecordIds() {
		d := s.dists[id]
		d.Posted = true
		d.PostedAt = &now
	}
	return len(plan.Records), nil
}

func (s *MemStore) applyItemLocDelta(delta ItemLocDelta) {
	var il *ItemLoc
	if delta.ItemLocId > 0 {
		il = s.itemLocs[delta.ItemLocId]
	} else {
		for _, cur := range s.itemLocs {
			if cur.ItemSiteId == delta.ItemSiteId && cur.LocationId == delta.LocationId && cur.LotSerialId == delta.LotSerialId {
				il = cur
				break
			}
		}
	}
	if il == nil {
		il = &ItemLoc{
			ID:          s.id(),
			ItemSiteId:  delta.ItemSiteId,
			LocationId:  delta.LocationId,
			LotSerialId: delta.LotSerialId,
			Expiration:  delta.Expiration,
			Warranty:    delta.Warranty,
			CreatedAt:   s.now(),
		}
		s.itemLocs[il.ID] = il
	}
	il.Qty = il.Qty.Add(delta.Qty)
	il.UpdatedAt = s.now()
	if il.Qty.IsZero() {
		delete(s.itemLocs, il.ID)
	}
}

func (s *MemStore) writeInvHist(hist *InvHist, qty decimal.Decimal) error {
	site := s.sites[hist.ItemSiteId]
	if site == nil {
		return utils.ErrorRecordNotFound
	}
	hist.ID = s.id()
	hist.UUID = uuid.NewString()
	hist.Qty = qty
	hist.QtyBefore = site.QtyOnHand
	hist.QtyAfter = site.QtyOnHand.Add(qty)
	if hist.TransDate.IsZero() {
		hist.TransDate = s.now()
	}
	hist.CreatedAt = s.now()
	site.QtyOnHand = hist.QtyAfter
	c := *hist
	s.hists[hist.ID] = &c

	if hist.Series > 0 {
		for _, d := range s.dists {
			if d.Series == hist.Series && d.ItemSiteId == hist.ItemSiteId && d.Role == DistRoleRoot && d.InvHistId == nil {
				id := hist.ID
				d.InvHistId = &id
			}
		}
	}
	return nil
}

func (s *MemStore) PostInvTrans(ctx context.Context, trans *InvTrans) (*InvHist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("PostInvTrans"); err != nil {
		return nil, err
	}
	if s.sites[trans.ItemSiteId] == nil {
		return nil, utils.ErrorRecordNotFound
	}
	if trans.PostDistribution && trans.Series > 0 {
		if _, err := s.postDistributionDetail(ctx, trans.Series); err != nil {
			return nil, err
		}
	}
	hist := &InvHist{
		ItemSiteId: trans.ItemSiteId,
		TransType:  trans.TransType,
		OrderType:  trans.OrderType,
		DocNumber:  trans.DocNumber,
		Comments:   trans.Comments,
		Series:     trans.Series,
		TransDate:  trans.TransDate,
		User:       trans.User,
	}
	if err := s.writeInvHist(hist, trans.Qty); err != nil {
		return nil, err
	}
	return hist, nil
}

func (s *MemStore) PostInterWarehouseTransfer(ctx context.Context, trans *TransferTrans) ([]*InvHist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("PostInterWarehouseTransfer"); err != nil {
		return nil, err
	}
	if !trans.Qty.IsPositive() {
		return nil, fmt.Errorf("transfer quantity must be positive, got %s", trans.Qty.String())
	}
	if s.sites[trans.FromItemSiteId] == nil || s.sites[trans.ToItemSiteId] == nil {
		return nil, utils.ErrorRecordNotFound
	}
	if trans.PostDistribution && trans.Series > 0 {
		if _, err := s.postDistributionDetail(ctx, trans.Series); err != nil {
			return nil, err
		}
	}
	hists := make([]*InvHist, 0, 2)
	for _, leg := range []struct {
		itemSiteId int
		qty        decimal.Decimal
	}{
		{trans.FromItemSiteId, trans.Qty.Neg()},
		{trans.ToItemSiteId, trans.Qty},
	} {
		hist := &InvHist{
			ItemSiteId: leg.itemSiteId,
			TransType:  TransTypeInterWarehouse,
			DocNumber:  trans.DocNumber,
			Comments:   trans.Comments,
			Series:     trans.Series,
			TransDate:  trans.TransDate,
			User:       trans.User,
		}
		if err := s.writeInvHist(hist, leg.qty); err != nil {
			return nil, err
		}
		hists = append(hists, hist)
	}
	return hists, nil
}

// cleanup

func (s *MemStore) DeleteSeries(ctx context.Context, series int, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("DeleteSeries"); err != nil {
		return err
	}
	tree, err := CollectSeriesTree(ctx, memTreeReader{s}, series)
	if err != nil {
		return err
	}
	ids := map[int]bool{}
	for _, id := range unpostedIds(tree) {
		ids[id] = true
	}
	if force {
		lotIds := make([]int, 0)
		for id, d := range s.details {
			if d.DistributionId != nil && ids[*d.DistributionId] {
				lotIds = append(lotIds, d.LotSerialId)
				delete(s.details, id)
			}
		}
		for id := range ids {
			delete(s.dists, id)
		}
		s.deleteOrphanLotSerials(lotIds)
		return nil
	}
	for id := range ids {
		delete(s.dists, id)
	}
	return nil
}

func (s *MemStore) deleteOrphanLotSerials(lotIds []int) {
	for _, id := range lotIds {
		referenced := false
		for _, d := range s.details {
			if d.LotSerialId == id {
				referenced = true
				break
			}
		}
		for _, il := range s.itemLocs {
			if referenced {
				break
			}
			if il.LotSerialId == id {
				referenced = true
			}
		}
		for _, d := range s.dists {
			if referenced {
				break
			}
			if d.LotSerialId != nil && *d.LotSerialId == id {
				referenced = true
			}
		}
		if !referenced {
			delete(s.lots, id)
		}
	}
}

func (s *MemStore) ListAbandonedSeries(ctx context.Context, olderThan time.Time) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[int]bool{}
	out := make([]int, 0)
	for _, d := range s.dists {
		if d.Role == DistRoleRoot && !d.Posted && d.CreatedAt.Before(olderThan) && !seen[d.Series] {
			seen[d.Series] = true
			out = append(out, d.Series)
		}
	}
	sort.Ints(out)
	return out, nil
}
