package models

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type seriesTreeReader interface {
	ListBySeries(ctx context.Context, series int) ([]*ItemlocDist, error)
	ListChildDistributions(ctx context.Context, parentId int) ([]*ItemlocDist, error)
}

// CollectSeriesTree returns every record of series and of the series spawned from
// it, in ascending id order. Child series are followed through HasChildren links and
// through parent ids, so detail written before its parent was stamped is included.
func CollectSeriesTree(ctx context.Context, r seriesTreeReader, series int) ([]*ItemlocDist, error) {
	seenSeries := map[int]bool{series: true}
	seenRec := map[int]*ItemlocDist{}
	queue := []int{series}

	enqueue := func(s int) {
		if s > 0 && !seenSeries[s] {
			seenSeries[s] = true
			queue = append(queue, s)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		recs, err := r.ListBySeries(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if _, ok := seenRec[rec.ID]; ok {
				continue
			}
			seenRec[rec.ID] = rec
			if rec.ChildSeries != nil {
				enqueue(*rec.ChildSeries)
			}
			children, err := r.ListChildDistributions(ctx, rec.ID)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				enqueue(c.Series)
			}
		}
	}

	out := make([]*ItemlocDist, 0, len(seenRec))
	for _, rec := range seenRec {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ItemLocDelta is one on-hand change produced by a resolved leaf record.
// ItemLocId is set when the leaf picked an existing itemloc.
type ItemLocDelta struct {
	DistributionId int
	ItemSiteId     int
	LocationId     int
	ItemLocId      int
	LotSerialId    int
	Qty            decimal.Decimal
	Expiration     *time.Time
	Warranty       *time.Time
}

type PostingPlan struct {
	Series  int
	Records []*ItemlocDist
	Deltas  []ItemLocDelta
}

func (p *PostingPlan) RecordIds() []int {
	ids := make([]int, 0, len(p.Records))
	for _, r := range p.Records {
		ids = append(ids, r.ID)
	}
	return ids
}

// BuildPostingPlan checks the unposted part of a series tree and derives its on-hand
// changes. Every record with children must be fully distributed to them; every leaf
// must be resolved to a location, an itemloc or lot/serial-only stock.
func BuildPostingPlan(series int, tree []*ItemlocDist) (*PostingPlan, error) {
	plan := &PostingPlan{Series: series}

	byId := make(map[int]*ItemlocDist, len(tree))
	children := map[int][]*ItemlocDist{}
	for _, rec := range tree {
		byId[rec.ID] = rec
	}
	for _, rec := range tree {
		if rec.ParentId != nil {
			if _, ok := byId[*rec.ParentId]; ok {
				children[*rec.ParentId] = append(children[*rec.ParentId], rec)
			}
		}
	}

	for _, rec := range tree {
		if rec.Posted {
			continue
		}
		plan.Records = append(plan.Records, rec)

		kids := children[rec.ID]
		if len(kids) > 0 {
			sum := decimal.Zero
			for _, k := range kids {
				sum = sum.Add(k.Qty)
			}
			if !sum.Equal(rec.Qty) {
				return nil, &DistError{
					Kind: KindLedgerInconsistency,
					Op:   "postDistributionDetail",
					Msg:  fmt.Sprintf("distribution %d has %s remaining to distribute", rec.ID, rec.Qty.Sub(sum).String()),
				}
			}
			continue
		}

		if !rec.Resolution().IsResolved() {
			return nil, &DistError{
				Kind: KindLedgerInconsistency,
				Op:   "postDistributionDetail",
				Msg:  fmt.Sprintf("distribution %d is not resolved", rec.ID),
			}
		}
		if rec.Resolution().State == ResolutionHasChildren {
			return nil, &DistError{
				Kind: KindLedgerInconsistency,
				Op:   "postDistributionDetail",
				Msg:  fmt.Sprintf("distribution %d references child series %d with no detail", rec.ID, rec.Resolution().ChildSeries),
			}
		}

		delta := ItemLocDelta{DistributionId: rec.ID, ItemSiteId: rec.ItemSiteId, Qty: rec.Qty}
		switch rec.SourceType {
		case SourceTypeLocation:
			if id := rec.LocationSourceId(); id > 0 {
				delta.LocationId = id
			}
		case SourceTypeItemLoc:
			delta.ItemLocId = rec.LocationSourceId()
		default:
			return nil, &DistError{
				Kind: KindLedgerInconsistency,
				Op:   "postDistributionDetail",
				Msg:  fmt.Sprintf("distribution %d has no location source", rec.ID),
			}
		}
		for cur := rec; cur != nil; {
			if cur.LotSerialId != nil {
				delta.LotSerialId = *cur.LotSerialId
				delta.Expiration = cur.Expiration
				delta.Warranty = cur.Warranty
				break
			}
			if cur.ParentId == nil {
				break
			}
			cur = byId[*cur.ParentId]
		}
		plan.Deltas = append(plan.Deltas, delta)
	}
	return plan, nil
}

// buildLocationCandidates lists existing stock first, then (when asked) empty locations.
func buildLocationCandidates(locations []*Location, itemLocs []*ItemLoc, lots map[int]*LotSerial, picks []*ItemlocDist, q LocationQuery) []*LocationCandidate {
	locById := make(map[int]*Location, len(locations))
	for _, l := range locations {
		locById[l.ID] = l
	}

	out := make([]*LocationCandidate, 0)
	withStock := map[int]bool{}
	for _, il := range itemLocs {
		if il.LocationId == 0 {
			continue
		}
		loc := locById[il.LocationId]
		if loc == nil {
			continue
		}
		c := &LocationCandidate{
			LocationId:  loc.ID,
			ZoneId:      loc.ZoneId,
			ItemLocId:   il.ID,
			LotSerialId: il.LotSerialId,
			Expiration:  il.Expiration,
			Netable:     loc.Netable,
			Usable:      loc.Usable,
			QtyBefore:   il.Qty,
		}
		c.LocationName = loc.Name
		if ls := lots[il.LotSerialId]; ls != nil {
			c.LotSerialNumber = ls.Number
		}
		withStock[loc.ID] = true
		out = append(out, c)
	}
	if q.IncludeEmpty {
		for _, loc := range locations {
			if !loc.Active || withStock[loc.ID] {
				continue
			}
			out = append(out, &LocationCandidate{
				LocationId:   loc.ID,
				LocationName: loc.Name,
				ZoneId:       loc.ZoneId,
				Netable:      loc.Netable,
				Usable:       loc.Usable,
			})
		}
	}

	for _, p := range picks {
		if p.Posted || p.SourceId == nil {
			continue
		}
		for _, c := range out {
			if p.SourceType == SourceTypeItemLoc && c.ItemLocId == *p.SourceId {
				c.QtyTagged = c.QtyTagged.Add(p.Qty)
				break
			}
			if p.SourceType == SourceTypeLocation && c.LocationId == *p.SourceId &&
				(c.ItemLocId == 0 || c.LotSerialId == derefInt(p.LotSerialId)) {
				c.QtyTagged = c.QtyTagged.Add(p.Qty)
				break
			}
		}
	}

	filtered := out[:0]
	for _, c := range out {
		if c.Matches(q) {
			filtered = append(filtered, c)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].LocationName != filtered[j].LocationName {
			return filtered[i].LocationName < filtered[j].LocationName
		}
		return filtered[i].LotSerialNumber < filtered[j].LotSerialNumber
	})
	return filtered
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
