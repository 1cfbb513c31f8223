// backend/src/processors/grouper.go
package processors

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/models"
)

// PriceLookup resolves a historical USD price for an asset at a point in
// time. It is supplied by the price service; the grouper itself performs no
// I/O and only calls it for convert legs, which carry no quote-currency leg
// of their own.
type PriceLookup func(asset string, ts time.Time) (decimal.Decimal, error)

// GroupResult is the outcome of grouping one ordered event sequence.
// Grouping never fails as a whole: unresolvable buckets are surfaced as
// GroupingErrors with their raw events attached for manual review.
type GroupResult struct {
	Trades      []models.Trade
	Passthrough []models.TransactionEvent // transfers, deposits, withdrawals
	Errors      []models.GroupingError
}

// Grouper collapses the several raw rows an exchange spreads one real trade
// across (buy leg, spend leg, fee leg) into canonical trades. Events are
// bucketed by minute and operation class, then split into episodes so that
// two independent identical trades in the same minute are not merged.
type Grouper struct {
	mapping      *models.ProviderMapping
	priceLookup  PriceLookup
	defaultPrice decimal.Decimal
}

func NewGrouper(mapping *models.ProviderMapping, priceLookup PriceLookup, defaultPrice decimal.Decimal) *Grouper {
	return &Grouper{mapping: mapping, priceLookup: priceLookup, defaultPrice: defaultPrice}
}

type bucket struct {
	key    string
	class  models.OperationClass
	events []models.TransactionEvent
}

// Group partitions events into minute buckets per operation class and emits
// canonical trades. Events are processed in ascending timestamp order;
// within one timestamp the input order is preserved, which keeps trade ids
// stable across re-runs of the same batch.
func (g *Grouper) Group(events []models.TransactionEvent) GroupResult {
	var result GroupResult

	ordered := make([]models.TransactionEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	buckets := make(map[string]*bucket)
	var bucketOrder []string

	for _, ev := range ordered {
		class := ev.Kind.Class()
		switch class {
		case models.ClassPassthrough:
			result.Passthrough = append(result.Passthrough, ev)
			continue
		case models.ClassNone:
			continue
		}
		key := fmt.Sprintf("%s|%s|%s", ev.Provider, ev.Timestamp.UTC().Truncate(time.Minute).Format("2006-01-02 15:04"), class)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{key: key, class: class}
			buckets[key] = b
			bucketOrder = append(bucketOrder, key)
		}
		b.events = append(b.events, ev)
	}

	for _, key := range bucketOrder {
		b := buckets[key]
		switch b.class {
		case models.ClassTrade:
			g.groupTradeBucket(b, &result)
		case models.ClassConvert:
			g.groupConvertBucket(b, &result)
		}
	}
	return result
}

// episode is one self-contained trade within a minute bucket. A bucket holds
// a single episode unless a leg pattern repeats (see splitEpisodes).
type episode struct {
	acquired   map[string]decimal.Decimal // non-quote asset -> total received
	disposed   map[string]decimal.Decimal // non-quote asset -> total given (positive)
	quoteOut   decimal.Decimal            // quote currency paid
	quoteIn    decimal.Decimal            // quote currency received
	fees       map[string]decimal.Decimal // fee asset -> total (positive)
	order      []string                   // first-appearance order of acquired/disposed assets
	events     []models.TransactionEvent
}

func newEpisode() *episode {
	return &episode{
		acquired: make(map[string]decimal.Decimal),
		disposed: make(map[string]decimal.Decimal),
		fees:     make(map[string]decimal.Decimal),
	}
}

func (e *episode) noteAsset(asset string) {
	for _, a := range e.order {
		if a == asset {
			return
		}
	}
	e.order = append(e.order, asset)
}

// splitEpisodes walks a trade bucket in row order and closes the open
// episode whenever a primary leg repeats for an asset that already completed
// its pairing: an acquired leg for an already-acquired asset after a spend
// leg arrived, or a disposed leg for an already-disposed asset after a
// revenue leg arrived. Partial fills (repeated legs before the quote leg)
// and repeated quote legs stay in one episode and are summed.
func (g *Grouper) splitEpisodes(events []models.TransactionEvent) []*episode {
	var episodes []*episode
	cur := newEpisode()

	flush := func() {
		if len(cur.events) > 0 {
			episodes = append(episodes, cur)
		}
		cur = newEpisode()
	}

	for _, ev := range events {
		amount := ev.Amount
		switch ev.Kind {
		case models.OpFeeLeg:
			cur.fees[ev.Asset] = cur.fees[ev.Asset].Add(amount.Abs())
		case models.OpBuyLeg, models.OpRevenueLeg:
			if g.mapping.IsQuoteAsset(ev.Asset) {
				cur.quoteIn = cur.quoteIn.Add(amount)
			} else {
				if _, seen := cur.acquired[ev.Asset]; seen && cur.quoteOut.IsPositive() {
					flush()
				}
				cur.acquired[ev.Asset] = cur.acquired[ev.Asset].Add(amount)
				cur.noteAsset(ev.Asset)
			}
		case models.OpSellLeg, models.OpSpendLeg:
			if g.mapping.IsQuoteAsset(ev.Asset) {
				cur.quoteOut = cur.quoteOut.Add(amount.Abs())
			} else {
				if _, seen := cur.disposed[ev.Asset]; seen && cur.quoteIn.IsPositive() {
					flush()
				}
				cur.disposed[ev.Asset] = cur.disposed[ev.Asset].Add(amount.Abs())
				cur.noteAsset(ev.Asset)
			}
		}
		cur.events = append(cur.events, ev)
	}
	flush()
	return episodes
}

func (g *Grouper) groupTradeBucket(b *bucket, result *GroupResult) {
	episodes := g.splitEpisodes(b.events)
	for idx, ep := range episodes {
		emitted := false

		// The quote-currency fee belongs to one side only; sells take
		// precedence when an episode carries both.
		quoteFee := g.quoteFeeTotal(ep)
		hasSells := len(ep.disposed) > 0 && ep.quoteIn.IsPositive()
		buyFee := quoteFee
		if hasSells {
			buyFee = decimal.Zero
		}

		if len(ep.acquired) > 0 && ep.quoteOut.IsPositive() {
			g.emitBuys(b, idx, ep, buyFee, result)
			emitted = true
		} else if len(ep.acquired) > 0 {
			result.Errors = append(result.Errors, models.GroupingError{
				BucketKey: b.key,
				Reason:    "acquired legs with no matching spend leg",
				Events:    ep.events,
			})
		}

		if hasSells {
			g.emitSells(b, idx, ep, quoteFee, result)
			emitted = true
		} else if len(ep.disposed) > 0 {
			result.Errors = append(result.Errors, models.GroupingError{
				BucketKey: b.key,
				Reason:    "disposed legs with no matching revenue leg",
				Events:    ep.events,
			})
		}

		if !emitted && len(ep.acquired) == 0 && len(ep.disposed) == 0 {
			result.Errors = append(result.Errors, models.GroupingError{
				BucketKey: b.key,
				Reason:    "quote or fee legs with no primary trade leg",
				Events:    ep.events,
			})
		}
	}
}

func (g *Grouper) emitBuys(b *bucket, episodeIdx int, ep *episode, quoteFee decimal.Decimal, result *GroupResult) {
	assets := orderedAssets(ep.order, ep.acquired)
	shares := distributeProportion(ep.quoteOut, weights(assets, ep.acquired))
	quoteFeeShares := distributeProportion(quoteFee, weights(assets, ep.acquired))

	for i, asset := range assets {
		gross := ep.acquired[asset]
		sameAssetFee := ep.fees[asset]
		net := gross.Sub(sameAssetFee)
		if !net.IsPositive() {
			// A trade whose fee swallows the whole quantity carries no
			// accountable acquisition.
			continue
		}
		costUSD := shares[i]
		unitPrice := costUSD.Div(net)

		trade := models.Trade{
			UserID:          userOf(ep.events),
			Provider:        b.events[0].Provider,
			Kind:            models.TradeBuy,
			Timestamp:       ep.events[0].Timestamp,
			Asset:           asset,
			NetAmount:       net,
			CounterValueUSD: costUSD,
			UnitPriceUSD:    unitPrice,
			FeeUSD:          quoteFeeShares[i],
			BatchID:         ep.events[0].BatchID,
		}
		if sameAssetFee.IsPositive() {
			trade.FeeAmount = sameAssetFee
			trade.FeeAsset = asset
			trade.FeeUSD = trade.FeeUSD.Add(sameAssetFee.Mul(unitPrice))
		}
		trade.ID = tradeID(trade.UserID, trade.Provider, b.key, episodeIdx, trade.Kind, asset)
		result.Trades = append(result.Trades, trade)
	}
}

func (g *Grouper) emitSells(b *bucket, episodeIdx int, ep *episode, quoteFee decimal.Decimal, result *GroupResult) {
	assets := orderedAssets(ep.order, ep.disposed)
	shares := distributeProportion(ep.quoteIn, weights(assets, ep.disposed))
	quoteFeeShares := distributeProportion(quoteFee, weights(assets, ep.disposed))

	for i, asset := range assets {
		gross := ep.disposed[asset]
		sameAssetFee := ep.fees[asset]
		net := gross.Sub(sameAssetFee)
		if !net.IsPositive() {
			continue
		}
		proceedsUSD := shares[i]
		unitPrice := proceedsUSD.Div(net)

		trade := models.Trade{
			UserID:          userOf(ep.events),
			Provider:        b.events[0].Provider,
			Kind:            models.TradeSell,
			Timestamp:       ep.events[0].Timestamp,
			Asset:           asset,
			NetAmount:       net,
			CounterValueUSD: proceedsUSD,
			UnitPriceUSD:    unitPrice,
			FeeUSD:          quoteFeeShares[i],
			BatchID:         ep.events[0].BatchID,
		}
		if sameAssetFee.IsPositive() {
			trade.FeeAmount = sameAssetFee
			trade.FeeAsset = asset
			trade.FeeUSD = trade.FeeUSD.Add(sameAssetFee.Mul(unitPrice))
		}
		trade.ID = tradeID(trade.UserID, trade.Provider, b.key, episodeIdx, trade.Kind, asset)
		result.Trades = append(result.Trades, trade)
	}
}

// groupConvertBucket turns an exchange-native swap into a SELL of every
// outgoing leg and a BUY of every incoming leg, valued at the historical
// price since converts carry no quote-currency leg. A convert with no
// offsetting side is an error, not a silent drop.
func (g *Grouper) groupConvertBucket(b *bucket, result *GroupResult) {
	var incoming, outgoing []models.TransactionEvent
	for _, ev := range b.events {
		if ev.Amount.IsPositive() {
			incoming = append(incoming, ev)
		} else if ev.Amount.IsNegative() {
			outgoing = append(outgoing, ev)
		}
	}
	if len(incoming) == 0 || len(outgoing) == 0 {
		result.Errors = append(result.Errors, models.GroupingError{
			BucketKey: b.key,
			Reason:    "convert with no offsetting leg",
			Events:    b.events,
		})
		return
	}

	emit := func(ev models.TransactionEvent, kind models.TradeKind, seq int) {
		amount := ev.Amount.Abs()
		price := g.historicalPrice(ev.Asset, ev.Timestamp)
		trade := models.Trade{
			UserID:          ev.UserID,
			Provider:        ev.Provider,
			Kind:            kind,
			Timestamp:       ev.Timestamp,
			Asset:           ev.Asset,
			NetAmount:       amount,
			CounterValueUSD: amount.Mul(price),
			UnitPriceUSD:    price,
			ViaConvert:      true,
			BatchID:         ev.BatchID,
		}
		trade.ID = tradeID(trade.UserID, trade.Provider, b.key, seq, kind, ev.Asset)
		result.Trades = append(result.Trades, trade)
	}

	for i, ev := range outgoing {
		emit(ev, models.TradeSell, i)
	}
	for i, ev := range incoming {
		emit(ev, models.TradeBuy, i)
	}
}

func (g *Grouper) historicalPrice(asset string, ts time.Time) decimal.Decimal {
	if g.priceLookup != nil {
		if price, err := g.priceLookup(asset, ts); err == nil && price.IsPositive() {
			return price
		}
	}
	return g.defaultPrice
}

func (g *Grouper) quoteFeeTotal(ep *episode) decimal.Decimal {
	total := decimal.Zero
	for asset, amount := range ep.fees {
		if g.mapping.IsQuoteAsset(asset) {
			total = total.Add(amount)
		}
	}
	return total
}

// orderedAssets filters the episode's first-appearance order down to the
// assets present in the given role map, keeping output deterministic.
func orderedAssets(order []string, m map[string]decimal.Decimal) []string {
	var assets []string
	for _, a := range order {
		if _, ok := m[a]; ok {
			assets = append(assets, a)
		}
	}
	return assets
}

func weights(assets []string, m map[string]decimal.Decimal) []decimal.Decimal {
	w := make([]decimal.Decimal, len(assets))
	for i, a := range assets {
		w[i] = m[a]
	}
	return w
}

// distributeProportion splits total across weights by quantity share. The
// last share absorbs the division remainder so the shares always sum exactly
// to the total.
func distributeProportion(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(weights))
	if len(weights) == 0 {
		return shares
	}
	if len(weights) == 1 {
		shares[0] = total
		return shares
	}
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w)
	}
	if !sum.IsPositive() {
		return shares
	}
	assigned := decimal.Zero
	for i := 0; i < len(weights)-1; i++ {
		shares[i] = total.Mul(weights[i]).Div(sum)
		assigned = assigned.Add(shares[i])
	}
	shares[len(weights)-1] = total.Sub(assigned)
	return shares
}

func userOf(events []models.TransactionEvent) int64 {
	if len(events) == 0 {
		return 0
	}
	return events[0].UserID
}

// tradeID derives the deterministic trade identifier. Re-running the
// pipeline on the same inputs reproduces the same ids, which makes trade
// persistence an idempotent upsert.
func tradeID(userID int64, provider, bucketKey string, episode int, kind models.TradeKind, asset string) string {
	input := fmt.Sprintf("%d|%s|%s|%d|%s|%s", userID, provider, bucketKey, episode, kind, asset)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}
