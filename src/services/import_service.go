// backend/src/services/import_service.go
package services

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/config"
	"github.com/username/cryptofolio/backend/src/database"
	"github.com/username/cryptofolio/backend/src/ledger"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/parsers"
	"github.com/username/cryptofolio/backend/src/processors"
	"github.com/username/cryptofolio/backend/src/providers"
	"github.com/username/cryptofolio/backend/src/security/validation"
	"github.com/username/cryptofolio/backend/src/store"
)

const DefaultCacheExpiration = 15 * time.Minute

type importServiceImpl struct {
	registry     *providers.Registry
	priceService PriceService
	reportCache  *cache.Cache

	// One mutex per user serializes the insert-events-plus-rebuild sequence,
	// so a CSV upload and an API sync landing together cannot interleave
	// their derived-state writes.
	userLocksMu sync.Mutex
	userLocks   map[int64]*sync.Mutex
}

func NewImportService(registry *providers.Registry, priceService PriceService) ImportService {
	return &importServiceImpl{
		registry:     registry,
		priceService: priceService,
		reportCache:  cache.New(DefaultCacheExpiration, 30*time.Minute),
		userLocks:    make(map[int64]*sync.Mutex),
	}
}

func (s *importServiceImpl) userLock(userID int64) *sync.Mutex {
	s.userLocksMu.Lock()
	defer s.userLocksMu.Unlock()
	m, ok := s.userLocks[userID]
	if !ok {
		m = &sync.Mutex{}
		s.userLocks[userID] = m
	}
	return m
}

func (s *importServiceImpl) ProcessUpload(fileReader io.Reader, userID int64, provider, filename string, filesize int64) (*models.BatchResult, error) {
	overallStartTime := time.Now()
	logger.L.Info("ProcessUpload START", "userID", userID, "provider", provider, "filename", filename, "size", filesize)

	parser, err := parsers.GetParser(provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownProvider, err)
	}
	rows, err := parser.Parse(fileReader)
	if err != nil {
		// Structural problems (bad header, unreadable file) abort the batch
		// with nothing committed.
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}
	mapping, err := s.registry.Get(provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownProvider, err)
	}

	batchID := uuid.New().String()
	for i := range rows {
		rows[i].Remark = sanitizeRemark(rows[i].Remark, batchID)
	}
	normalized := processors.NewNormalizer(mapping).NormalizeAll(rows, userID, batchID)

	result, err := s.commitBatch(userID, provider, batchID, filename, normalized)
	if err != nil {
		return nil, err
	}
	logger.L.Info("ProcessUpload DONE", "userID", userID, "provider", provider,
		"imported", result.EventsImported, "duplicates", result.EventsDuplicate,
		"trades", result.TradesCreated, "duration", time.Since(overallStartTime))
	return result, nil
}

// ProcessFills ingests already-fetched exchange API fills. Each fill is
// exploded into the same event legs a CSV export would carry, so the
// grouping and FIFO logic is shared with the upload path instead of being
// reimplemented.
func (s *importServiceImpl) ProcessFills(fills []models.ExchangeFill, userID int64, provider string) (*models.BatchResult, error) {
	logger.L.Info("ProcessFills START", "userID", userID, "provider", provider, "fills", len(fills))
	if _, err := s.registry.Get(provider); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownProvider, err)
	}

	batchID := uuid.New().String()
	normalized := processors.NormalizeResult{}
	for i, fill := range fills {
		events, err := fillToEvents(fill, userID, provider, batchID, i)
		if err != nil {
			normalized.ParseErrors = append(normalized.ParseErrors, models.ParseErrorDetail{
				RowIndex: i, Field: "type", Value: fill.Type, Message: err.Error(),
			})
			continue
		}
		normalized.Events = append(normalized.Events, events...)
	}

	result, err := s.commitBatch(userID, provider, batchID, "", normalized)
	if err != nil {
		return nil, err
	}
	logger.L.Info("ProcessFills DONE", "userID", userID, "provider", provider,
		"imported", result.EventsImported, "trades", result.TradesCreated)
	return result, nil
}

// sanitizeRemark scrubs exchange-supplied free text before it is stored:
// markup and unprintable characters are stripped, overlong values are cut,
// spreadsheet formula prefixes are neutralized and anything still resembling
// a script payload is dropped entirely.
func sanitizeRemark(remark, batchID string) string {
	s := validation.SanitizeText(validation.StripUnprintable(remark))
	if validation.ValidateStringMaxLength(s, validation.MaxRemarkLength, "remark") != nil {
		s = string([]rune(s)[:validation.MaxRemarkLength])
	}
	if validation.CheckXSSPatterns(s, "remark", batchID) != nil {
		return ""
	}
	if validation.CheckFormulaInjection(s, "remark", batchID) != nil {
		s = validation.SanitizeForFormulaInjection(s)
	}
	return s
}

// fillToEvents turns one API fill into its constituent event legs. The
// source refs are derived from the fill's external id so a re-sync of the
// same window is deduplicated by the events table.
func fillToEvents(fill models.ExchangeFill, userID int64, provider, batchID string, index int) ([]models.TransactionEvent, error) {
	if err := validation.ValidateAssetSymbol(fill.Asset); err != nil {
		return nil, err
	}
	if fill.FeeAsset != "" {
		if err := validation.ValidateAssetSymbol(fill.FeeAsset); err != nil {
			return nil, err
		}
	}
	ref := func(suffix string) string {
		if fill.ExternalID != "" {
			return fmt.Sprintf("%s-%s-%s", provider, fill.ExternalID, suffix)
		}
		return fmt.Sprintf("%s-fill-%s-%d-%s", provider, fill.Timestamp.UTC().Format("20060102150405"), index, suffix)
	}
	leg := func(kind models.OperationKind, asset string, amount decimal.Decimal, suffix string) models.TransactionEvent {
		return models.TransactionEvent{
			UserID:    userID,
			Provider:  provider,
			Timestamp: fill.Timestamp.UTC(),
			Kind:      kind,
			Asset:     strings.ToUpper(asset),
			Amount:    amount,
			SourceRef: ref(suffix),
			BatchID:   batchID,
		}
	}

	var events []models.TransactionEvent
	switch strings.ToLower(fill.Type) {
	case "buy":
		events = append(events,
			leg(models.OpBuyLeg, fill.Asset, fill.Quantity, "base"),
			leg(models.OpSpendLeg, fill.QuoteAsset, fill.Quantity.Mul(fill.Price).Neg(), "quote"))
	case "sell":
		events = append(events,
			leg(models.OpSellLeg, fill.Asset, fill.Quantity.Neg(), "base"),
			leg(models.OpRevenueLeg, fill.QuoteAsset, fill.Quantity.Mul(fill.Price), "quote"))
	case "deposit":
		events = append(events, leg(models.OpDeposit, fill.Asset, fill.Quantity, "base"))
	case "withdrawal":
		events = append(events, leg(models.OpWithdrawal, fill.Asset, fill.Quantity.Neg(), "base"))
	default:
		return nil, fmt.Errorf("unsupported fill type %q", fill.Type)
	}
	if fill.FeeAmount.IsPositive() && fill.FeeAsset != "" {
		events = append(events, leg(models.OpFeeLeg, fill.FeeAsset, fill.FeeAmount.Neg(), "fee"))
	}
	return events, nil
}

// commitBatch persists the batch's events, rebuilds the user's derived state
// and assembles the batch report.
func (s *importServiceImpl) commitBatch(userID int64, provider, batchID, filename string, normalized processors.NormalizeResult) (*models.BatchResult, error) {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	inserted, duplicates, err := store.InsertEvents(database.DB, normalized.Events)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessingFailed, err)
	}

	rebuild, err := s.rebuild(userID)
	if err != nil {
		return nil, err
	}

	result := &models.BatchResult{
		BatchID:           batchID,
		Provider:          provider,
		EventsImported:    inserted,
		EventsDuplicate:   duplicates,
		ParseErrorCount:   len(normalized.ParseErrors),
		ParseErrors:       normalized.ParseErrors,
		UnknownOperations: normalized.UnknownOperations,
		GroupingErrCount:  len(rebuild.GroupingErrors),
		GroupingErrors:    rebuild.GroupingErrors,
	}
	for _, t := range rebuild.Trades {
		if t.BatchID == batchID {
			result.TradesCreated++
		}
	}
	for _, d := range rebuild.Disposals {
		if d.NeedsReview {
			result.NeedsReviewCount++
		}
	}
	result.BoundErrors()

	if err := store.RecordImport(database.DB, userID, filename, result); err != nil {
		logger.L.Error("Failed to record import history", "userID", userID, "batchID", batchID, "error", err)
	}
	s.InvalidateUserCache(userID)
	return result, nil
}

// Rebuild derives every trade, lot and disposal from the user's full event
// history. It is the only write path for derived state: events are the
// source of truth, everything else is recomputable, which also makes an
// aborted rebuild safe to retry.
func (s *importServiceImpl) Rebuild(userID int64) (*RebuildResult, error) {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()
	return s.rebuild(userID)
}

// rebuild runs the recomputation; callers must hold the user's lock.
func (s *importServiceImpl) rebuild(userID int64) (*RebuildResult, error) {
	events, err := store.ListEvents(database.DB, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessingFailed, err)
	}

	defaultPrice, err := decimal.NewFromString(config.Cfg.DefaultPriceUSD)
	if err != nil {
		defaultPrice = decimal.NewFromInt(1)
	}
	priceLookup := func(asset string, ts time.Time) (decimal.Decimal, error) {
		return s.priceService.GetHistoricalPrice(asset, ts)
	}

	// Events can span providers with different quote-asset conventions, so
	// each provider's slice is grouped with its own mapping.
	byProvider := make(map[string][]models.TransactionEvent)
	var providerOrder []string
	for _, ev := range events {
		if _, ok := byProvider[ev.Provider]; !ok {
			providerOrder = append(providerOrder, ev.Provider)
		}
		byProvider[ev.Provider] = append(byProvider[ev.Provider], ev)
	}

	rebuild := &RebuildResult{}
	var passthrough []models.TransactionEvent
	for _, provider := range providerOrder {
		mapping, err := s.registry.Get(provider)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownProvider, err)
		}
		grouped := processors.NewGrouper(mapping, priceLookup, defaultPrice).Group(byProvider[provider])
		rebuild.Trades = append(rebuild.Trades, grouped.Trades...)
		rebuild.GroupingErrors = append(rebuild.GroupingErrors, grouped.Errors...)
		passthrough = append(passthrough, grouped.Passthrough...)
	}

	var led *ledger.Ledger
	rebuild.Disposals, led = s.replay(rebuild.Trades, passthrough, priceLookup, defaultPrice)

	if err := store.UpsertTrades(database.DB, rebuild.Trades); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessingFailed, err)
	}
	if err := store.ReplaceLots(database.DB, userID, led.Lots(userID)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessingFailed, err)
	}
	if err := store.ReplaceDisposals(database.DB, userID, rebuild.Disposals); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessingFailed, err)
	}
	return rebuild, nil
}

// replay posts trades and lot-creating passthrough events against a fresh
// ledger in ascending timestamp order and collects the disposals.
func (s *importServiceImpl) replay(trades []models.Trade, passthrough []models.TransactionEvent,
	priceLookup processors.PriceLookup, defaultPrice decimal.Decimal) ([]models.Disposal, *ledger.Ledger) {

	type posting struct {
		ts    time.Time
		trade *models.Trade
		event *models.TransactionEvent
	}
	var postings []posting
	for i := range trades {
		postings = append(postings, posting{ts: trades[i].Timestamp, trade: &trades[i]})
	}
	for i := range passthrough {
		if passthrough[i].Kind == models.OpDeposit {
			postings = append(postings, posting{ts: passthrough[i].Timestamp, event: &passthrough[i]})
		}
	}
	sort.SliceStable(postings, func(i, j int) bool { return postings[i].ts.Before(postings[j].ts) })

	led := ledger.New()
	var disposals []models.Disposal
	for _, p := range postings {
		switch {
		case p.trade != nil && p.trade.Kind == models.TradeBuy:
			led.PostBuy(*p.trade)
		case p.trade != nil && p.trade.Kind == models.TradeSell:
			disposals = append(disposals, led.PostSell(*p.trade))
		case p.event != nil:
			// Deposits and airdrops open lots at the day's market price.
			// A remark-embedded fee ("withdraw fee 0.0005 included") was
			// charged before the funds arrived and is netted off.
			amount := p.event.Amount.Abs()
			if fee, ok := processors.RemarkFee(p.event.Remark); ok && fee.LessThan(amount) {
				ev := *p.event
				ev.Amount = amount.Sub(fee)
				p.event = &ev
			}
			price, err := priceLookup(p.event.Asset, p.event.Timestamp)
			if err != nil || !price.IsPositive() {
				price = defaultPrice
			}
			led.PostDeposit(*p.event, price)
		}
	}
	return disposals, led
}

func (s *importServiceImpl) GetTrades(userID int64) ([]models.Trade, error) {
	return store.ListTrades(database.DB, userID)
}

func (s *importServiceImpl) GetEvents(userID int64) ([]models.TransactionEvent, error) {
	return store.ListEvents(database.DB, userID)
}

func (s *importServiceImpl) GetLots(userID int64) ([]models.Lot, error) {
	return store.ListLots(database.DB, userID)
}

func (s *importServiceImpl) GetDisposals(userID int64) ([]models.Disposal, error) {
	return store.ListDisposals(database.DB, userID)
}

func (s *importServiceImpl) GetTaxSummary(userID int64, periodStart, periodEnd time.Time) (models.TaxSummary, error) {
	cacheKey := fmt.Sprintf("taxsummary:%d:%s:%s", userID, periodStart.Format("2006-01-02"), periodEnd.Format("2006-01-02"))
	if cached, found := s.reportCache.Get(cacheKey); found {
		return cached.(models.TaxSummary), nil
	}
	disposals, err := store.ListDisposals(database.DB, userID)
	if err != nil {
		return models.TaxSummary{}, err
	}
	summary := processors.NewTaxProcessor().Categorize(disposals, periodStart, periodEnd)
	s.reportCache.Set(cacheKey, summary, cache.DefaultExpiration)
	return summary, nil
}

func (s *importServiceImpl) GetHoldingsWithValue(userID int64) ([]models.HoldingValue, error) {
	lots, err := store.ListLots(database.DB, userID)
	if err != nil {
		return nil, err
	}

	type position struct {
		quantity decimal.Decimal
		basis    decimal.Decimal
	}
	positions := make(map[string]*position)
	var assetOrder []string
	for _, lot := range lots {
		if !lot.RemainingAmount.IsPositive() {
			continue
		}
		pos, ok := positions[lot.Asset]
		if !ok {
			pos = &position{}
			positions[lot.Asset] = pos
			assetOrder = append(assetOrder, lot.Asset)
		}
		pos.quantity = pos.quantity.Add(lot.RemainingAmount)
		pos.basis = pos.basis.Add(lot.RemainingAmount.Mul(lot.UnitCostUSD))
	}

	var holdings []models.HoldingValue
	for _, asset := range assetOrder {
		pos := positions[asset]
		h := models.HoldingValue{
			Asset:        asset,
			Quantity:     pos.quantity,
			CostBasisUSD: pos.basis,
			PriceStatus:  "UNAVAILABLE",
		}
		if price, err := s.priceService.GetCurrentPrice(asset); err == nil {
			h.CurrentPriceUSD = price
			h.MarketValueUSD = pos.quantity.Mul(price)
			h.UnrealizedPnLUSD = h.MarketValueUSD.Sub(pos.basis)
			h.PriceStatus = "OK"
		} else {
			logger.L.Warn("Could not price holding", "userID", userID, "asset", asset, "error", err)
		}
		holdings = append(holdings, h)
	}
	return holdings, nil
}

func (s *importServiceImpl) DeleteUserData(userID int64, provider string) error {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	if err := store.DeleteUserData(database.DB, userID, provider); err != nil {
		return err
	}
	// Remaining events (other providers) still need consistent derived
	// state.
	if _, err := s.rebuild(userID); err != nil {
		return err
	}
	s.InvalidateUserCache(userID)
	return nil
}

func (s *importServiceImpl) InvalidateUserCache(userID int64) {
	prefix := fmt.Sprintf("taxsummary:%d:", userID)
	for key := range s.reportCache.Items() {
		if strings.HasPrefix(key, prefix) {
			s.reportCache.Delete(key)
		}
	}
}
