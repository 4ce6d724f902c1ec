package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/restockly/notification-service-go/internal/catalog"
	"github.com/restockly/notification-service-go/internal/cooldown"
	"github.com/restockly/notification-service-go/internal/mailer"
	"github.com/restockly/notification-service-go/internal/shop"
	"github.com/restockly/notification-service-go/internal/subscriber"
	"github.com/restockly/notification-service-go/internal/template"
)

// InventoryUpdate is one normalized inventory-level record from a
// webhook or broker delivery. Consumed within a single cycle, never
// persisted.
type InventoryUpdate struct {
	InventoryItemID int64 `json:"inventory_item_id"`
	LocationID      int64 `json:"location_id"`
	Available       int   `json:"available"`
}

// SubscriberStore is the slice of the subscriber repository the
// pipeline needs.
type SubscriberStore interface {
	ListByShop(ctx context.Context, shopDomain string) ([]subscriber.Subscriber, error)
	UpdateEmailFlag(ctx context.Context, key subscriber.Key, sent int) error
}

type SettingsStore interface {
	SettingsFor(ctx context.Context, shopDomain string) (shop.Settings, error)
}

type TemplateStore interface {
	ForShop(ctx context.Context, shopDomain string) (template.EmailTemplate, error)
}

type VariantResolver interface {
	VariantByInventoryItem(ctx context.Context, shopDomain, token string, inventoryItemID int64) (*catalog.VariantDetails, error)
}

// EventSink receives the outcome of a dispatch cycle. Optional.
type EventSink interface {
	PublishRestockNotified(ctx context.Context, shopDomain string, notified []string, restockedItems int) error
}

const (
	defaultSendPause      = 100 * time.Millisecond
	defaultResolveWorkers = 4
)

// Options tune the dispatch loop. Zero values pick the defaults.
type Options struct {
	// SendPause is the cooperative pause between consecutive sends.
	SendPause time.Duration
	// ResolveWorkers bounds concurrent catalog lookups within one cycle.
	// Sends always stay sequential.
	ResolveWorkers int
}

// Service runs the restock-notification dispatch pipeline: dedupe the
// incoming events, resolve variants, match subscribers, compose the
// email, send per recipient and flip the notified flag on confirmed
// sends.
type Service struct {
	subs      SubscriberStore
	settings  SettingsStore
	templates TemplateStore
	resolver  VariantResolver
	sender    mailer.Sender
	sink      EventSink
	cool      *cooldown.Keeper
	logger    *log.Logger

	sendPause      time.Duration
	resolveWorkers int

	mu           sync.Mutex
	lastNotified []string
}

func NewService(subs SubscriberStore, settings SettingsStore, templates TemplateStore,
	resolver VariantResolver, sender mailer.Sender, cool *cooldown.Keeper,
	logger *log.Logger, opts Options) *Service {

	if opts.SendPause <= 0 {
		opts.SendPause = defaultSendPause
	}
	if opts.ResolveWorkers <= 0 {
		opts.ResolveWorkers = defaultResolveWorkers
	}
	return &Service{
		subs:           subs,
		settings:       settings,
		templates:      templates,
		resolver:       resolver,
		sender:         sender,
		cool:           cool,
		logger:         logger,
		sendPause:      opts.SendPause,
		resolveWorkers: opts.ResolveWorkers,
	}
}

// SetEventSink attaches an optional outcome publisher. Publish failures
// are logged, never fatal to a cycle.
func (s *Service) SetEventSink(sink EventSink) {
	s.sink = sink
}

// LastNotified returns the addresses successfully notified by the most
// recent cycle. Process-local, operator-facing only.
func (s *Service) LastNotified() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lastNotified))
	copy(out, s.lastNotified)
	return out
}

// Notify runs one dispatch cycle for a shop. It returns the addresses
// successfully notified. Errors are returned only for conditions fatal
// to the whole cycle (store failures, missing template); per-item and
// per-recipient failures are logged and skipped.
func (s *Service) Notify(ctx context.Context, sess shop.Session, updates []InventoryUpdate) ([]string, error) {
	restocked := s.dedupeEvents(updates)
	if len(restocked) == 0 {
		return nil, nil
	}

	settings, err := s.settings.SettingsFor(ctx, sess.Shop)
	if err != nil {
		return nil, fmt.Errorf("load settings for %s: %w", sess.Shop, err)
	}
	if !settings.AutoEmailEnabled {
		s.logger.Printf("auto-email disabled for shop %s, skipping cycle", sess.Shop)
		return nil, nil
	}

	tmpl, err := s.templates.ForShop(ctx, sess.Shop)
	if err != nil {
		return nil, fmt.Errorf("load template for %s: %w", sess.Shop, err)
	}

	subs, err := s.subs.ListByShop(ctx, sess.Shop)
	if err != nil {
		return nil, fmt.Errorf("list subscribers for %s: %w", sess.Shop, err)
	}

	details := s.resolveDetails(ctx, sess, restocked)
	matched := matchSubscribers(subs, restocked, details, s.logger)
	if len(matched) == 0 {
		s.logger.Printf("no matching subscribers for shop %s (%d restocked items)", sess.Shop, len(restocked))
		s.setLastNotified(nil)
		return nil, nil
	}

	body := template.Render(tmpl, buildItems(restocked, details))
	notified := s.dispatch(ctx, sess.Shop, tmpl.Subject, body, matched)

	s.setLastNotified(notified)

	if s.sink != nil && len(notified) > 0 {
		if err := s.sink.PublishRestockNotified(ctx, sess.Shop, notified, len(restocked)); err != nil {
			s.logger.Printf("publish restock.notified for %s: %v", sess.Shop, err)
		}
	}

	return notified, nil
}

// dedupeEvents collapses duplicate deliveries of the same physical
// restock event, keyed by inventory item and location.
func (s *Service) dedupeEvents(updates []InventoryUpdate) []InventoryUpdate {
	var restocked []InventoryUpdate
	for _, u := range updates {
		key := fmt.Sprintf("%d-%d", u.InventoryItemID, u.LocationID)
		if !s.cool.ShouldProcess(key) {
			s.logger.Printf("skip duplicate inventory event %s", key)
			continue
		}
		restocked = append(restocked, u)
	}
	return restocked
}

// resolveDetails looks up variant details for each distinct inventory
// item with bounded concurrency. A failed or empty lookup leaves the
// item unresolved without affecting the rest of the batch.
func (s *Service) resolveDetails(ctx context.Context, sess shop.Session, updates []InventoryUpdate) map[int64]*catalog.VariantDetails {
	var distinct []int64
	seen := map[int64]bool{}
	for _, u := range updates {
		if !seen[u.InventoryItemID] {
			seen[u.InventoryItemID] = true
			distinct = append(distinct, u.InventoryItemID)
		}
	}

	results := make(map[int64]*catalog.VariantDetails, len(distinct))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.resolveWorkers)

	for _, id := range distinct {
		wg.Add(1)
		sem <- struct{}{}
		go func(id int64) {
			defer wg.Done()
			defer func() { <-sem }()

			d, err := s.resolver.VariantByInventoryItem(ctx, sess.Shop, sess.AccessToken, id)
			if err != nil {
				s.logger.Printf("resolve inventory item %d: %v", id, err)
				return
			}
			if d == nil {
				return
			}
			mu.Lock()
			results[id] = d
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	return results
}

func matchSubscribers(subs []subscriber.Subscriber, restocked []InventoryUpdate,
	details map[int64]*catalog.VariantDetails, logger *log.Logger) []subscriber.Subscriber {

	var matched []subscriber.Subscriber
	for _, sub := range subs {
		if sub.EmailSent == 1 {
			logger.Printf("skip %s: already notified", sub.Email)
			continue
		}
		want := catalog.NormalizeID(sub.VariantID)
		for _, u := range restocked {
			d, ok := details[u.InventoryItemID]
			if !ok {
				continue
			}
			if catalog.NormalizeID(d.VariantID) == want {
				matched = append(matched, sub)
				break
			}
		}
	}
	return matched
}

// buildItems keeps the original update order; unresolved items render
// no card.
func buildItems(restocked []InventoryUpdate, details map[int64]*catalog.VariantDetails) []template.Item {
	var items []template.Item
	for _, u := range restocked {
		d, ok := details[u.InventoryItemID]
		if !ok {
			continue
		}
		items = append(items, template.Item{
			Title:       d.Title,
			Price:       d.Price,
			ImageURL:    d.ImageURL,
			PurchaseURL: d.URL,
			Available:   u.Available,
		})
	}
	return items
}

// dispatch sends the composed email to each matched subscriber in
// order, with a recipient-level cooldown check and a cooperative pause
// between sends. The notified flag is persisted only on confirmed
// sends; a failed send leaves the row eligible for the next cycle.
func (s *Service) dispatch(ctx context.Context, shopDomain, subject, body string, matched []subscriber.Subscriber) []string {
	var notified []string
	attempted := 0

	for _, sub := range matched {
		key := catalog.NormalizeID(sub.VariantID) + "-" + sub.Email
		if !s.cool.ShouldProcess(key) {
			s.logger.Printf("skip %s: recently emailed for variant %s", sub.Email, sub.VariantID)
			continue
		}

		if attempted > 0 {
			select {
			case <-ctx.Done():
				s.logger.Printf("dispatch for %s interrupted: %v", shopDomain, ctx.Err())
				return notified
			case <-time.After(s.sendPause):
			}
		}
		attempted++

		err := s.sender.Send(ctx, mailer.Message{
			RecipientEmail: sub.Email,
			Subject:        subject,
			HTML:           body,
		})
		if err != nil {
			s.logger.Printf("send to %s failed: %v", sub.Email, err)
			continue
		}

		if err := s.subs.UpdateEmailFlag(ctx, subscriber.Key{
			Email:     sub.Email,
			ProductID: sub.ProductID,
			VariantID: sub.VariantID,
			Shop:      shopDomain,
		}, 1); err != nil {
			// Email already left; worst case the subscriber stays
			// eligible and the recipient cooldown suppresses a repeat.
			s.logger.Printf("update notified flag for %s: %v", sub.Email, err)
		}

		notified = append(notified, sub.Email)
		s.logger.Printf("restock notification sent to %s", sub.Email)
	}

	return notified
}

func (s *Service) setLastNotified(notified []string) {
	s.mu.Lock()
	s.lastNotified = notified
	s.mu.Unlock()
}
