package notify

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/restockly/notification-service-go/internal/catalog"
	"github.com/restockly/notification-service-go/internal/cooldown"
	"github.com/restockly/notification-service-go/internal/mailer"
	"github.com/restockly/notification-service-go/internal/shop"
	"github.com/restockly/notification-service-go/internal/subscriber"
	"github.com/restockly/notification-service-go/internal/template"
)

const testShop = "test.myshopify.com"

var testSession = shop.Session{Shop: testShop, AccessToken: "shpat_test"}

type fakeSubs struct {
	subs      []subscriber.Subscriber
	listErr   error
	updateErr error
	updates   []subscriber.Key
}

func (f *fakeSubs) ListByShop(ctx context.Context, shopDomain string) ([]subscriber.Subscriber, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]subscriber.Subscriber, len(f.subs))
	copy(out, f.subs)
	return out, nil
}

func (f *fakeSubs) UpdateEmailFlag(ctx context.Context, key subscriber.Key, sent int) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, key)
	for i := range f.subs {
		s := &f.subs[i]
		if s.Email == key.Email && s.ProductID == key.ProductID && s.VariantID == key.VariantID && s.Shop == key.Shop {
			s.EmailSent = sent
		}
	}
	return nil
}

type fakeSettings struct {
	settings shop.Settings
	err      error
}

func (f *fakeSettings) SettingsFor(ctx context.Context, shopDomain string) (shop.Settings, error) {
	return f.settings, f.err
}

type fakeTemplates struct {
	tmpl template.EmailTemplate
	err  error
}

func (f *fakeTemplates) ForShop(ctx context.Context, shopDomain string) (template.EmailTemplate, error) {
	return f.tmpl, f.err
}

type fakeResolver struct {
	byItem map[int64]*catalog.VariantDetails
	errFor map[int64]error
	calls  int
}

func (f *fakeResolver) VariantByInventoryItem(ctx context.Context, shopDomain, token string, inventoryItemID int64) (*catalog.VariantDetails, error) {
	f.calls++
	if err, ok := f.errFor[inventoryItemID]; ok {
		return nil, err
	}
	return f.byItem[inventoryItemID], nil
}

type fakeSender struct {
	sent    []mailer.Message
	failFor map[string]bool
}

func (f *fakeSender) Send(ctx context.Context, msg mailer.Message) error {
	if f.failFor[msg.RecipientEmail] {
		return errors.New("smtp refused")
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeSink struct {
	shopDomain string
	notified   []string
	items      int
	published  int
}

func (f *fakeSink) PublishRestockNotified(ctx context.Context, shopDomain string, notified []string, restockedItems int) error {
	f.published++
	f.shopDomain = shopDomain
	f.notified = notified
	f.items = restockedItems
	return nil
}

func variant(id string) *catalog.VariantDetails {
	return &catalog.VariantDetails{
		VariantID: "gid://shopify/ProductVariant/" + id,
		Title:     "Product " + id,
		Price:     "$10.00",
		ImageURL:  "https://cdn/" + id + ".png",
		URL:       "https://" + testShop + "/products/p?variant=" + id,
	}
}

func enabledSettings() *fakeSettings {
	return &fakeSettings{settings: shop.Settings{Shop: testShop, AutoEmailEnabled: true}}
}

func testTemplate() *fakeTemplates {
	return &fakeTemplates{tmpl: template.EmailTemplate{
		Shop:    testShop,
		Subject: "Back in stock!",
		HTML:    `<div>{{products}}</div><a href="{{buyUrl}}">Buy It Now</a>`,
	}}
}

func newTestService(subs *fakeSubs, resolver *fakeResolver, sender *fakeSender, cool *cooldown.Keeper) *Service {
	return NewService(subs, enabledSettings(), testTemplate(), resolver, sender, cool,
		log.New(io.Discard, "", 0), Options{SendPause: time.Millisecond})
}

func TestSingleSubscriberFlow(t *testing.T) {
	subs := &fakeSubs{subs: []subscriber.Subscriber{
		{Email: "a@x.com", ProductID: "p1", VariantID: "777", Shop: testShop},
	}}
	resolver := &fakeResolver{byItem: map[int64]*catalog.VariantDetails{1001: variant("777")}}
	sender := &fakeSender{}
	svc := newTestService(subs, resolver, sender, cooldown.New(5*time.Minute))

	updates := []InventoryUpdate{{InventoryItemID: 1001, LocationID: 1, Available: 3}}

	notified, err := svc.Notify(context.Background(), testSession, updates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notified) != 1 || notified[0] != "a@x.com" {
		t.Fatalf("expected one notified address, got %v", notified)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one send, got %d", len(sender.sent))
	}
	if sender.sent[0].Subject != "Back in stock!" {
		t.Fatalf("unexpected subject: %q", sender.sent[0].Subject)
	}
	if !strings.Contains(sender.sent[0].HTML, "Now Available:</strong> 3") {
		t.Fatalf("available quantity missing from body")
	}
	if subs.subs[0].EmailSent != 1 {
		t.Fatalf("notified flag not flipped: %+v", subs.subs[0])
	}
	if got := svc.LastNotified(); len(got) != 1 || got[0] != "a@x.com" {
		t.Fatalf("unexpected last notified: %v", got)
	}

	// Identical webhook one minute later: the event-level cooldown
	// collapses it into a no-op.
	notified, err = svc.Notify(context.Background(), testSession, updates)
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	if len(notified) != 0 || len(sender.sent) != 1 {
		t.Fatalf("duplicate delivery produced extra sends: %v / %d", notified, len(sender.sent))
	}
}

func TestReplayAfterCooldownFlagDominates(t *testing.T) {
	subs := &fakeSubs{subs: []subscriber.Subscriber{
		{Email: "a@x.com", ProductID: "p1", VariantID: "777", Shop: testShop},
	}}
	resolver := &fakeResolver{byItem: map[int64]*catalog.VariantDetails{1001: variant("777")}}
	sender := &fakeSender{}
	svc := newTestService(subs, resolver, sender, cooldown.New(5*time.Minute))

	updates := []InventoryUpdate{{InventoryItemID: 1001, LocationID: 1, Available: 3}}
	if _, err := svc.Notify(context.Background(), testSession, updates); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	// A fresh keeper stands in for the cooldown window having elapsed.
	// The persisted flag, not the cooldown, must exclude the subscriber.
	svc2 := newTestService(subs, resolver, sender, cooldown.New(5*time.Minute))
	notified, err := svc2.Notify(context.Background(), testSession, updates)
	if err != nil {
		t.Fatalf("replay cycle: %v", err)
	}
	if len(notified) != 0 || len(sender.sent) != 1 {
		t.Fatalf("flagged subscriber was re-emailed: %v / %d sends", notified, len(sender.sent))
	}
}

func TestGlobalGateDisabled(t *testing.T) {
	subs := &fakeSubs{subs: []subscriber.Subscriber{
		{Email: "a@x.com", ProductID: "p1", VariantID: "777", Shop: testShop},
	}}
	resolver := &fakeResolver{byItem: map[int64]*catalog.VariantDetails{1001: variant("777")}}
	sender := &fakeSender{}
	svc := NewService(subs,
		&fakeSettings{settings: shop.Settings{Shop: testShop, AutoEmailEnabled: false}},
		testTemplate(), resolver, sender, cooldown.New(5*time.Minute),
		log.New(io.Discard, "", 0), Options{SendPause: time.Millisecond})

	notified, err := svc.Notify(context.Background(), testSession,
		[]InventoryUpdate{{InventoryItemID: 1001, LocationID: 1, Available: 3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notified) != 0 || len(sender.sent) != 0 {
		t.Fatalf("disabled shop must send nothing, got %v / %d", notified, len(sender.sent))
	}
	if resolver.calls != 0 {
		t.Fatalf("resolver should not be consulted when the gate is off")
	}
}

func TestFailedSendLeavesSubscriberEligible(t *testing.T) {
	subs := &fakeSubs{subs: []subscriber.Subscriber{
		{Email: "ok@x.com", ProductID: "p1", VariantID: "777", Shop: testShop},
		{Email: "broken@x.com", ProductID: "p1", VariantID: "777", Shop: testShop},
	}}
	resolver := &fakeResolver{byItem: map[int64]*catalog.VariantDetails{1001: variant("777")}}
	sender := &fakeSender{failFor: map[string]bool{"broken@x.com": true}}
	svc := newTestService(subs, resolver, sender, cooldown.New(5*time.Minute))

	notified, err := svc.Notify(context.Background(), testSession,
		[]InventoryUpdate{{InventoryItemID: 1001, LocationID: 1, Available: 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notified) != 1 || notified[0] != "ok@x.com" {
		t.Fatalf("expected only the successful recipient, got %v", notified)
	}
	if subs.subs[0].EmailSent != 1 {
		t.Fatalf("successful recipient flag not flipped")
	}
	if subs.subs[1].EmailSent != 0 {
		t.Fatalf("failed recipient must stay eligible")
	}
}

func TestPartialCatalogFailure(t *testing.T) {
	subs := &fakeSubs{subs: []subscriber.Subscriber{
		{Email: "a@x.com", ProductID: "p1", VariantID: "777", Shop: testShop},
		{Email: "b@x.com", ProductID: "p2", VariantID: "888", Shop: testShop},
	}}
	resolver := &fakeResolver{
		byItem: map[int64]*catalog.VariantDetails{1001: variant("777")},
		errFor: map[int64]error{2002: errors.New("catalog timeout")},
	}
	sender := &fakeSender{}
	svc := newTestService(subs, resolver, sender, cooldown.New(5*time.Minute))

	notified, err := svc.Notify(context.Background(), testSession, []InventoryUpdate{
		{InventoryItemID: 1001, LocationID: 1, Available: 4},
		{InventoryItemID: 2002, LocationID: 1, Available: 9},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notified) != 1 || notified[0] != "a@x.com" {
		t.Fatalf("only the resolvable item's subscriber should match, got %v", notified)
	}
	if got := strings.Count(sender.sent[0].HTML, "product-card"); got != 1 {
		t.Fatalf("rendered email must omit the unresolved item, got %d cards", got)
	}
}

func TestRecipientCooldownSkips(t *testing.T) {
	subs := &fakeSubs{
		subs: []subscriber.Subscriber{
			{Email: "a@x.com", ProductID: "p1", VariantID: "777", Shop: testShop},
		},
		// Flag persistence failing means the cooldown is the only thing
		// standing between the subscriber and a repeat email.
		updateErr: errors.New("store down"),
	}
	resolver := &fakeResolver{byItem: map[int64]*catalog.VariantDetails{1001: variant("777")}}
	sender := &fakeSender{}
	svc := newTestService(subs, resolver, sender, cooldown.New(5*time.Minute))

	first := []InventoryUpdate{{InventoryItemID: 1001, LocationID: 1, Available: 3}}
	if _, err := svc.Notify(context.Background(), testSession, first); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	// Same variant restocks at a different location: a fresh event key,
	// but the recipient-level cooldown still suppresses the email.
	second := []InventoryUpdate{{InventoryItemID: 1001, LocationID: 2, Available: 5}}
	notified, err := svc.Notify(context.Background(), testSession, second)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if len(notified) != 0 || len(sender.sent) != 1 {
		t.Fatalf("recipient cooldown failed: %v / %d sends", notified, len(sender.sent))
	}
}

func TestMissingTemplateFailsCycle(t *testing.T) {
	subs := &fakeSubs{subs: []subscriber.Subscriber{
		{Email: "a@x.com", ProductID: "p1", VariantID: "777", Shop: testShop},
	}}
	sender := &fakeSender{}
	svc := NewService(subs, enabledSettings(),
		&fakeTemplates{err: template.ErrNotFound},
		&fakeResolver{}, sender, cooldown.New(5*time.Minute),
		log.New(io.Discard, "", 0), Options{SendPause: time.Millisecond})

	_, err := svc.Notify(context.Background(), testSession,
		[]InventoryUpdate{{InventoryItemID: 1001, LocationID: 1, Available: 3}})
	if !errors.Is(err, template.ErrNotFound) {
		t.Fatalf("expected template error, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("nothing should be sent without a template")
	}
}

func TestEventSinkReceivesOutcome(t *testing.T) {
	subs := &fakeSubs{subs: []subscriber.Subscriber{
		{Email: "a@x.com", ProductID: "p1", VariantID: "777", Shop: testShop},
	}}
	resolver := &fakeResolver{byItem: map[int64]*catalog.VariantDetails{1001: variant("777")}}
	sender := &fakeSender{}
	sink := &fakeSink{}
	svc := newTestService(subs, resolver, sender, cooldown.New(5*time.Minute))
	svc.SetEventSink(sink)

	if _, err := svc.Notify(context.Background(), testSession,
		[]InventoryUpdate{{InventoryItemID: 1001, LocationID: 1, Available: 3}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sink.published != 1 || sink.shopDomain != testShop {
		t.Fatalf("expected one published outcome for %s, got %+v", testShop, sink)
	}
	if len(sink.notified) != 1 || sink.notified[0] != "a@x.com" || sink.items != 1 {
		t.Fatalf("unexpected outcome payload: %+v", sink)
	}
}

func TestVariantIDNormalizationAcrossConventions(t *testing.T) {
	// Subscriber rows store raw numeric IDs; the catalog answers with
	// gid URNs. Both sides normalize to the trailing digits.
	subs := &fakeSubs{subs: []subscriber.Subscriber{
		{Email: "urn@x.com", ProductID: "p1", VariantID: "gid://shopify/ProductVariant/777", Shop: testShop},
		{Email: "raw@x.com", ProductID: "p1", VariantID: "777", Shop: testShop},
		{Email: "other@x.com", ProductID: "p1", VariantID: "999", Shop: testShop},
	}}
	resolver := &fakeResolver{byItem: map[int64]*catalog.VariantDetails{1001: variant("777")}}
	sender := &fakeSender{}
	svc := newTestService(subs, resolver, sender, cooldown.New(5*time.Minute))

	notified, err := svc.Notify(context.Background(), testSession,
		[]InventoryUpdate{{InventoryItemID: 1001, LocationID: 1, Available: 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notified) != 2 {
		t.Fatalf("both id conventions should match, got %v", notified)
	}
}
