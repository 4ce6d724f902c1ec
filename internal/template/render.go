package template

import (
	"fmt"
	"html"
	"strings"
)

// Stored templates carry named insertion slots instead of structural
// HTML the renderer would have to pattern-match. {{products}} is
// replaced with one card per restocked item; {{buyUrl}} with the first
// resolvable purchase link.
const (
	ProductsSlot = "{{products}}"
	BuyURLSlot   = "{{buyUrl}}"
)

// Item is one restocked product card.
type Item struct {
	Title       string
	Price       string
	ImageURL    string
	PurchaseURL string
	Available   int
}

// Render produces the rendered HTML body for a restock cycle. The body
// is shared by every recipient in the batch; personalization is limited
// to the recipient address at send time.
//
// If no item carries a purchase URL the {{buyUrl}} slot is left in
// place so the stored default href keeps working.
func Render(tmpl EmailTemplate, items []Item) string {
	var cards strings.Builder
	buyURL := ""

	for _, it := range items {
		if buyURL == "" && it.PurchaseURL != "" {
			buyURL = it.PurchaseURL
		}
		cards.WriteString(fmt.Sprintf(`
      <div class="product-card">
        <div class="product-content">
          <div class="product-image">
            <img src="%s" alt="%s" style="width:100%%;border-radius:4px;height:100%%;"/>
          </div>
          <div class="product-details">
            <h3 class="product-name">%s</h3>
            <p class="product-price">%s</p>
            <p><strong>Now Available:</strong> %d</p>
          </div>
        </div>
      </div>
`, it.ImageURL, html.EscapeString(it.Title), html.EscapeString(it.Title), html.EscapeString(it.Price), it.Available))
	}

	body := strings.ReplaceAll(tmpl.HTML, ProductsSlot, cards.String())
	if buyURL != "" {
		body = strings.ReplaceAll(body, BuyURLSlot, buyURL)
	}
	return body
}
