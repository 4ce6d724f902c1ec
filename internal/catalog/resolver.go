package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

const (
	// DefaultAPIVersion pins the Shopify Admin API version the resolver
	// queries against.
	DefaultAPIVersion = "2024-07"

	placeholderImage = "https://via.placeholder.com/300?text=No+Image+Available"
)

// VariantDetails is the normalized view of a product variant as resolved
// from an inventory item. URL is the storefront purchase link for the
// variant.
type VariantDetails struct {
	VariantID string `json:"variantId"`
	Title     string `json:"title"`
	Price     string `json:"price"`
	ImageURL  string `json:"imageUrl"`
	URL       string `json:"url"`
}

var trailingDigits = regexp.MustCompile(`(\d+)$`)

// NormalizeID reduces a variant identifier to its trailing numeric
// suffix. Subscriber rows store raw numeric IDs while the Admin API
// returns gid://shopify/... URNs; both normalize to the same value.
func NormalizeID(id string) string {
	if id == "" {
		return ""
	}
	if m := trailingDigits.FindString(id); m != "" {
		return m
	}
	return id
}

// Client resolves inventory items to variant details through the
// Shopify Admin GraphQL API.
type Client struct {
	apiVersion string
	httpClient *http.Client

	// endpointFor is overridable in tests; defaults to the shop's Admin
	// GraphQL endpoint.
	endpointFor func(shop string) string
}

func NewClient(apiVersion string) *Client {
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	c := &Client{
		apiVersion: apiVersion,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	c.endpointFor = func(shop string) string {
		return fmt.Sprintf("https://%s/admin/api/%s/graphql.json", shop, c.apiVersion)
	}
	return c
}

// NewClientWithEndpoint builds a client whose Admin endpoint lookup is
// replaced, so tests can point the resolver at a local server.
func NewClientWithEndpoint(apiVersion string, endpointFor func(shop string) string) *Client {
	c := NewClient(apiVersion)
	if endpointFor != nil {
		c.endpointFor = endpointFor
	}
	return c
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

const variantByInventoryItemQuery = `
query($id: ID!) {
  inventoryItem(id: $id) {
    variant {
      id
      title
      price
      image { originalSrc }
      product {
        handle
        title
        featuredImage { originalSrc }
      }
    }
  }
}`

type variantByInventoryItemResponse struct {
	Data struct {
		InventoryItem struct {
			Variant *struct {
				ID    string `json:"id"`
				Title string `json:"title"`
				Price string `json:"price"`
				Image *struct {
					OriginalSrc string `json:"originalSrc"`
				} `json:"image"`
				Product *struct {
					Handle        string `json:"handle"`
					Title         string `json:"title"`
					FeaturedImage *struct {
						OriginalSrc string `json:"originalSrc"`
					} `json:"featuredImage"`
				} `json:"product"`
			} `json:"variant"`
		} `json:"inventoryItem"`
	} `json:"data"`
}

// VariantByInventoryItem resolves one inventory item to its variant.
// A nil result with nil error means the catalog has no matching variant.
func (c *Client) VariantByInventoryItem(ctx context.Context, shop, token string, inventoryItemID int64) (*VariantDetails, error) {
	req := gqlRequest{
		Query: variantByInventoryItemQuery,
		Variables: map[string]any{
			"id": fmt.Sprintf("gid://shopify/InventoryItem/%d", inventoryItemID),
		},
	}

	raw, err := c.graphql(ctx, shop, token, req)
	if err != nil {
		return nil, err
	}

	var parsed variantByInventoryItemResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse variant response: %w", err)
	}

	v := parsed.Data.InventoryItem.Variant
	if v == nil {
		return nil, nil
	}

	image := placeholderImage
	if v.Image != nil && v.Image.OriginalSrc != "" {
		image = v.Image.OriginalSrc
	} else if v.Product != nil && v.Product.FeaturedImage != nil && v.Product.FeaturedImage.OriginalSrc != "" {
		image = v.Product.FeaturedImage.OriginalSrc
	}

	title := v.Title
	handle := ""
	if v.Product != nil {
		handle = v.Product.Handle
		if v.Product.Title != "" {
			title = v.Product.Title
		}
	}

	price := ""
	if v.Price != "" {
		price = "$" + v.Price
	}

	numericID := NormalizeID(v.ID)
	url := fmt.Sprintf("https://%s/products/%s?variant=%s", shop, handle, numericID)

	return &VariantDetails{
		VariantID: v.ID,
		Title:     title,
		Price:     price,
		ImageURL:  image,
		URL:       url,
	}, nil
}

func (c *Client) graphql(ctx context.Context, shop, token string, req gqlRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointFor(shop), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Shopify-Access-Token", token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}
