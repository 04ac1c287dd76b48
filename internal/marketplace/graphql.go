package marketplace

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/starford/relister/internal/models"
)

// GraphQL documents sent by APIClient.
const (
	opGetEmailAuthCode = `mutation getEmailAuthCode($email: String!) {
  getEmailAuthCode(input: {email: $email})
}`

	opCheckEmailAuthCode = `mutation checkEmailAuthCode($input: CheckEmailAuthCodeInput!) {
  checkEmailAuthCode(input: $input) { id username }
}`

	opViewer = `query viewer {
  viewer { id username }
}`

	opItems = `query items($pagination: Pagination, $filter: ItemFilter) {
  items(pagination: $pagination, filter: $filter) {
    edges { node { id slug name rawPrice status createdAt sequence attachment { url } } }
  }
}`

	opItem = `query item($slug: String) {
  item(slug: $slug) { id sequence }
}`

	opItemPriorityStatuses = `query itemPriorityStatuses($itemId: UUID!, $price: Int!) {
  itemPriorityStatuses(itemId: $itemId, price: $price) { id name price type }
}`

	opIncreaseItemPriorityStatus = `mutation increaseItemPriorityStatus($input: PublishItemInput!) {
  increaseItemPriorityStatus(input: $input) { id slug }
}`

	opPublishItem = `mutation publishItem($input: PublishItemInput!) {
  publishItem(input: $input) { id slug }
}`
)

// transactionProvider pays for priority statuses from the account balance.
const transactionProvider = "LOCAL"

type gqlRequest struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

type gqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		StatusCode int    `json:"statusCode"`
		Code       string `json:"code"`
	} `json:"extensions"`
}

// GraphQLError is returned when the endpoint answers 200 with an errors array.
type GraphQLError struct {
	Operation string
	Messages  []string
	Status    int
}

func (e *GraphQLError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("marketplace: %s: http status %d", e.Operation, e.Status)
	}
	return "marketplace: " + e.Operation + ": " + strings.Join(e.Messages, "; ")
}

func (e *GraphQLError) rateLimited() bool {
	return e.Status == http.StatusTooManyRequests || e.contains("60 секунд", "чаще", "too many", "too often")
}

func (e *GraphQLError) contains(subs ...string) bool {
	for _, m := range e.Messages {
		lm := strings.ToLower(m)
		for _, s := range subs {
			if strings.Contains(lm, strings.ToLower(s)) {
				return true
			}
		}
	}
	return false
}

type viewerData struct {
	Viewer *struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"viewer"`
}

type checkCodeData struct {
	CheckEmailAuthCode *struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"checkEmailAuthCode"`
}

type itemNode struct {
	ID         string `json:"id"`
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	RawPrice   int    `json:"rawPrice"`
	Status     string `json:"status"`
	CreatedAt  string `json:"createdAt"`
	Sequence   *int   `json:"sequence"`
	Attachment *struct {
		URL string `json:"url"`
	} `json:"attachment"`
}

type itemsData struct {
	Items struct {
		Edges []struct {
			Node itemNode `json:"node"`
		} `json:"edges"`
	} `json:"items"`
}

type itemData struct {
	Item *struct {
		ID       string `json:"id"`
		Sequence *int   `json:"sequence"`
	} `json:"item"`
}

type priorityData struct {
	ItemPriorityStatuses []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Price int    `json:"price"`
		Type  string `json:"type"`
	} `json:"itemPriorityStatuses"`
}

type publishedItem struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
}

// publishData is keyed by the mutation field name.
type publishData map[string]*publishedItem

// toListing rejects nodes without a parsable createdAt: the age window
// cannot be applied to them.
func (n itemNode) toListing(baseURL string) (models.Listing, error) {
	l := models.Listing{
		ID:       strings.TrimSpace(n.ID),
		Title:    strings.TrimSpace(n.Name),
		Slug:     strings.TrimSpace(n.Slug),
		RawPrice: n.RawPrice,
		Status:   models.ListingStatus(n.Status),
		Sequence: n.Sequence,
		URL:      ProductURL(baseURL, n.Slug),
	}
	if n.Attachment != nil {
		l.AttachmentURL = n.Attachment.URL
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(n.CreatedAt))
	if err != nil {
		return models.Listing{}, fmt.Errorf("marketplace: listing %s: createdAt %q: %w", l.ID, n.CreatedAt, err)
	}
	l.CreatedAt = t
	return l, nil
}
