package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/iterator"

	domain "github.com/shelfsort/api/internal/domain"
)

const (
	defaultPageSize    = 100
	defaultHTTPTimeout = 30 * time.Second
	accessTokenHeader  = "X-Catalog-Access-Token"
)

// Logger defines the logging contract for admin client operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AdminClientConfig configures the AdminClient.
type AdminClientConfig struct {
	// Endpoint is the full URL of the catalog platform's admin query endpoint.
	Endpoint    string
	AccessToken string
	PageSize    int
	HTTPClient  httpDoer
	Logger      Logger
}

// AdminClient implements Client against the catalog platform's admin
// GraphQL-over-HTTP endpoint.
type AdminClient struct {
	endpoint string
	token    string
	pageSize int
	http     httpDoer
	logger   Logger
}

// NewAdminClient constructs an AdminClient using the given configuration.
func NewAdminClient(cfg AdminClientConfig) (*AdminClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("catalog: admin endpoint is required")
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("catalog: access token is required")
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	doer := cfg.HTTPClient
	if doer == nil {
		doer = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &AdminClient{
		endpoint: endpoint,
		token:    token,
		pageSize: pageSize,
		http:     doer,
		logger:   logger,
	}, nil
}

const collectionSortModeQuery = `query CollectionSortMode($id: ID!) {
  collection(id: $id) { sortOrder }
}`

// CollectionSortMode reads the collection's ordering mode.
func (c *AdminClient) CollectionSortMode(ctx context.Context, collectionID string) (domain.SortMode, error) {
	collectionID = strings.TrimSpace(collectionID)
	if collectionID == "" {
		return "", errors.New("catalog: collection id is required")
	}

	var payload struct {
		Collection *struct {
			SortOrder string `json:"sortOrder"`
		} `json:"collection"`
	}
	if err := c.execute(ctx, "collection_sort_mode", collectionSortModeQuery, map[string]any{"id": collectionID}, &payload); err != nil {
		return "", err
	}
	if payload.Collection == nil {
		return "", &TransportError{Op: "collection sort mode", Err: fmt.Errorf("collection %s not found", collectionID)}
	}
	if strings.EqualFold(payload.Collection.SortOrder, "MANUAL") {
		return domain.SortModeManual, nil
	}
	return domain.SortModeAutomatic, nil
}

const collectionProductsQuery = `query CollectionProducts($id: ID!, $first: Int!, $after: String) {
  collection(id: $id) {
    products(first: $first, after: $after) {
      pageInfo { hasNextPage endCursor }
      nodes { id title tags totalInventory createdAt publishedAt price }
    }
  }
}`

// ListProducts opens a lazy product stream for the collection.
func (c *AdminClient) ListProducts(ctx context.Context, collectionID string) ProductIterator {
	return &productIterator{client: c, ctx: ctx, collectionID: strings.TrimSpace(collectionID)}
}

type productNode struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Tags           []string `json:"tags"`
	TotalInventory int      `json:"totalInventory"`
	CreatedAt      string   `json:"createdAt"`
	PublishedAt    string   `json:"publishedAt"`
	Price          string   `json:"price"`
}

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

type productIterator struct {
	client       *AdminClient
	ctx          context.Context
	collectionID string

	buffer    []domain.Product
	cursor    string
	exhausted bool
	started   bool
	err       error
}

// Next returns the next product or iterator.Done when all pages are consumed.
func (it *productIterator) Next() (domain.Product, error) {
	if it.err != nil {
		return domain.Product{}, it.err
	}
	for len(it.buffer) == 0 {
		if it.exhausted && it.started {
			return domain.Product{}, iterator.Done
		}
		if err := it.fetchPage(); err != nil {
			it.err = err
			return domain.Product{}, err
		}
	}
	product := it.buffer[0]
	it.buffer = it.buffer[1:]
	return product, nil
}

func (it *productIterator) fetchPage() error {
	if it.collectionID == "" {
		return errors.New("catalog: collection id is required")
	}
	vars := map[string]any{"id": it.collectionID, "first": it.client.pageSize}
	if it.cursor != "" {
		vars["after"] = it.cursor
	}

	var payload struct {
		Collection *struct {
			Products struct {
				PageInfo pageInfo      `json:"pageInfo"`
				Nodes    []productNode `json:"nodes"`
			} `json:"products"`
		} `json:"collection"`
	}
	if err := it.client.execute(it.ctx, "list_products", collectionProductsQuery, vars, &payload); err != nil {
		return err
	}
	if payload.Collection == nil {
		return &TransportError{Op: "list products", Err: fmt.Errorf("collection %s not found", it.collectionID)}
	}

	page := payload.Collection.Products
	for _, node := range page.Nodes {
		product, err := parseProductNode(node)
		if err != nil {
			return &TransportError{Op: "list products", Err: err}
		}
		it.buffer = append(it.buffer, product)
	}
	it.started = true
	it.cursor = page.PageInfo.EndCursor
	it.exhausted = !page.PageInfo.HasNextPage
	return nil
}

func parseProductNode(node productNode) (domain.Product, error) {
	id := strings.TrimSpace(node.ID)
	if id == "" {
		return domain.Product{}, errors.New("product node missing id")
	}
	createdAt, err := parseNodeTime(node.CreatedAt)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s createdAt: %w", id, err)
	}
	publishedAt, err := parseNodeTime(node.PublishedAt)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s publishedAt: %w", id, err)
	}
	price, err := parseMinorUnits(node.Price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s price: %w", id, err)
	}
	return domain.Product{
		ID:             id,
		Title:          node.Title,
		Tags:           node.Tags,
		TotalInventory: node.TotalInventory,
		CreatedAt:      createdAt,
		PublishedAt:    publishedAt,
		Price:          price,
	}, nil
}

const ordersQuery = `query Orders($first: Int!, $after: String, $createdAfter: DateTime, $paidOnly: Boolean) {
  orders(first: $first, after: $after, createdAfter: $createdAfter, paidOnly: $paidOnly) {
    pageInfo { hasNextPage endCursor }
    nodes {
      id createdAt paid
      lineItems { productId quantity unitPrice discountedUnitPrice }
    }
  }
}`

// ListOrders opens a lazy order stream for the shop.
func (c *AdminClient) ListOrders(ctx context.Context, query OrderQuery) OrderIterator {
	return &orderIterator{client: c, ctx: ctx, query: query}
}

type orderLineNode struct {
	ProductID           string `json:"productId"`
	Quantity            int    `json:"quantity"`
	UnitPrice           string `json:"unitPrice"`
	DiscountedUnitPrice string `json:"discountedUnitPrice"`
}

type orderNode struct {
	ID        string          `json:"id"`
	CreatedAt string          `json:"createdAt"`
	Paid      bool            `json:"paid"`
	LineItems []orderLineNode `json:"lineItems"`
}

type orderIterator struct {
	client *AdminClient
	ctx    context.Context
	query  OrderQuery

	buffer    []domain.OrderRecord
	cursor    string
	exhausted bool
	started   bool
	err       error
}

// Next returns the next order or iterator.Done when all pages are consumed.
func (it *orderIterator) Next() (domain.OrderRecord, error) {
	if it.err != nil {
		return domain.OrderRecord{}, it.err
	}
	for len(it.buffer) == 0 {
		if it.exhausted && it.started {
			return domain.OrderRecord{}, iterator.Done
		}
		if err := it.fetchPage(); err != nil {
			it.err = err
			return domain.OrderRecord{}, err
		}
	}
	order := it.buffer[0]
	it.buffer = it.buffer[1:]
	return order, nil
}

func (it *orderIterator) fetchPage() error {
	vars := map[string]any{"first": it.client.pageSize}
	if it.cursor != "" {
		vars["after"] = it.cursor
	}
	if !it.query.CreatedAfter.IsZero() {
		vars["createdAfter"] = it.query.CreatedAfter.UTC().Format(time.RFC3339)
	}
	if it.query.Scope == domain.OrderScopePaid {
		vars["paidOnly"] = true
	}

	var payload struct {
		Orders struct {
			PageInfo pageInfo    `json:"pageInfo"`
			Nodes    []orderNode `json:"nodes"`
		} `json:"orders"`
	}
	if err := it.client.execute(it.ctx, "list_orders", ordersQuery, vars, &payload); err != nil {
		return err
	}

	for _, node := range payload.Orders.Nodes {
		order, err := parseOrderNode(node)
		if err != nil {
			return &TransportError{Op: "list orders", Err: err}
		}
		it.buffer = append(it.buffer, order)
	}
	it.started = true
	it.cursor = payload.Orders.PageInfo.EndCursor
	it.exhausted = !payload.Orders.PageInfo.HasNextPage
	return nil
}

func parseOrderNode(node orderNode) (domain.OrderRecord, error) {
	id := strings.TrimSpace(node.ID)
	if id == "" {
		return domain.OrderRecord{}, errors.New("order node missing id")
	}
	createdAt, err := parseNodeTime(node.CreatedAt)
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("order %s createdAt: %w", id, err)
	}
	lines := make([]domain.OrderLineItem, 0, len(node.LineItems))
	for _, line := range node.LineItems {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			continue
		}
		unitPrice, err := parseMinorUnits(line.UnitPrice)
		if err != nil {
			return domain.OrderRecord{}, fmt.Errorf("order %s line %s unitPrice: %w", id, productID, err)
		}
		item := domain.OrderLineItem{
			ProductID: productID,
			Quantity:  line.Quantity,
			UnitPrice: unitPrice,
		}
		if strings.TrimSpace(line.DiscountedUnitPrice) != "" {
			discounted, err := parseMinorUnits(line.DiscountedUnitPrice)
			if err != nil {
				return domain.OrderRecord{}, fmt.Errorf("order %s line %s discountedUnitPrice: %w", id, productID, err)
			}
			item.DiscountedUnitPrice = &discounted
		}
		lines = append(lines, item)
	}
	return domain.OrderRecord{
		ID:        id,
		CreatedAt: createdAt,
		Paid:      node.Paid,
		LineItems: lines,
	}, nil
}

const reorderMutation = `mutation CollectionReorder($id: ID!, $moves: [MoveInput!]!) {
  collectionReorderProducts(id: $id, moves: $moves) {
    job { id done }
    userErrors { message }
  }
}`

// SubmitReorder sends the complete move list and returns the async job handle.
func (c *AdminClient) SubmitReorder(ctx context.Context, collectionID string, moves []domain.Move) (domain.ReorderJob, error) {
	collectionID = strings.TrimSpace(collectionID)
	if collectionID == "" {
		return domain.ReorderJob{}, errors.New("catalog: collection id is required")
	}
	if len(moves) == 0 {
		return domain.ReorderJob{}, errors.New("catalog: move list is empty")
	}

	moveInputs := make([]map[string]any, 0, len(moves))
	for _, move := range moves {
		moveInputs = append(moveInputs, map[string]any{
			"id":       move.ProductID,
			"position": move.Position,
		})
	}

	var payload struct {
		CollectionReorderProducts struct {
			Job *struct {
				ID   string `json:"id"`
				Done bool   `json:"done"`
			} `json:"job"`
			UserErrors []struct {
				Message string `json:"message"`
			} `json:"userErrors"`
		} `json:"collectionReorderProducts"`
	}
	vars := map[string]any{"id": collectionID, "moves": moveInputs}
	if err := c.execute(ctx, "submit_reorder", reorderMutation, vars, &payload); err != nil {
		return domain.ReorderJob{}, err
	}

	result := payload.CollectionReorderProducts
	if len(result.UserErrors) > 0 {
		messages := make([]string, 0, len(result.UserErrors))
		for _, ue := range result.UserErrors {
			if msg := strings.TrimSpace(ue.Message); msg != "" {
				messages = append(messages, msg)
			}
		}
		return domain.ReorderJob{}, &UserError{Messages: messages}
	}
	if result.Job == nil || strings.TrimSpace(result.Job.ID) == "" {
		return domain.ReorderJob{}, &TransportError{Op: "submit reorder", Err: errors.New("missing job handle in response")}
	}

	c.logger(ctx, "catalog.reorder.submitted", map[string]any{
		"collectionId": collectionID,
		"jobId":        result.Job.ID,
		"moves":        len(moves),
	})
	return domain.ReorderJob{ID: result.Job.ID, Done: result.Job.Done, IssuedAt: time.Now().UTC()}, nil
}

const jobStatusQuery = `query JobStatus($id: ID!) {
  job(id: $id) { done }
}`

// JobStatus performs one blocking read of the reorder job's done flag.
func (c *AdminClient) JobStatus(ctx context.Context, jobID string) (bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return false, errors.New("catalog: job id is required")
	}

	var payload struct {
		Job *struct {
			Done bool `json:"done"`
		} `json:"job"`
	}
	if err := c.execute(ctx, "job_status", jobStatusQuery, map[string]any{"id": jobID}, &payload); err != nil {
		return false, err
	}
	if payload.Job == nil {
		return false, &TransportError{Op: "job status", Err: fmt.Errorf("job %s not found", jobID)}
	}
	return payload.Job.Done, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

func (c *AdminClient) execute(ctx context.Context, op string, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(accessTokenHeader, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return &TransportError{Op: op, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var envelope graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, ge := range envelope.Errors {
			messages = append(messages, ge.Message)
		}
		return &TransportError{Op: op, Err: fmt.Errorf("query errors: %s", strings.Join(messages, "; "))}
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("decode payload: %w", err)}
		}
	}
	return nil
}

func parseNodeTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// parseMinorUnits converts a decimal money string (e.g. "12.50") into the
// smallest currency unit, assuming two fractional digits.
func parseMinorUnits(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	negative := false
	if strings.HasPrefix(value, "-") {
		negative = true
		value = value[1:]
	}
	whole := value
	frac := ""
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		whole = value[:idx]
		frac = value[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	var units int64
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid money value %q", value)
		}
		units = units*10 + int64(r-'0')
	}
	if negative {
		units = -units
	}
	return units, nil
}
