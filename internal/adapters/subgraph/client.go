// Package subgraph is a GraphQL client for Uniswap V2 and V3 style subgraphs.
package subgraph

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/hxuan190/evm-route-engine/internal/services/provider"
)

type Schema uint8

const (
	SchemaV2 Schema = iota
	SchemaV3
)

func (s Schema) String() string {
	if s == SchemaV3 {
		return "v3"
	}
	return "v2"
}

type TokenRecord struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Decimals string `json:"decimals"`
}

// PoolRecord is one row of `pairs` (V2) or `pools` (V3). Numeric fields are the
// subgraph's BigInt/BigDecimal strings. V2 reserves are decimals-adjusted.
type PoolRecord struct {
	ID     string      `json:"id"`
	Token0 TokenRecord `json:"token0"`
	Token1 TokenRecord `json:"token1"`

	// V2
	Reserve0   string `json:"reserve0,omitempty"`
	Reserve1   string `json:"reserve1,omitempty"`
	ReserveUSD string `json:"reserveUSD,omitempty"`

	// V3
	FeeTier             string `json:"feeTier,omitempty"`
	Liquidity           string `json:"liquidity,omitempty"`
	SqrtPrice           string `json:"sqrtPrice,omitempty"`
	Tick                string `json:"tick,omitempty"`
	TotalValueLockedUSD string `json:"totalValueLockedUSD,omitempty"`
}

type PoolsPage struct {
	Pools []PoolRecord
	Block uint64
}

// StatusError is a non-200 HTTP answer from the subgraph endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("subgraph http %d: %s", e.StatusCode, e.Body)
}

// Temporary marks rate limiting and server errors as retryable.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	gate       *provider.Gate
}

func NewClient(url, apiKey string, gate *provider.Gate) *Client {
	return &Client{
		url:    url,
		apiKey: strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		gate: gate,
	}
}

func (c *Client) URL() string {
	return c.url
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse[T any] struct {
	Data   T              `json:"data"`
	Errors []graphqlError `json:"errors"`
}

type metaBlock struct {
	Block struct {
		Number uint64 `json:"number"`
	} `json:"block"`
}

const latestBlockQuery = `query LatestBlock { _meta { block { number } } }`

type latestBlockData struct {
	Meta metaBlock `json:"_meta"`
}

type poolsData struct {
	Meta  metaBlock    `json:"_meta"`
	Items []PoolRecord `json:"items"`
}

// LatestBlock returns the latest block indexed by the subgraph.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	data, err := runQuery[latestBlockData](ctx, c, latestBlockQuery, nil)
	if err != nil {
		return 0, fmt.Errorf("subgraph: fetch latest block: %w", err)
	}
	return data.Meta.Block.Number, nil
}

const v2Fields = `id reserve0 reserve1 reserveUSD token0 { id symbol decimals } token1 { id symbol decimals }`
const v3Fields = `id feeTier liquidity sqrtPrice tick totalValueLockedUSD token0 { id symbol decimals } token1 { id symbol decimals }`

// PoolsFilter restricts a page to pools touching any of Tokens. With Partners
// set, the other side of the pool must be one of Partners. Addresses are hex.
type PoolsFilter struct {
	Tokens   []string
	Partners []string
}

// poolsQuery builds the page query. graph-node rejects a top-level field next to
// `or`, so the cursor is repeated inside each branch.
func poolsQuery(schema Schema, filter PoolsFilter) string {
	entity, fields := "pairs", v2Fields
	if schema == SchemaV3 {
		entity, fields = "pools", v3Fields
	}

	where := `{ id_gt: $cursor }`
	params := `$first: Int!, $cursor: String!`
	switch {
	case len(filter.Tokens) > 0 && len(filter.Partners) > 0:
		where = `{ or: [{ token0_in: $tokens, token1_in: $partners, id_gt: $cursor }, { token0_in: $partners, token1_in: $tokens, id_gt: $cursor }] }`
		params += `, $tokens: [String!]!, $partners: [String!]!`
	case len(filter.Tokens) > 0:
		where = `{ or: [{ token0_in: $tokens, id_gt: $cursor }, { token1_in: $tokens, id_gt: $cursor }] }`
		params += `, $tokens: [String!]!`
	}
	return fmt.Sprintf(`query Pools(%s) {
  _meta { block { number } }
  items: %s(first: $first, orderBy: id, orderDirection: asc, where: %s) { %s }
}`, params, entity, where, fields)
}

func lowerAll(addrs []string) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = strings.ToLower(a)
	}
	return out
}

// FetchPools returns one page of pools ordered by id, strictly after cursor.
func (c *Client) FetchPools(ctx context.Context, schema Schema, filter PoolsFilter, cursor string, first int) (PoolsPage, error) {
	if len(filter.Tokens) == 0 {
		filter.Partners = nil
	}
	vars := map[string]any{
		"first":  first,
		"cursor": cursor,
	}
	if len(filter.Tokens) > 0 {
		vars["tokens"] = lowerAll(filter.Tokens)
	}
	if len(filter.Partners) > 0 {
		vars["partners"] = lowerAll(filter.Partners)
	}

	data, err := runQuery[poolsData](ctx, c, poolsQuery(schema, filter), vars)
	if err != nil {
		return PoolsPage{}, fmt.Errorf("subgraph: fetch %s pools: %w", schema, err)
	}
	return PoolsPage{Pools: data.Items, Block: data.Meta.Block.Number}, nil
}

func runQuery[T any](ctx context.Context, c *Client, query string, variables map[string]any) (T, error) {
	if c.gate == nil {
		return doQuery[T](ctx, c, query, variables)
	}
	return provider.Call(ctx, c.gate, func(ctx context.Context) (T, error) {
		return doQuery[T](ctx, c, query, variables)
	})
}

func doQuery[T any](ctx context.Context, c *Client, query string, variables map[string]any) (T, error) {
	var zero T
	body, err := sonic.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return zero, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return zero, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return zero, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 256)}
	}

	var envelope graphqlResponse[T]
	if err := sonic.Unmarshal(raw, &envelope); err != nil {
		return zero, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return zero, fmt.Errorf("graphql error: %s", envelope.Errors[0].Message)
	}
	return envelope.Data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
