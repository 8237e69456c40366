package subgraph

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/evm-route-engine/internal/services/provider"
)

func newTestServer(t *testing.T, handler func(req graphqlRequest) (int, string)) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req graphqlRequest
		require.NoError(t, sonic.Unmarshal(body, &req))
		status, resp := handler(req)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchPoolsV3(t *testing.T) {
	srv := newTestServer(t, func(req graphqlRequest) (int, string) {
		assert.Contains(t, req.Query, "items: pools(")
		assert.Contains(t, req.Query, "token0_in: $tokens")
		assert.Equal(t, "0xabc", req.Variables["cursor"])
		return http.StatusOK, `{"data":{"_meta":{"block":{"number":19000000}},"items":[
			{"id":"0xpool","feeTier":"500","liquidity":"1000","sqrtPrice":"79228162514264337593543950336","tick":"0",
			 "totalValueLockedUSD":"1234.5",
			 "token0":{"id":"0xa","symbol":"A","decimals":"18"},"token1":{"id":"0xb","symbol":"B","decimals":"6"}}]}}`
	})

	c := NewClient(srv.URL, "", nil)
	page, err := c.FetchPools(context.Background(), SchemaV3, PoolsFilter{Tokens: []string{"0xA"}}, "0xabc", 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(19000000), page.Block)
	require.Len(t, page.Pools, 1)
	assert.Equal(t, "500", page.Pools[0].FeeTier)
	assert.Equal(t, "6", page.Pools[0].Token1.Decimals)
}

func TestFetchPoolsV2Unfiltered(t *testing.T) {
	srv := newTestServer(t, func(req graphqlRequest) (int, string) {
		assert.Contains(t, req.Query, "items: pairs(")
		assert.NotContains(t, req.Query, "$tokens")
		assert.NotContains(t, req.Query, "$partners")
		return http.StatusOK, `{"data":{"_meta":{"block":{"number":7}},"items":[]}}`
	})

	page, err := NewClient(srv.URL, "", nil).FetchPools(context.Background(), SchemaV2, PoolsFilter{}, "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Pools)
	assert.Equal(t, uint64(7), page.Block)
}

func TestFetchPoolsConstrainsBothSides(t *testing.T) {
	srv := newTestServer(t, func(req graphqlRequest) (int, string) {
		assert.Contains(t, req.Query, "token0_in: $tokens, token1_in: $partners")
		assert.Contains(t, req.Query, "token0_in: $partners, token1_in: $tokens")
		assert.Equal(t, []any{"0xaa"}, req.Variables["tokens"])
		assert.Equal(t, []any{"0xbb", "0xcc"}, req.Variables["partners"])
		return http.StatusOK, `{"data":{"_meta":{"block":{"number":1}},"items":[]}}`
	})

	filter := PoolsFilter{Tokens: []string{"0xAA"}, Partners: []string{"0xBB", "0xcc"}}
	_, err := NewClient(srv.URL, "", nil).FetchPools(context.Background(), SchemaV2, filter, "", 10)
	require.NoError(t, err)
}

func TestGraphQLErrorsAndStatus(t *testing.T) {
	srv := newTestServer(t, func(req graphqlRequest) (int, string) {
		if strings.Contains(req.Query, "LatestBlock") {
			return http.StatusOK, `{"errors":[{"message":"indexing_error"}]}`
		}
		return http.StatusTooManyRequests, `slow down`
	})
	c := NewClient(srv.URL, "key", nil)

	_, err := c.LatestBlock(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indexing_error")

	_, err = c.FetchPools(context.Background(), SchemaV2, PoolsFilter{}, "", 1)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, statusErr.Temporary())
	assert.True(t, provider.IsTransient(err))
}

func TestLatestBlock(t *testing.T) {
	srv := newTestServer(t, func(req graphqlRequest) (int, string) {
		return http.StatusOK, `{"data":{"_meta":{"block":{"number":42}}}}`
	})
	gate := provider.NewGate("subgraph:test", provider.GateConfig{Concurrency: 1})

	n, err := NewClient(srv.URL, "", gate).LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)
}
