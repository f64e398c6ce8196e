package etherscan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-risk-lab/internal/domain"
	"token-risk-lab/internal/sources"
)

const token = "0x6982508145454ce325ddbe47a25d4ec3d2311933"

func newServer(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "key", q.Get("apikey"))
		assert.Equal(t, "1", q.Get("chainid"))

		body, ok := responses[q.Get("action")]
		if !ok {
			w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Invalid action"}`))
			return
		}
		w.Write([]byte(body))
	}))
}

func TestExplorer_Fetch(t *testing.T) {
	server := newServer(t, map[string]string{
		"getsourcecode": `{"status":"1","message":"OK","result":[{
			"SourceCode":"contract Pepe is Ownable { function renounceOwnership() public {} function _mint() internal {} }",
			"ContractName":"PepeToken","Proxy":"0"}]}`,
		"tokensupply":         `{"status":"1","message":"OK","result":"420690000000000000000000000000000"}`,
		"getcontractcreation": `{"status":"1","message":"OK","result":[{"contractAddress":"` + token + `","txHash":"0x1","timestamp":"1681321367"}]}`,
	})
	defer server.Close()

	e := NewExplorer(NewClient(server.URL, "key", server.Client()), zerolog.Nop())
	require.True(t, e.SupportsChain(domain.ChainEthereum))
	require.False(t, e.SupportsChain(domain.ChainSolana))

	frag, err := e.Fetch(context.Background(), token, domain.ChainEthereum)
	require.NoError(t, err)

	var snap domain.TokenSnapshot
	frag.Apply(&snap)
	assert.True(t, snap.ContractVerified)
	assert.Equal(t, "PepeToken", snap.ContractName)
	assert.True(t, snap.OwnershipRenounced)
	assert.True(t, snap.HasMintFunction)
	assert.False(t, snap.HasPauseFunction)
	assert.False(t, snap.IsProxy)
	assert.Equal(t, 4.2069e32, snap.TotalSupply)
	assert.Equal(t, time.Unix(1681321367, 0).UTC(), snap.ContractCreatedAt)
}

func TestExplorer_UnverifiedAndBestEffortExtras(t *testing.T) {
	server := newServer(t, map[string]string{
		"getsourcecode": `{"status":"1","message":"OK","result":[{"SourceCode":"","ContractName":""}]}`,
	})
	defer server.Close()

	e := NewExplorer(NewClient(server.URL, "key", server.Client()), zerolog.Nop())
	frag, err := e.Fetch(context.Background(), token, domain.ChainEthereum)
	require.NoError(t, err)

	data := frag.(*domain.ContractData)
	require.NotNil(t, data.Verified)
	assert.False(t, *data.Verified)
	assert.Nil(t, data.HasMintFunction)
	assert.Zero(t, data.TotalSupply)
	assert.True(t, data.CreatedAt.IsZero())
}

func TestExplorer_SourceCodeFailure(t *testing.T) {
	server := newServer(t, map[string]string{})
	defer server.Close()

	e := NewExplorer(NewClient(server.URL, "key", server.Client()), zerolog.Nop())
	_, err := e.Fetch(context.Background(), token, domain.ChainEthereum)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid action")
}

func TestContractDataFromSource_Proxy(t *testing.T) {
	data := ContractDataFromSource(&SourceCode{SourceCode: "contract X { function pause() {} }", Proxy: "1"})
	assert.True(t, *data.IsProxy)
	assert.True(t, *data.HasPauseFunction)
	assert.False(t, *data.OwnershipRenounced)
}

func TestHolders_Fetch(t *testing.T) {
	server := newServer(t, map[string]string{
		"tokenholderlist": `{"status":"1","message":"OK","result":[
			{"TokenHolderAddress":"0xsmall","TokenHolderQuantity":"10"},
			{"TokenHolderAddress":"0xwhale","TokenHolderQuantity":"60"},
			{"TokenHolderAddress":"0xmid","TokenHolderQuantity":"30"}
		]}`,
		"tokenholdercount": `{"status":"1","message":"OK","result":"5120"}`,
	})
	defer server.Close()

	h := NewHolders(NewClient(server.URL, "key", server.Client()), zerolog.Nop())
	frag, err := h.Fetch(context.Background(), token, domain.ChainEthereum)
	require.NoError(t, err)

	data := frag.(*domain.HolderData)
	assert.Equal(t, 5120, data.HolderCount)
	assert.InDelta(t, 60.0, data.TopHolderPercent, 1e-9)
	assert.InDelta(t, 100.0, data.Top10HoldersPercent, 1e-9)
	assert.Equal(t, []string{"0xwhale", "0xmid", "0xsmall"}, data.HolderAddresses)
}

func TestHolders_NoData(t *testing.T) {
	server := newServer(t, map[string]string{
		"tokenholderlist": `{"status":"0","message":"No data found","result":[]}`,
	})
	defer server.Close()

	h := NewHolders(NewClient(server.URL, "key", server.Client()), zerolog.Nop())
	_, err := h.Fetch(context.Background(), token, domain.ChainEthereum)
	assert.ErrorIs(t, err, sources.ErrNoData)
	assert.Equal(t, domain.DefaultHolderData(), h.Default())
}

func TestHolderDataFromList_TopTenOnly(t *testing.T) {
	var list []Holder
	for i := 0; i < 20; i++ {
		list = append(list, Holder{Address: string(rune('a' + i)), Quantity: "5"})
	}
	data := HolderDataFromList(list)
	assert.Equal(t, 20, data.HolderCount)
	assert.InDelta(t, 5.0, data.TopHolderPercent, 1e-9)
	assert.InDelta(t, 50.0, data.Top10HoldersPercent, 1e-9)
	assert.Len(t, data.HolderAddresses, 20)
}

func TestClient_MissingKey(t *testing.T) {
	c := NewClient("", "", nil)
	assert.False(t, c.SupportsChain(domain.ChainEthereum))
	_, err := c.TokenSupply(context.Background(), 1, token)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
