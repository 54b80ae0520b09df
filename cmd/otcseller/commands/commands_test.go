package commands

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/deploy"
	"github.com/wonny/otcseller/internal/sellerconfig"
	"github.com/wonny/otcseller/pkg/logger"
)

const orderPayload = `{
	"sellToken": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
	"buyToken": "0x6B175474E89094C44Da98b954EedeAC495271d0F",
	"receiver": "0x1111111111111111111111111111111111111111",
	"sellAmount": "10000000000000000000",
	"buyAmount": "19600000000000000000000",
	"validTo": 1900000000,
	"feeAmount": "0"
}`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "order.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadOrderFile_Bare(t *testing.T) {
	req, err := readOrderFile(writeFile(t, orderPayload))
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), req.Order.SellToken)
	assert.Equal(t, "10000000000000000000", req.Order.SellAmount.String())
	assert.Nil(t, req.UID)
}

func TestReadOrderFile_Wrapped(t *testing.T) {
	uid := "0xab" + strings.Repeat("00", 31) + "1111111111111111111111111111111111111111" + "713fb300"
	req, err := readOrderFile(writeFile(t, `{"order": `+orderPayload+`, "uid": "`+uid+`"}`))
	require.NoError(t, err)

	require.NotNil(t, req.UID)
	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), req.UID.Owner())
	assert.Equal(t, uint32(1900000000), req.UID.ValidTo())
	assert.Equal(t, uint32(1900000000), req.Order.ValidTo)
}

func TestReadOrderFile_Errors(t *testing.T) {
	_, err := readOrderFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = readOrderFile(writeFile(t, `{"sellAmount": "-1"}`))
	assert.ErrorContains(t, err, "sellAmount")

	_, err = readOrderFile(writeFile(t, `not json`))
	assert.Error(t, err)
}

func TestLoadPairsFile_MissingFallsBackToDefaults(t *testing.T) {
	file, err := loadPairsFile(filepath.Join(t.TempDir(), "pairs.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, file.Pairs)

	file, err = loadPairsFile("")
	require.NoError(t, err)
	assert.NotEmpty(t, file.Pairs)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0 (0)", formatAmount(nil, 18))
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"deploy", "finalize", "check", "pairs", "order", "reserved", "price", "api", "poller", "version"} {
		assert.True(t, names[want], want)
	}
}

func TestPairsEditCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range pairsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"list", "create", "set-bound", "set-price", "set-receiver"} {
		assert.True(t, names[want], want)
	}
}

func TestPairEdit_Mutation(t *testing.T) {
	deployer := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	agent := common.HexToAddress(sellerconfig.DefaultAgent)
	treasury := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	sf := deploy.NewStateFile(deploy.Path(t.TempDir(), "testnet"))
	_, err := deploy.Deploy(sf, deploy.Params{
		Network:  "testnet",
		Deployer: deployer,
		Agent:    agent,
		Seller:   common.HexToAddress("0x00000000000000000000000000000000000000c5"),
		Config:   sellerconfig.Default(),
	}, logger.Nop())
	require.NoError(t, err)

	edit := pairEdit{
		TokenA:   sellerconfig.DefaultDAI,
		TokenB:   sellerconfig.DefaultWETH,
		Bound:    string(contracts.BoundMargin),
		Bps:      80,
		Price:    "500000000000000",
		Receiver: treasury.Hex(),
	}
	for _, field := range []pairField{editBound, editPrice, editReceiver} {
		mutate, err := edit.mutation(field, agent)
		require.NoError(t, err)
		_, err = deploy.Update(sf, mutate)
		require.NoError(t, err)
	}

	env, err := deploy.Load(sf)
	require.NoError(t, err)
	pair, _, ok := env.Registry.Lookup(common.HexToAddress(sellerconfig.DefaultDAI), common.HexToAddress(sellerconfig.DefaultWETH))
	require.True(t, ok)
	assert.Equal(t, contracts.BoundMargin, pair.BoundKind)
	assert.Equal(t, uint16(80), pair.MaxBoundBps)
	assert.Equal(t, "500000000000000", pair.ConstantPrice.String())
	assert.Equal(t, treasury, pair.Receiver)

	edit.Price = "0"
	mutate, err := edit.mutation(editPrice, agent)
	require.NoError(t, err)
	env, err = deploy.Update(sf, mutate)
	require.NoError(t, err)
	pair, _, _ = env.Registry.Lookup(common.HexToAddress(sellerconfig.DefaultDAI), common.HexToAddress(sellerconfig.DefaultWETH))
	assert.False(t, pair.HasConstantPrice())
}

func TestPairEdit_MutationErrors(t *testing.T) {
	caller := common.HexToAddress(sellerconfig.DefaultAgent)

	_, err := pairEdit{TokenA: "nope", TokenB: sellerconfig.DefaultWETH}.mutation(editBound, caller)
	assert.ErrorContains(t, err, "--token-a")

	_, err = pairEdit{TokenA: sellerconfig.DefaultDAI, TokenB: sellerconfig.DefaultWETH, Price: "1.5"}.mutation(editPrice, caller)
	assert.ErrorContains(t, err, "--price")

	_, err = pairEdit{TokenA: sellerconfig.DefaultDAI, TokenB: sellerconfig.DefaultWETH, Receiver: "x"}.mutation(editReceiver, caller)
	assert.ErrorContains(t, err, "--receiver")
}
