package portfolio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ezquant/azpm/azpm/plus/localkv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceCache(t *testing.T) {
	kv, err := localkv.NewLocalKV(nil)
	require.NoError(t, err)
	defer kv.Close()

	_, err = LoadPriceStore(kv)
	assert.ErrorIs(t, err, localkv.ErrNotFound)

	store, err := NewPriceStore(rising("eth", 6, 10, 0.5), rising("btc", 6, 100, 1))
	require.NoError(t, err)
	require.NoError(t, store.Save(kv))

	loaded, err := LoadPriceStore(kv)
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH", "BTC"}, loaded.Assets())
	assert.Equal(t, store.Series(), loaded.Series())
}

func TestFromCSV(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	btc := write("btc.csv", "time,open,close,low,high,volume\n1,10,11,9,12,1\n2,11,12,10,13,1\n3,12,13,11,14,1\n")
	eth := write("eth.csv", "1,1,1.1,0.9,1.2\n2,1.1,1.2,1,1.3\n3,1.2,1.3,1.1,1.4\n")
	short := write("sol.csv", "1,1,1.1,0.9,1.2\n2,1.1,1.2,1,1.3\n")

	store, err := FromCSV(AssetFeed{Asset: "btc", File: btc}, AssetFeed{Asset: "eth", File: eth})
	require.NoError(t, err)
	assert.Equal(t, 3, store.NSamples())
	assert.Equal(t, []string{"BTC", "ETH"}, store.Assets())

	_, err = FromCSV(AssetFeed{Asset: "btc", File: btc}, AssetFeed{Asset: "sol", File: short})
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = FromCSV(AssetFeed{Asset: "btc", File: filepath.Join(dir, "missing.csv")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
