package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/bank-ledger/pkg/audit"
)

func writeChain(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	chain := audit.NewChainLogger().WithSink(f)
	for i := 0; i < n; i++ {
		_, err := chain.Append("deposit", map[string]any{"account_id": 1, "n": i})
		require.NoError(t, err)
	}
	return path
}

func TestVerifyFile(t *testing.T) {
	path := writeChain(t, 3)

	var out bytes.Buffer
	ok, err := verifyFile(path, &out, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, strings.HasPrefix(out.String(), "OK 3 entries"))
}

func TestVerifyFileDetectsTampering(t *testing.T) {
	path := writeChain(t, 3)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `\"n\":1`, `\"n\":100`, 1)
	require.NotEqual(t, string(raw), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o600))

	var out bytes.Buffer
	ok, err := verifyFile(path, &out, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "BROKEN at entry 2 (deposit)\n", out.String())
}

func TestVerifyFileErrors(t *testing.T) {
	_, err := verifyFile(filepath.Join(t.TempDir(), "missing.jsonl"), &bytes.Buffer{}, zap.NewNop())
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "junk.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n"), 0o600))
	_, err = verifyFile(path, &bytes.Buffer{}, zap.NewNop())
	assert.Error(t, err)
}
