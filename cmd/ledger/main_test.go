package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-ledger/pkg/audit"
)

func TestAuditSinkContinuesAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	for run := 0; run < 3; run++ {
		chain := audit.NewChainLogger()
		f, err := openAuditSink(path, chain)
		require.NoError(t, err)
		assert.Equal(t, run*2, chain.Len())

		for i := 0; i < 2; i++ {
			_, err := chain.Append("deposit", map[string]any{"run": run, "n": i})
			require.NoError(t, err)
		}
		assert.Empty(t, chain.Entries())
		require.NoError(t, f.Close())
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	tip, err := audit.VerifyStream(f)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), tip.Sequence)
}

func TestAuditSinkRefusesBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"sequence":1,"previous_hash":"x","hash":"y"}`+"\n"), 0o600))

	_, err := openAuditSink(path, audit.NewChainLogger())
	var broken *audit.BreakError
	assert.ErrorAs(t, err, &broken)
}
