package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-ledger/internal/ledger"
	"github.com/example/bank-ledger/internal/storage/memory"
)

func newConsole(t *testing.T) (*Console, *bytes.Buffer) {
	t.Helper()
	p := memory.New()
	t.Cleanup(func() { p.Close() })

	var out bytes.Buffer
	return New(ledger.NewLedgerService(p), ledger.NewValidator(p), &out, nil), &out
}

func TestSplit(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"create Alice Home", []string{"create", "Alice", "Home"}},
		{`create "Alice Smith" "1 Main St"`, []string{"create", "Alice Smith", "1 Main St"}},
		{`find Bob ""`, []string{"find", "Bob", ""}},
		{`transfer 1 2 5 rent\ due`, []string{"transfer", "1", "2", "5", "rent due"}},
		{"balance\t7", []string{"balance", "7"}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := Split(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Split(`create "Alice`)
	assert.Error(t, err)
	_, err = Split(`create Alice\`)
	assert.Error(t, err)
}

func TestRunSession(t *testing.T) {
	c, out := newConsole(t)

	script := strings.Join([]string{
		`# a comment`,
		`create "Alice Smith" "1 Main St"`,
		`create Bob "2 Main St"`,
		`deposit 1 100.50`,
		`withdraw 1 500`,
		`transfer 1 2 30 monthly rent`,
		`balance 2`,
		`find Bob "2 Main St"`,
		`richest`,
		`frequent 2`,
		`verify`,
		`quit`,
		`balance 1`,
	}, "\n")

	require.NoError(t, c.Run(context.Background(), strings.NewReader(script)))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		"account 1",
		"account 2",
		"100.5",
		"error: account 1 has 100.5, requested 500: insufficient funds",
		"ok",
		"30",
		"account 2",
		"1\tAlice Smith\t1 Main St\t70.5",
		"TRANSFER_IN",
		"2 accounts, 1 transfers checked, 0 problems",
	}, lines)
}

func TestRunStopsOnCancelWhileReading(t *testing.T) {
	c, out := newConsole(t)
	in, w := io.Pipe()
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, in) }()

	_, err := io.WriteString(w, "create Alice Home\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		id, err := c.ledger.FindAccount(context.Background(), "Alice", "Home")
		return err == nil && id == 1
	}, time.Second, 5*time.Millisecond)

	// Nothing more is written; Run is blocked waiting for a line.
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Contains(t, out.String(), "account 1")
}

func TestRunReportsReadErrors(t *testing.T) {
	c, _ := newConsole(t)
	in, w := io.Pipe()
	w.CloseWithError(io.ErrUnexpectedEOF)

	err := c.Run(context.Background(), in)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestExecuteErrors(t *testing.T) {
	c, _ := newConsole(t)
	ctx := context.Background()

	_, err := c.Execute(ctx, "bogus")
	assert.ErrorContains(t, err, "unknown command")

	_, err = c.Execute(ctx, "deposit 1")
	assert.ErrorIs(t, err, ErrUsage)

	_, err = c.Execute(ctx, "deposit x 1")
	assert.ErrorContains(t, err, "invalid account id")

	_, err = c.Execute(ctx, "deposit 1 lots")
	assert.ErrorContains(t, err, "invalid amount")

	_, err = c.Execute(ctx, "balance 9")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = c.Execute(ctx, "range 1 yesterday today")
	assert.Error(t, err)

	quit, err := c.Execute(ctx, "QUIT")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestListings(t *testing.T) {
	c, out := newConsole(t)
	ctx := context.Background()

	for _, line := range []string{"empty", "history 1", "busiest"} {
		_, err := c.Execute(ctx, line)
		require.NoError(t, err)
	}
	assert.Equal(t, "no accounts\nno operations\nno accounts\n", out.String())

	out.Reset()
	for _, line := range []string{"create A a", "create B b", "deposit 2 5", "empty", "between 1 10", "prefix"} {
		_, err := c.Execute(ctx, line)
		require.NoError(t, err)
	}
	assert.Equal(t, strings.Join([]string{
		"account 1",
		"account 2",
		"5",
		"1\tA\ta\t0",
		"2\tB\tb\t5",
		"1\tA\ta\t0",
		"2\tB\tb\t5",
	}, "\n")+"\n", out.String())

	out.Reset()
	_, err := c.Execute(ctx, "range 2 2000-01-01T00:00:00Z 2100-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "\tDEPOSIT\t5")
}

func TestHelpListsCommands(t *testing.T) {
	c, out := newConsole(t)
	_, err := c.Execute(context.Background(), "help")
	require.NoError(t, err)

	for _, name := range order {
		assert.Contains(t, out.String(), commands[name].usage)
	}
}
