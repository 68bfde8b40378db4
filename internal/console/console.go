// Package console is a line-oriented text front end for the ledger.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/bank-ledger/internal/ledger"
	"github.com/example/bank-ledger/internal/models"
)

// ErrUsage is returned for malformed commands.
var ErrUsage = errors.New("usage")

const prompt = "> "

type command struct {
	usage string
	args  int // minimum argument count
	run   func(c *Console, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"create":   {"create NAME ADDRESS", 2, (*Console).create},
	"find":     {"find NAME ADDRESS", 2, (*Console).find},
	"balance":  {"balance ID", 1, (*Console).balance},
	"deposit":  {"deposit ID AMOUNT", 2, (*Console).deposit},
	"withdraw": {"withdraw ID AMOUNT", 2, (*Console).withdraw},
	"transfer": {"transfer FROM TO AMOUNT [TITLE...]", 3, (*Console).transfer},
	"prefix":   {"prefix [P]", 0, (*Console).prefix},
	"between":  {"between MIN MAX", 2, (*Console).between},
	"richest":  {"richest", 0, (*Console).richest},
	"empty":    {"empty", 0, (*Console).empty},
	"busiest":  {"busiest", 0, (*Console).busiest},
	"history":  {"history ID", 1, (*Console).history},
	"range":    {"range ID FROM TO", 3, (*Console).dateRange},
	"frequent": {"frequent ID", 1, (*Console).frequent},
	"verify":   {"verify", 0, (*Console).verify},
}

var order = []string{
	"create", "find", "balance", "deposit", "withdraw", "transfer",
	"prefix", "between", "richest", "empty", "busiest",
	"history", "range", "frequent", "verify",
}

// Console executes commands against a ledger service.
type Console struct {
	ledger    *ledger.LedgerService
	validator *ledger.Validator
	out       io.Writer
	logger    *zap.Logger
	prompt    bool
}

// New creates a console writing results to out.
func New(ls *ledger.LedgerService, v *ledger.Validator, out io.Writer, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{ledger: ls, validator: v, out: out, logger: logger}
}

// WithPrompt makes Run print a prompt before reading each line.
func (c *Console) WithPrompt(on bool) *Console {
	c.prompt = on
	return c
}

// Run executes commands read from in until "quit", end of input or ctx is
// done. Command failures are printed and do not stop the loop. Lines are
// read on a separate goroutine so a blocked read never delays shutdown;
// that goroutine exits once in returns.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.prompt {
			fmt.Fprint(c.out, prompt)
		}

		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return fmt.Errorf("failed to read commands: %w", err)
				}
				return nil
			}
			line = l
		}

		quit, err := c.Execute(ctx, line)
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// Execute runs one command line. Blank lines and lines starting with # are
// ignored.
func (c *Console) Execute(ctx context.Context, line string) (quit bool, err error) {
	args, err := Split(line)
	if err != nil {
		return false, err
	}
	if len(args) == 0 || strings.HasPrefix(args[0], "#") {
		return false, nil
	}

	name := strings.ToLower(args[0])
	switch name {
	case "quit", "exit":
		return true, nil
	case "help":
		c.help()
		return false, nil
	}

	cmd, ok := commands[name]
	if !ok {
		return false, fmt.Errorf("unknown command %q, try help", args[0])
	}
	if len(args)-1 < cmd.args {
		return false, fmt.Errorf("%w: %s", ErrUsage, cmd.usage)
	}

	if err := cmd.run(c, ctx, args[1:]); err != nil {
		c.logger.Debug("command failed", zap.String("command", name), zap.Error(err))
		return false, err
	}
	return false, nil
}

func (c *Console) help() {
	fmt.Fprintln(c.out, "commands:")
	for _, name := range order {
		fmt.Fprintf(c.out, "  %s\n", commands[name].usage)
	}
	fmt.Fprintln(c.out, "  help")
	fmt.Fprintln(c.out, "  quit")
}

func (c *Console) create(ctx context.Context, args []string) error {
	id, err := c.ledger.CreateAccount(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "account %d\n", id)
	return nil
}

func (c *Console) find(ctx context.Context, args []string) error {
	id, err := c.ledger.FindAccount(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "account %d\n", id)
	return nil
}

func (c *Console) balance(ctx context.Context, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	b, err := c.ledger.GetBalance(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, b.String())
	return nil
}

func (c *Console) deposit(ctx context.Context, args []string) error {
	return c.post(ctx, args, c.ledger.Deposit)
}

func (c *Console) withdraw(ctx context.Context, args []string) error {
	return c.post(ctx, args, c.ledger.Withdraw)
}

func (c *Console) post(ctx context.Context, args []string, fn func(context.Context, int64, decimal.Decimal) error) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	amount, err := parseAmount(args[1])
	if err != nil {
		return err
	}
	if err := fn(ctx, id, amount); err != nil {
		return err
	}
	return c.balance(ctx, args[:1])
}

func (c *Console) transfer(ctx context.Context, args []string) error {
	from, err := parseID(args[0])
	if err != nil {
		return err
	}
	to, err := parseID(args[1])
	if err != nil {
		return err
	}
	amount, err := parseAmount(args[2])
	if err != nil {
		return err
	}
	title := strings.Join(args[3:], " ")

	if err := c.ledger.Transfer(ctx, from, to, amount, title); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "ok")
	return nil
}

func (c *Console) prefix(ctx context.Context, args []string) error {
	p := ""
	if len(args) > 0 {
		p = args[0]
	}
	return c.accounts(c.ledger.FindByNameStartWith(ctx, p))
}

func (c *Console) between(ctx context.Context, args []string) error {
	min, err := parseAmount(args[0])
	if err != nil {
		return err
	}
	max, err := parseAmount(args[1])
	if err != nil {
		return err
	}
	return c.accounts(c.ledger.FindByBalanceBetween(ctx, min, max))
}

func (c *Console) richest(ctx context.Context, _ []string) error {
	return c.accounts(c.ledger.FindByTheRichest(ctx))
}

func (c *Console) empty(ctx context.Context, _ []string) error {
	return c.accounts(c.ledger.FindByEmptyHistory(ctx))
}

func (c *Console) busiest(ctx context.Context, _ []string) error {
	return c.accounts(c.ledger.FindByMostOperations(ctx))
}

func (c *Console) history(ctx context.Context, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return c.operations(c.ledger.History(ctx, id))
}

func (c *Console) dateRange(ctx context.Context, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	from, err := time.Parse(time.RFC3339, args[1])
	if err != nil {
		return fmt.Errorf("FROM: %w", err)
	}
	to, err := time.Parse(time.RFC3339, args[2])
	if err != nil {
		return fmt.Errorf("TO: %w", err)
	}
	return c.operations(c.ledger.FindByDateRange(ctx, id, from, to))
}

func (c *Console) frequent(ctx context.Context, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	typ, err := c.ledger.FindByMostFrequentType(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, typ)
	return nil
}

func (c *Console) verify(ctx context.Context, _ []string) error {
	balances, err := c.validator.ValidateBalanceConsistency(ctx)
	if err != nil {
		return err
	}
	pairs, err := c.validator.ValidateTransferPairs(ctx)
	if err != nil {
		return err
	}

	bad := append(ledger.Invalid(balances), ledger.Invalid(pairs)...)
	for _, r := range bad {
		fmt.Fprintf(c.out, "FAIL %s: %s\n", r.ValidationType, r.Message)
	}
	fmt.Fprintf(c.out, "%d accounts, %d transfers checked, %d problems\n", len(balances), len(pairs), len(bad))
	return nil
}

func (c *Console) accounts(accs []models.Account, err error) error {
	if err != nil {
		return err
	}
	if len(accs) == 0 {
		fmt.Fprintln(c.out, "no accounts")
		return nil
	}
	for _, a := range accs {
		fmt.Fprintf(c.out, "%d\t%s\t%s\t%s\n", a.ID, a.Name, a.Address, a.Balance)
	}
	return nil
}

func (c *Console) operations(ops []models.Operation, err error) error {
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		fmt.Fprintln(c.out, "no operations")
		return nil
	}
	for _, op := range ops {
		line := fmt.Sprintf("%d\t%s\t%s\t%s", op.ID, op.CreatedAt.Format(time.RFC3339), op.Type, op.Amount)
		if op.Transfer != nil {
			line += fmt.Sprintf("\t%d\t%s", op.Transfer.CounterpartyID, op.Transfer.Title)
		}
		fmt.Fprintln(c.out, line)
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid account id %q", s)
	}
	return id, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}

// Split tokenizes a command line on whitespace. Double quotes group words
// and a backslash escapes the next character.
func Split(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inQuote bool
		escaped bool
		started bool
	)

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped, started = true, true
		case r == '"':
			inQuote, started = !inQuote, true
		case !inQuote && (r == ' ' || r == '\t'):
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}

	if inQuote {
		return nil, errors.New("unterminated quote")
	}
	if escaped {
		return nil, errors.New("trailing backslash")
	}
	if started {
		args = append(args, cur.String())
	}
	return args, nil
}
