package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rxoptima/rxoptima/internal/identity"
	"github.com/rxoptima/rxoptima/internal/shared"
)

const usage = `usage:
  rxoptima                                   run the station server
  rxoptima create-account <email> <password>
  rxoptima jobs trigger-low-stock <identity> [threshold]
  rxoptima jobs stats`

// Env carries the collaborators subcommands need. Jobs may be nil when
// Redis is not configured.
type Env struct {
	Accounts identity.AccountRepository
	Jobs     *JobsCLI
	Stdout   io.Writer
	Stderr   io.Writer
}

// IsCommand reports whether args name a subcommand rather than the server.
func IsCommand(args []string) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "create-account", "jobs", "help", "-h", "--help":
		return true
	}
	return false
}

// Run executes the subcommand in args and returns the process exit code.
func Run(ctx context.Context, args []string, env Env) int {
	if env.Stdout == nil {
		env.Stdout = os.Stdout
	}
	if env.Stderr == nil {
		env.Stderr = os.Stderr
	}
	if len(args) == 0 {
		_, _ = fmt.Fprintln(env.Stderr, usage)
		return 2
	}
	switch args[0] {
	case "create-account":
		return createAccount(ctx, args[1:], env)
	case "jobs":
		return runJobs(ctx, args[1:], env)
	case "help", "-h", "--help":
		_, _ = fmt.Fprintln(env.Stdout, usage)
		return 0
	default:
		_, _ = fmt.Fprintf(env.Stderr, "unknown command %q\n%s\n", args[0], usage)
		return 2
	}
}

func createAccount(ctx context.Context, args []string, env Env) int {
	if len(args) != 2 {
		_, _ = fmt.Fprintln(env.Stderr, "create-account: email and password are required")
		return 2
	}
	if env.Accounts == nil {
		_, _ = fmt.Fprintln(env.Stderr, "create-account: account store not configured")
		return 1
	}
	acc, err := identity.CreateAccount(ctx, env.Accounts, args[0], args[1])
	if err != nil {
		if errors.Is(err, identity.ErrDuplicateAccount) {
			_, _ = fmt.Fprintf(env.Stderr, "create-account: %s is already registered\n", args[0])
			return 1
		}
		_, _ = fmt.Fprintf(env.Stderr, "create-account: %s\n", shared.UserMessage(err))
		return 1
	}
	_, _ = fmt.Fprintf(env.Stdout, "created account %s (%s)\n", acc.Email, acc.ID)
	return 0
}

func runJobs(ctx context.Context, args []string, env Env) int {
	if env.Jobs == nil {
		_, _ = fmt.Fprintln(env.Stderr, "jobs: queue not configured")
		return 1
	}
	if len(args) == 0 {
		_, _ = fmt.Fprintln(env.Stderr, usage)
		return 2
	}
	switch args[0] {
	case "trigger-low-stock":
		if len(args) < 2 || len(args) > 3 {
			_, _ = fmt.Fprintln(env.Stderr, "jobs trigger-low-stock: identity is required")
			return 2
		}
		threshold := 0
		if len(args) == 3 {
			n, err := strconv.Atoi(args[2])
			if err != nil || n < 0 {
				_, _ = fmt.Fprintf(env.Stderr, "jobs trigger-low-stock: invalid threshold %q\n", args[2])
				return 2
			}
			threshold = n
		}
		info, err := env.Jobs.TriggerLowStockSweep(ctx, args[1], threshold)
		if err != nil {
			_, _ = fmt.Fprintf(env.Stderr, "jobs trigger-low-stock: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(env.Stdout, "enqueued %s (%s)\n", info.Type, info.ID)
		return 0
	case "stats":
		stats, err := env.Jobs.InspectQueue(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(env.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		enc := json.NewEncoder(env.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			return 1
		}
		return 0
	default:
		_, _ = fmt.Fprintf(env.Stderr, "jobs: unknown command %q\n", args[0])
		return 2
	}
}
