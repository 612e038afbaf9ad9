// Endpoint Cloud - smart-home endpoint backend
//
// This is the main entry point. One binary runs the whole backend locally
// (router plus endpoint handler), either compute unit inside a function
// runtime, and the operator tooling: published outputs, compute unit
// policies and database migrations.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// CLI is the command tree.
type CLI struct {
	Config  string           `name:"config" short:"c" env:"ENDPOINTCLOUD_CONFIG" default:"${config_path}" help:"Path to the configuration file"`
	Version kong.VersionFlag `name:"version" help:"Print version information and exit"`

	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the router and endpoint handler"`
	Lambda  LambdaCmd  `cmd:"" help:"Run a compute unit inside the function runtime"`
	Outputs OutputsCmd `cmd:"" help:"Print the published outputs as YAML"`
	Policy  PolicyCmd  `cmd:"" help:"Print the policy of a compute unit as YAML"`
	Migrate MigrateCmd `cmd:"" help:"Manage SQLite schema migrations"`
	Token   TokenCmd   `cmd:"" help:"Sign a bearer token for calling the router"`
}

type ServeCmd struct{}

type LambdaCmd struct {
	Endpoint struct{} `cmd:"" help:"Serve the endpoint handler behind the managed gateway"`
	Skill    struct{} `cmd:"" help:"Serve the skill handler for the voice platform"`
}

type OutputsCmd struct{}

type PolicyCmd struct {
	Function string `arg:"" help:"Compute unit name"`
}

type TokenCmd struct {
	Function string        `name:"function" short:"f" xor:"subject" help:"Compute unit the token identifies"`
	User     string        `name:"user" short:"u" xor:"subject" help:"User id the token acts for in directive scopes"`
	TTL      time.Duration `name:"ttl" help:"Token lifetime (default security.jwt.token_ttl)"`
}

type MigrateCmd struct {
	Up     struct{} `cmd:"" help:"Apply pending migrations"`
	Down   struct{} `cmd:"" help:"Roll back the latest migration"`
	Status struct{} `cmd:"" help:"List applied and pending migrations"`
}

type kongExitCode int

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	os.Exit(execute(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// execute parses args and executes the selected command. It returns the process
// exit code so tests can drive it without exiting.
func execute(ctx context.Context, args []string, out, errOut io.Writer) (exitCode int) {
	cli := CLI{}
	parser, err := kong.New(
		&cli,
		kong.Name("endpointcloud"),
		kong.Description("Smart-home endpoint backend: router, endpoint handler and skill handler."),
		kong.Writers(out, errOut),
		kong.Vars{
			"version":     fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
			"config_path": defaultConfigPath,
		},
		kong.Exit(func(code int) {
			panic(kongExitCode(code))
		}),
	)
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Error: initialise command parser: %v\n", err)
		return 1
	}
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		code, ok := recovered.(kongExitCode)
		if !ok {
			panic(recovered)
		}
		exitCode = int(code)
	}()

	kctx, err := parser.Parse(args)
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		_, _ = fmt.Fprintln(errOut, "Hint: run `endpointcloud --help`.")
		return 1
	}

	switch kctx.Command() {
	case "serve":
		err = runServe(ctx, cli.Config)
	case "lambda endpoint":
		err = runLambdaEndpoint(ctx)
	case "lambda skill":
		err = runLambdaSkill(ctx)
	case "outputs":
		err = runOutputs(cli.Config, out)
	case "policy <function>":
		err = runPolicy(cli.Config, cli.Policy.Function, out)
	case "migrate up":
		err = runMigrate(ctx, cli.Config, migrateUp, out)
	case "migrate down":
		err = runMigrate(ctx, cli.Config, migrateDown, out)
	case "migrate status":
		err = runMigrate(ctx, cli.Config, migrateStatus, out)
	case "token":
		err = runToken(cli.Config, cli.Token, out)
	default:
		err = fmt.Errorf("unsupported command: %s", kctx.Command())
	}
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}
	return 0
}
