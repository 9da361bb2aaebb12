// Command votectl administers an election: roll import, ballot loading,
// admin tokens and schema migrations.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/urnaweb/server/internal/auth"
	"github.com/urnaweb/server/internal/db"
	"github.com/urnaweb/server/internal/importer"
	"github.com/urnaweb/server/internal/repo"
)

const usage = `usage: votectl <command> [flags]

commands:
  import-roll  --file roll.csv      insert voters from a CSV roll
  load-ballot  --file ballot.yaml   insert questions and options
  admin-token  --subject name       print an admin JWT for the tally endpoint
  migrate      [up|status|down]     manage the database schema
`

func main() {
	_ = godotenv.Load(".env")
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "import-roll":
		err = importRoll(ctx, args[1:], stdout)
	case "load-ballot":
		err = loadBallot(ctx, args[1:], stdout)
	case "admin-token":
		err = adminToken(args[1:], stdout)
	case "migrate":
		err = migrate(ctx, args[1:])
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	var partial errPartialImport
	switch {
	case err == nil:
		return 0
	case errors.Is(err, pflag.ErrHelp):
		return 0
	case errors.As(err, &partial):
		fmt.Fprintln(stderr, err)
		return 1
	default:
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
}

type errPartialImport struct {
	failed int
}

func (e errPartialImport) Error() string {
	return fmt.Sprintf("%d roll entries were not imported", e.failed)
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

func openDB(ctx context.Context, databaseURL string) (*sql.DB, error) {
	if databaseURL == "" {
		return nil, errors.New("--database-url or DATABASE_URL is required")
	}
	return db.Open(ctx, databaseURL, 3)
}

func importRoll(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("import-roll")
	file := fs.String("file", "", "CSV roll with name,external_id[,email,phone] header")
	databaseURL := fs.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("--file is required")
	}

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()

	entries, err := importer.ParseRollCSV(f)
	if err != nil {
		return err
	}

	database, err := openDB(ctx, *databaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	batch := uuid.NewString()
	log := slog.With("operation", "import_roll", "batch_id", batch)
	log.Info("importing roll", "file", *file, "entries", len(entries))

	report := repo.NewVoterRepo(db.NewGateway(database)).BulkImport(ctx, entries)
	log.Info("roll import finished", "inserted", report.Inserted, "failed", len(report.Failed))

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.OK() {
		return errPartialImport{failed: len(report.Failed)}
	}
	return nil
}

func loadBallot(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("load-ballot")
	file := fs.String("file", "", "YAML ballot definition")
	databaseURL := fs.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("--file is required")
	}

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()

	ballot, err := importer.ParseBallotYAML(f)
	if err != nil {
		return err
	}

	database, err := openDB(ctx, *databaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	gw := db.NewGateway(database)
	res, err := importer.LoadBallot(ctx, gw, repo.NewBallotRepo(gw), ballot)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "loaded %d questions, %d options\n", res.Questions, res.Options)
	return nil
}

func adminToken(args []string, stdout io.Writer) error {
	fs := newFlagSet("admin-token")
	subject := fs.String("subject", "", "operator name recorded in the token")
	secret := fs.String("secret", os.Getenv("ADMIN_JWT_SECRET"), "HMAC secret shared with the API")
	ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("--subject is required")
	}
	if *secret == "" {
		return errors.New("--secret or ADMIN_JWT_SECRET is required")
	}
	if *ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	tok, err := auth.NewJWTService(*secret, *ttl).SignAdminToken(*subject)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, tok)
	return nil
}

func migrate(ctx context.Context, args []string) error {
	fs := newFlagSet("migrate")
	databaseURL := fs.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	if err := fs.Parse(args); err != nil {
		return err
	}
	direction := "up"
	if fs.NArg() > 0 {
		direction = fs.Arg(0)
	}
	if direction != "up" && direction != "status" && direction != "down" {
		return fmt.Errorf("unknown migrate direction %q", direction)
	}

	database, err := openDB(ctx, *databaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	switch direction {
	case "status":
		return db.MigrationStatus(database)
	case "down":
		return db.Rollback(database)
	default:
		return db.Migrate(database)
	}
}
