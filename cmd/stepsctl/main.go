package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stepChallengeAPI/internal/cache"
	"stepChallengeAPI/internal/config"
	"stepChallengeAPI/internal/database"
	"stepChallengeAPI/internal/logger"
	"stepChallengeAPI/internal/types/challenge"
	"stepChallengeAPI/internal/types/user"
	"stepChallengeAPI/services"
)

// adminStore is what the offline commands write through.
type adminStore interface {
	services.ImportStore
	services.UserStore
}

// backend opens the stores used by a command. release frees whatever was opened.
type backend struct {
	open    func(ctx context.Context) (store adminStore, lbCache services.LeaderboardCache, release func(), err error)
	migrate func(ctx context.Context) error
	log     *logger.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	log := logger.New("stepsctl", cfg.Env)
	defer log.Sync()

	if err := newRootCmd(postgresBackend(cfg, log), os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func postgresBackend(cfg *config.Config, log *logger.Logger) *backend {
	return &backend{
		log: log,
		open: func(ctx context.Context) (adminStore, services.LeaderboardCache, func(), error) {
			if err := cfg.RequireDatabase(); err != nil {
				return nil, nil, nil, err
			}
			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return nil, nil, nil, err
			}
			if err := database.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
				pool.Close()
				return nil, nil, nil, err
			}

			release := pool.Close
			var lbCache services.LeaderboardCache
			if cfg.RedisURL != "" {
				redisCache, err := cache.Connect(ctx, cfg.RedisURL, cfg.LeaderboardCacheTTL, log)
				if err != nil {
					log.Warnw("leaderboard cache unavailable, cached standings will expire on their own", "error", err)
				} else {
					lbCache = redisCache
					release = func() {
						redisCache.Close()
						pool.Close()
					}
				}
			}
			return database.NewPostgresStore(pool), lbCache, release, nil
		},
		migrate: func(ctx context.Context) error {
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}
			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			return database.RunMigrations(ctx, pool, cfg.MigrationsDir)
		},
	}
}

func newRootCmd(b *backend, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "stepsctl",
		Short:        "Administer the step challenge database",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.SetErr(out)

	root.AddCommand(newImportCmd(b), newMigrateCmd(b), newCreateUserCmd(b))
	return root
}

func newImportCmd(b *backend) *cobra.Command {
	defaults := services.DefaultImportOptions()
	var (
		name   string
		start  string
		end    string
		active bool
	)

	cmd := &cobra.Command{
		Use:   "import <csv>",
		Short: "Import step challenge data from a CSV file",
		Long: "Reads a sheet with the columns Teams, Member, Date and Steps and loads it\n" +
			"into one challenge. Re-running the same file creates nothing new.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := importOptions(name, start, end, active)
			if err != nil {
				return err
			}
			if _, err := os.Stat(args[0]); err != nil {
				return fmt.Errorf("CSV file not found: %s", args[0])
			}

			store, lbCache, release, err := b.open(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Starting import...")

			summary, err := services.NewImporter(store, lbCache, b.log).ImportFile(cmd.Context(), args[0], opts)
			if err != nil {
				return fmt.Errorf("error during import: %w", err)
			}
			printSummary(out, summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "challenge", defaults.ChallengeName, "challenge name, reused when it already exists")
	cmd.Flags().StringVar(&start, "start", defaults.StartDate.Format(challenge.DateLayout), "first day of the challenge (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", defaults.EndDate.Format(challenge.DateLayout), "last day of the challenge (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&active, "active", defaults.IsActive, "mark a newly created challenge active")
	return cmd
}

func importOptions(name, start, end string, active bool) (services.ImportOptions, error) {
	opts := services.ImportOptions{ChallengeName: name, IsActive: active}
	if name == "" {
		return opts, fmt.Errorf("--challenge must not be empty")
	}
	var err error
	if opts.StartDate, err = challenge.ParseDate(start); err != nil {
		return opts, fmt.Errorf("invalid --start %q: %w", start, err)
	}
	if opts.EndDate, err = challenge.ParseDate(end); err != nil {
		return opts, fmt.Errorf("invalid --end %q: %w", end, err)
	}
	if opts.EndDate.Before(opts.StartDate) {
		return opts, fmt.Errorf("--end %s is before --start %s", end, start)
	}
	return opts, nil
}

func printSummary(out io.Writer, s *services.ImportSummary) {
	state := "created"
	if !s.ChallengeCreated {
		state = "already existed, reused"
	}
	fmt.Fprintf(out, "Challenge %q (%s)\n", s.Challenge.Name, state)
	fmt.Fprintf(out, "Teams: %d (%d new)\n", s.Teams, s.TeamsCreated)
	fmt.Fprintf(out, "Participants: %d (%d new)\n", s.Participants, s.ParticipantsCreated)
	for _, member := range s.SkippedMembers {
		fmt.Fprintf(out, "  skipped member: %s\n", member)
	}
	fmt.Fprintf(out, "Entries created: %d\n", s.EntriesCreated)
	if s.EntriesDuplicate > 0 {
		fmt.Fprintf(out, "Entries already present: %d\n", s.EntriesDuplicate)
	}
	if s.EntriesOutOfWindow > 0 {
		fmt.Fprintf(out, "Entries outside the challenge window: %d\n", s.EntriesOutOfWindow)
	}
	if s.EntriesSkipped > 0 {
		fmt.Fprintf(out, "Entries skipped: %d\n", s.EntriesSkipped)
	}
	fmt.Fprintln(out, "Import completed.")
}

func newMigrateCmd(b *backend) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			if err := b.migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
			return nil
		},
	}
}

func newCreateUserCmd(b *backend) *cobra.Command {
	req := &user.CreateUserRequest{}

	cmd := &cobra.Command{
		Use:   "create-user <username>",
		Short: "Create a login account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Username = args[0]

			store, _, release, err := b.open(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			// Account creation never issues a session token.
			u, err := services.NewAuthService(store, nil, b.log).CreateUser(cmd.Context(), req)
			if err != nil {
				return err
			}

			role := "participant"
			switch {
			case u.IsSuperuser:
				role = "superuser"
			case u.IsStaff:
				role = "staff"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %q (id %d)\n", role, u.Username, u.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Password, "password", "", "password; leave empty for an account that cannot log in")
	cmd.Flags().StringVar(&req.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&req.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	cmd.Flags().BoolVar(&req.IsStaff, "staff", false, "grant access to the admin API")
	cmd.Flags().BoolVar(&req.IsSuperuser, "superuser", false, "grant every permission, including closed challenge edits")
	return cmd
}
