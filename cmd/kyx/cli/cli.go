// Package cli implements the kyx command: create games, start builds and
// follow them to a terminal state from a terminal or a CI job.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/clients"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Exit codes. wait and build --wait map each poller outcome to its own code.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitBuildFailed = 2
	ExitTimeout     = 3
	ExitStatusCheck = 4
)

// ExitCode maps a command error onto the process exit code
func ExitCode(err error) int {
	var failed *clients.BuildFailedError
	var check *clients.StatusCheckError

	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &failed):
		return ExitBuildFailed
	case errors.Is(err, clients.ErrPollTimeout):
		return ExitTimeout
	case errors.As(err, &check):
		return ExitStatusCheck
	}
	return ExitError
}

// Execute runs the command line and returns the exit code
func Execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := New(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
	}
	return ExitCode(err)
}

type app struct {
	v      *viper.Viper
	out    io.Writer
	errOut io.Writer
}

// New builds the kyx root command
func New(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: stdout, errOut: stderr}

	root := &cobra.Command{
		Use:           "kyx",
		Short:         "KYX game build CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (default $HOME/.kyx.yaml)")
	pf.String("api-url", "http://localhost:8080", "kyx-api base URL")
	pf.String("token", "", "bearer token")
	pf.String("user-id", "", "user id sent as X-User-ID when no token is set")
	pf.Duration("poll-interval", clients.DefaultPollInterval, "delay between status polls")
	pf.Int("max-polls", clients.DefaultMaxPolls, "status polls before giving up")
	pf.BoolP("verbose", "v", false, "log requests")

	_ = a.v.BindPFlag("config", pf.Lookup("config"))
	_ = a.v.BindPFlag("api_url", pf.Lookup("api-url"))
	_ = a.v.BindPFlag("token", pf.Lookup("token"))
	_ = a.v.BindPFlag("user_id", pf.Lookup("user-id"))
	_ = a.v.BindPFlag("poll_interval", pf.Lookup("poll-interval"))
	_ = a.v.BindPFlag("max_polls", pf.Lookup("max-polls"))
	_ = a.v.BindPFlag("verbose", pf.Lookup("verbose"))

	root.AddCommand(
		a.createCmd(),
		a.buildCmd(),
		a.statusCmd(),
		a.waitCmd(),
		a.resetCmd(),
		a.historyCmd(),
	)
	return root
}

func (a *app) loadConfig() error {
	a.v.SetEnvPrefix("KYX")
	a.v.AutomaticEnv()

	if file := a.v.GetString("config"); file != "" {
		a.v.SetConfigFile(file)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		a.v.SetConfigFile(filepath.Join(home, ".kyx.yaml"))
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

func (a *app) client() *clients.APIClient {
	level := "warn"
	if a.v.GetBool("verbose") {
		level = "debug"
	}
	return clients.NewAPIClient(a.v.GetString("api_url"), logger.NewWithWriter(a.errOut, level, "text"))
}

// identity attaches the configured credentials to ctx
func (a *app) identity(ctx context.Context) context.Context {
	if token := a.v.GetString("token"); token != "" {
		return clients.WithToken(ctx, token)
	}
	return clients.WithUserID(ctx, a.v.GetString("user_id"))
}

func (a *app) poller(client *clients.APIClient) *clients.Poller {
	p := clients.NewPoller(client)
	p.Interval = a.v.GetDuration("poll_interval")
	p.MaxPolls = a.v.GetInt("max_polls")
	p.OnUpdate = func(poll int, status *clients.BuildStatus) {
		fmt.Fprintf(a.errOut, "poll %d: job %s, game %s\n", poll, status.Job.Status, status.GameStatus)
	}
	return p
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseGameID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid game id %q", arg)
	}
	return id, nil
}

func (a *app) createCmd() *cobra.Command {
	var title, configFile, sourceFile string

	cmd := &cobra.Command{
		Use:   "create <slug>",
		Short: "Create a draft game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &clients.CreateGameRequest{Slug: args[0], Title: title}
			if configFile != "" {
				raw, err := os.ReadFile(configFile)
				if err != nil {
					return fmt.Errorf("failed to read config file: %w", err)
				}
				req.Config = raw
			}
			if sourceFile != "" {
				raw, err := os.ReadFile(sourceFile)
				if err != nil {
					return fmt.Errorf("failed to read source file: %w", err)
				}
				src := string(raw)
				req.Source = &src
			}

			game, err := a.client().CreateGame(a.identity(cmd.Context()), req)
			if err != nil {
				return err
			}
			return a.printJSON(game)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "display title")
	cmd.Flags().StringVar(&configFile, "config-file", "", "JSON config document")
	cmd.Flags().StringVar(&sourceFile, "source-file", "", "main.py to build instead of the template")
	return cmd
}

func (a *app) buildCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "build <game-id>",
		Short: "Start a build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, err := parseGameID(args[0])
			if err != nil {
				return err
			}
			ctx := a.identity(cmd.Context())
			client := a.client()

			accepted, err := client.Build(ctx, gameID)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "build %s accepted\n", accepted.JobID)
			if !wait {
				return nil
			}
			return a.wait(ctx, client, gameID, accepted.JobID)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the build settles")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <game-id>",
		Short: "Show the latest build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, err := parseGameID(args[0])
			if err != nil {
				return err
			}
			status, err := a.client().BuildStatus(a.identity(cmd.Context()), gameID)
			if err != nil {
				return err
			}
			return a.printJSON(status)
		},
	}
}

func (a *app) waitCmd() *cobra.Command {
	var job string

	cmd := &cobra.Command{
		Use:   "wait <game-id>",
		Short: "Poll until the latest build settles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, err := parseGameID(args[0])
			if err != nil {
				return err
			}
			jobID := uuid.Nil
			if job != "" {
				if jobID, err = uuid.Parse(job); err != nil {
					return fmt.Errorf("invalid job id %q", job)
				}
			}
			return a.wait(a.identity(cmd.Context()), a.client(), gameID, jobID)
		},
	}
	cmd.Flags().StringVar(&job, "job", "", "follow this job; fail if another job replaces it")
	return cmd
}

func (a *app) wait(ctx context.Context, client *clients.APIClient, gameID, jobID uuid.UUID) error {
	start := time.Now()
	res, err := a.poller(client).Wait(ctx, gameID, jobID)
	if err != nil {
		var failed *clients.BuildFailedError
		switch {
		case errors.As(err, &failed):
			return fmt.Errorf("%w; edit the game or reset it before rebuilding", err)
		case errors.Is(err, clients.ErrPollTimeout):
			return fmt.Errorf("%w; the build may still finish, check again later", err)
		}
		return err
	}

	url := ""
	if res.Status.BundleURL != nil {
		url = *res.Status.BundleURL
	}
	fmt.Fprintf(a.out, "build %s completed in %s: %s\n", res.Status.Job.ID, time.Since(start).Round(time.Second), url)
	return nil
}

func (a *app) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <game-id>",
		Short: "Fail stuck builds and return the game to draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, err := parseGameID(args[0])
			if err != nil {
				return err
			}
			res, err := a.client().Reset(a.identity(cmd.Context()), gameID)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "reset %d active build(s)\n", res.Reset)
			return nil
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <game-id>",
		Short: "List past builds, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, err := parseGameID(args[0])
			if err != nil {
				return err
			}
			jobs, err := a.client().History(a.identity(cmd.Context()), gameID, limit)
			if err != nil {
				return err
			}
			for _, job := range jobs {
				line := fmt.Sprintf("%s  %-10s  %s", job.ID, job.Status, job.CreatedAt.Format(time.RFC3339))
				if job.Error != nil {
					line += "  " + *job.Error
				}
				fmt.Fprintln(a.out, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of builds to list")
	return cmd
}
