// Command hubfs reads and writes files on a branch of a
// remote GitHub or GitLab repository through its REST
// API, without a local clone.
//
// Usage:
//
//	hubfs -config hubfs.yaml write path/to/file < content
//	hubfs -config hubfs.yaml read path/to/file
//	hubfs -config hubfs.yaml stat -json path/to/file
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	json "github.com/goccy/go-json"
	"github.com/goccy/go-yaml"

	"github.com/byte4ever/hubfs"
	"github.com/byte4ever/hubfs/store"
	ghstore "github.com/byte4ever/hubfs/store/github"
	glstore "github.com/byte4ever/hubfs/store/gitlab"
)

// fileConfig mirrors the YAML configuration file.
type fileConfig struct {
	// Provider selects the hosting platform:
	// "github" or "gitlab".
	Provider string `yaml:"provider"`

	// Branch is the primary branch (default "main").
	Branch string `yaml:"branch"`

	GitHub struct {
		Owner          string `yaml:"owner"`
		Repo           string `yaml:"repo"`
		AccessToken    string `yaml:"access_token"`
		EnterpriseHost string `yaml:"enterprise_host"`
	} `yaml:"github"`

	GitLab struct {
		Host        string `yaml:"host"`
		Project     string `yaml:"project"`
		AccessToken string `yaml:"access_token"`
	} `yaml:"gitlab"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	const errCtx = "running hubfs"

	configPath := flag.String(
		"config", "hubfs.yaml",
		"Path to the YAML configuration file",
	)
	branch := flag.String(
		"branch", "",
		"Branch overriding the configured one",
	)
	message := flag.String(
		"message", "",
		"Commit message for write",
	)
	createOnly := flag.Bool(
		"create-only", false,
		"Fail write instead of overwriting",
	)
	queued := flag.Bool(
		"queued", false,
		"Force batched write semantics",
	)
	ref := flag.String(
		"ref", "",
		"Ref for read/stat (branch, tag or commit)",
	)
	asJSON := flag.Bool(
		"json", false,
		"Print stat output as JSON",
	)

	flag.Parse()

	if flag.NArg() != 2 {
		return fmt.Errorf(
			"%s: expected <read|write|stat> <path>",
			errCtx,
		)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if *branch != "" {
		cfg.Branch = *branch
	}

	st, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	opts := []hubfs.Option{}
	if cfg.Branch != "" {
		opts = append(
			opts, hubfs.WithBranch(cfg.Branch),
		)
	}

	repo, err := hubfs.New(st, opts...)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	defer repo.Close()

	ctx := context.Background()
	op := flag.Arg(0)
	path := flag.Arg(1)

	switch op {
	case "write":
		return doWrite(ctx, repo, path, writeFlags{
			message:    *message,
			createOnly: *createOnly,
			queued:     *queued,
		})

	case "read":
		return doRead(ctx, repo, path, *ref)

	case "stat":
		return doStat(ctx, repo, path, *ref, *asJSON)

	default:
		return fmt.Errorf(
			"%s: unknown operation %q", errCtx, op,
		)
	}
}

// loadConfig parses the YAML configuration file.
func loadConfig(path string) (*fileConfig, error) {
	const errCtx = "loading configuration"

	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf(
			"%s: parse yaml: %w", errCtx, err,
		)
	}

	return &cfg, nil
}

// newStore builds the configured platform store.
// Pattern: Factory -- selects platform implementation
// at runtime.
func newStore(cfg *fileConfig) (store.Store, error) {
	const errCtx = "creating store"

	switch cfg.Provider {
	case "github", "":
		st, err := ghstore.New(ghstore.Config{
			Owner:          cfg.GitHub.Owner,
			Repo:           cfg.GitHub.Repo,
			AccessToken:    cfg.GitHub.AccessToken,
			EnterpriseHost: cfg.GitHub.EnterpriseHost,
		})
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return st, nil

	case "gitlab":
		st, err := glstore.New(glstore.Config{
			Host:        cfg.GitLab.Host,
			Project:     cfg.GitLab.Project,
			AccessToken: cfg.GitLab.AccessToken,
		})
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return st, nil

	default:
		return nil, fmt.Errorf(
			"%s: unknown provider %q",
			errCtx, cfg.Provider,
		)
	}
}

// writeFlags bundles write-specific flag values.
type writeFlags struct {
	message    string
	createOnly bool
	queued     bool
}

// doWrite stores stdin at path.
func doWrite(
	ctx context.Context,
	repo *hubfs.Repo,
	path string,
	wf writeFlags,
) error {
	const errCtx = "writing"

	content, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf(
			"%s: read stdin: %w", errCtx, err,
		)
	}

	var opts []hubfs.WriteOption

	if wf.message != "" {
		opts = append(
			opts, hubfs.WithMessage(wf.message),
		)
	}

	if wf.createOnly {
		opts = append(opts, hubfs.CreateOnly())
	}

	if wf.queued {
		opts = append(opts, hubfs.Queued())
	}

	if err := repo.Write(
		ctx, path, content, opts...,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	slog.Info("written", "path", path)

	return nil
}

// doRead prints the content of path to stdout.
func doRead(
	ctx context.Context,
	repo *hubfs.Repo,
	path string,
	ref string,
) error {
	const errCtx = "reading"

	var opts []hubfs.ReadOption
	if ref != "" {
		opts = append(opts, hubfs.AtRef(ref))
	}

	content, err := repo.Read(ctx, path, opts...)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if _, err := os.Stdout.Write(content); err != nil {
		return fmt.Errorf(
			"%s: write stdout: %w", errCtx, err,
		)
	}

	return nil
}

// doStat prints the metadata of path.
func doStat(
	ctx context.Context,
	repo *hubfs.Repo,
	path string,
	ref string,
	asJSON bool,
) error {
	const errCtx = "statting"

	var opts []hubfs.ReadOption
	if ref != "" {
		opts = append(opts, hubfs.AtRef(ref))
	}

	info, err := repo.Stat(ctx, path, opts...)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if asJSON {
		out, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf(
				"%s: marshal: %w", errCtx, err,
			)
		}

		fmt.Println(string(out))

		return nil
	}

	fmt.Printf(
		"%s %d %s\n", info.SHA, info.Size, info.Path,
	)

	return nil
}
