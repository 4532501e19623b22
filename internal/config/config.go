package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

const Filename = "crochet.toml"

const (
	DefaultModelsPath     = "models"
	DefaultMigrationsPath = "migrations"
	DefaultLedgerPath     = ".crochet/ledger.db"
)

var ErrProjectNotInitialized = errors.New("no crochet project found")

type ProjectConfig struct {
	Name           string `toml:"name"`
	ModelsPath     string `toml:"models_path"`
	MigrationsPath string `toml:"migrations_path"`
}

type Neo4jConfig struct {
	URI      string `toml:"uri"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type LedgerConfig struct {
	Path string `toml:"path"`
}

type Config struct {
	Project ProjectConfig `toml:"project"`
	Neo4j   Neo4jConfig   `toml:"neo4j"`
	Ledger  LedgerConfig  `toml:"ledger"`

	// ProjectRoot is the directory containing crochet.toml; not serialized.
	ProjectRoot string `toml:"-"`
}

func Default(projectName, root string) *Config {
	return &Config{
		Project: ProjectConfig{
			Name:           projectName,
			ModelsPath:     DefaultModelsPath,
			MigrationsPath: DefaultMigrationsPath,
		},
		Neo4j: Neo4jConfig{
			URI:      "bolt://localhost:7687",
			Username: "neo4j",
		},
		Ledger:      LedgerConfig{Path: DefaultLedgerPath},
		ProjectRoot: root,
	}
}

func (c *Config) ModelsDir() string {
	return filepath.Join(c.ProjectRoot, c.Project.ModelsPath)
}

func (c *Config) MigrationsDir() string {
	return filepath.Join(c.ProjectRoot, c.Project.MigrationsPath)
}

func (c *Config) LedgerFile() string {
	return filepath.Join(c.ProjectRoot, c.Ledger.Path)
}

// FindProjectRoot walks up from start looking for crochet.toml.
func FindProjectRoot(start string) (string, error) {
	current, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(current, Filename)); err == nil {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("%w at '%s'; run 'crochet init' first", ErrProjectNotInitialized, start)
		}
		current = parent
	}
}

// Load reads the project config from root (or discovers the root when
// empty). Connection settings may be overridden with CROCHET_NEO4J_URI,
// CROCHET_NEO4J_USERNAME, and CROCHET_NEO4J_PASSWORD.
func Load(root string) (*Config, error) {
	if root == "" {
		found, err := FindProjectRoot(".")
		if err != nil {
			return nil, err
		}
		root = found
	}

	path := filepath.Join(root, Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at '%s'; run 'crochet init' first", ErrProjectNotInitialized, root)
		}
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default("my-graph", root)
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	cfg.ProjectRoot = root

	if uri := os.Getenv("CROCHET_NEO4J_URI"); uri != "" {
		cfg.Neo4j.URI = uri
	}
	if user := os.Getenv("CROCHET_NEO4J_USERNAME"); user != "" {
		cfg.Neo4j.Username = user
	}
	if pass := os.Getenv("CROCHET_NEO4J_PASSWORD"); pass != "" {
		cfg.Neo4j.Password = pass
	}

	return cfg, nil
}

// Save writes the config to its project root.
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	path := filepath.Join(c.ProjectRoot, Filename)
	if err := os.MkdirAll(c.ProjectRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file '%s': %w", path, err)
	}
	return nil
}
