package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"sort"
	"strings"

	"github.com/skillcore/sandbox/internal/config"
	"github.com/skillcore/sandbox/internal/manifest"

	"log/slog"
)

// Provisioner builds per-skill language environments into a cache
// directory, reusing an existing environment whenever the cache key
// already satisfies the request. Safe for concurrent use.
type Provisioner struct {
	cacheDir string
	meta     *metaStore
	log      *slog.Logger
}

// Open opens (and creates if absent) the provisioner's cache directory and
// metadata database under cacheDir.
func Open(cacheDir string, log *slog.Logger) (*Provisioner, error) {
	if err := config.EnsureCacheDir(cacheDir); err != nil {
		return nil, fmt.Errorf("ensure cache dir: %w", err)
	}
	meta, err := openMetaStore(filepath.Join(cacheDir, "cache.db"))
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Provisioner{cacheDir: cacheDir, meta: meta, log: log.With("component", "provisioner")}, nil
}

func (p *Provisioner) Close() error {
	return p.meta.Close()
}

// Ensure builds (or reuses) the runtime environment for m, returning the
// paths the sandbox layer needs. It is idempotent: calling it twice with an
// unchanged manifest never reinstalls, and concurrent calls for the same
// cache key serialize to exactly one installation.
func (p *Provisioner) Ensure(ctx context.Context, m *manifest.Manifest, skillDir string) (RuntimePaths, error) {
	switch m.Language {
	case manifest.Shell, manifest.Unknown:
		return RuntimePaths{WorkspaceRoot: skillDir}, nil
	case manifest.Python:
		return p.ensurePython(ctx, m, skillDir)
	case manifest.JavaScript, manifest.TypeScript:
		return p.ensureNode(ctx, m, skillDir)
	default:
		return RuntimePaths{}, fmt.Errorf("unsupported language %q", m.Language)
	}
}

func (p *Provisioner) ensurePython(ctx context.Context, m *manifest.Manifest, skillDir string) (RuntimePaths, error) {
	key := cacheKey(m.Dependencies, pythonVersionTag())
	envDir := filepath.Join(p.cacheDir, "envs", key)

	if envPath, found, err := p.meta.lookup(key); err != nil {
		return RuntimePaths{}, err
	} else if found {
		return RuntimePaths{
			InterpreterPath: filepath.Join(envPath, venvBinDir(), venvPython()),
			EnvCacheDir:     envPath,
			WorkspaceRoot:   skillDir,
		}, nil
	}

	lock := newFileLock(p.cacheDir, key)
	if err := lock.acquire(ctx); err != nil {
		return RuntimePaths{}, fmt.Errorf("acquire provisioner lock: %w", err)
	}
	defer lock.release()

	// Re-check after acquiring the lock: another process may have finished
	// installing while we waited.
	if envPath, found, err := p.meta.lookup(key); err != nil {
		return RuntimePaths{}, err
	} else if found {
		return RuntimePaths{
			InterpreterPath: filepath.Join(envPath, venvBinDir(), venvPython()),
			EnvCacheDir:     envPath,
			WorkspaceRoot:   skillDir,
		}, nil
	}

	if _, err := os.Stat(envDir); os.IsNotExist(err) {
		p.log.Info("creating python venv", "cache_key", key)
		cmd := exec.CommandContext(ctx, "python3", "-m", "venv", envDir)
		var stderr strings.Builder
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return RuntimePaths{}, &ProvisionError{CacheKey: key, Stderr: stderr.String(), Cause: err}
		}
	}

	if len(m.Dependencies) > 0 {
		pip := filepath.Join(envDir, venvBinDir(), venvPip())
		args := []string{"install", "--quiet"}
		for _, d := range m.Dependencies {
			if d.Ecosystem == "pypi" {
				args = append(args, d.Name)
			}
		}
		if len(args) > 2 {
			cmd := exec.CommandContext(ctx, pip, args...)
			var stderr strings.Builder
			cmd.Stderr = &stderr
			if err := cmd.Run(); err != nil {
				return RuntimePaths{}, &ProvisionError{CacheKey: key, Stderr: stderr.String(), Cause: err}
			}
		}
	}

	if err := p.meta.record(key, string(m.Language), envDir); err != nil {
		return RuntimePaths{}, err
	}

	return RuntimePaths{
		InterpreterPath: filepath.Join(envDir, venvBinDir(), venvPython()),
		EnvCacheDir:     envDir,
		WorkspaceRoot:   skillDir,
	}, nil
}

func (p *Provisioner) ensureNode(ctx context.Context, m *manifest.Manifest, skillDir string) (RuntimePaths, error) {
	key := cacheKey(m.Dependencies, "node")
	envDir := filepath.Join(p.cacheDir, "envs", key)
	nodeModules := filepath.Join(envDir, "node_modules")

	if envPath, found, err := p.meta.lookup(key); err != nil {
		return RuntimePaths{}, err
	} else if found {
		return RuntimePaths{
			InterpreterPath: "node",
			NodeModulesPath: filepath.Join(envPath, "node_modules"),
			EnvCacheDir:     envPath,
			WorkspaceRoot:   skillDir,
		}, nil
	}

	lock := newFileLock(p.cacheDir, key)
	if err := lock.acquire(ctx); err != nil {
		return RuntimePaths{}, fmt.Errorf("acquire provisioner lock: %w", err)
	}
	defer lock.release()

	if envPath, found, err := p.meta.lookup(key); err != nil {
		return RuntimePaths{}, err
	} else if found {
		return RuntimePaths{
			InterpreterPath: "node",
			NodeModulesPath: filepath.Join(envPath, "node_modules"),
			EnvCacheDir:     envPath,
			WorkspaceRoot:   skillDir,
		}, nil
	}

	if _, err := os.Stat(nodeModules); os.IsNotExist(err) {
		if err := os.MkdirAll(envDir, 0755); err != nil {
			return RuntimePaths{}, &ProvisionError{CacheKey: key, Cause: err}
		}
		var names []string
		for _, d := range m.Dependencies {
			if d.Ecosystem == "npm" {
				names = append(names, d.Name)
			}
		}
		if len(names) > 0 {
			p.log.Info("installing node dependencies", "cache_key", key)
			args := append([]string{"install", "--no-save", "--prefix", envDir}, names...)
			cmd := exec.CommandContext(ctx, "npm", args...)
			var stderr strings.Builder
			cmd.Stderr = &stderr
			if err := cmd.Run(); err != nil {
				return RuntimePaths{}, &ProvisionError{CacheKey: key, Stderr: stderr.String(), Cause: err}
			}
		} else if err := os.MkdirAll(nodeModules, 0755); err != nil {
			return RuntimePaths{}, &ProvisionError{CacheKey: key, Cause: err}
		}
	}

	if err := p.meta.record(key, string(m.Language), envDir); err != nil {
		return RuntimePaths{}, err
	}

	return RuntimePaths{
		InterpreterPath: "node",
		NodeModulesPath: nodeModules,
		EnvCacheDir:     envDir,
		WorkspaceRoot:   skillDir,
	}, nil
}

// cacheKey is sha256(sorted(dependencies) || version_tag), per spec.md §4.2.
func cacheKey(deps []manifest.PackageSpec, versionTag string) string {
	tokens := make([]string, len(deps))
	for i, d := range deps {
		tokens[i] = d.Ecosystem + ":" + d.Name
	}
	sort.Strings(tokens)

	h := sha256.New()
	h.Write([]byte(strings.Join(tokens, ",")))
	h.Write([]byte("|"))
	h.Write([]byte(versionTag))
	return hex.EncodeToString(h.Sum(nil))
}

func pythonVersionTag() string {
	out, err := exec.Command("python3", "-c", "import sys; print(f'{sys.version_info.major}.{sys.version_info.minor}')").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

func venvBinDir() string {
	if goruntime.GOOS == "windows" {
		return "Scripts"
	}
	return "bin"
}

func venvPython() string {
	if goruntime.GOOS == "windows" {
		return "python.exe"
	}
	return "python3"
}

func venvPip() string {
	if goruntime.GOOS == "windows" {
		return "pip.exe"
	}
	return "pip3"
}
