package captcha

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

// extensionConfigPath is where the 2Captcha extension keeps its defaults.
const extensionConfigPath = "common/config.js"

var (
	apiKeyPattern      = regexp.MustCompile(`apiKey:\s*(?:null|"[^"]*"|'[^']*')`)
	autoSubmitPattern  = regexp.MustCompile(`autoSubmitForms:\s*false`)
	autoSolveTSPattern = regexp.MustCompile(`autoSolveTurnstile:\s*false`)
)

// PrepareExtension copies the unpacked extension at src into dst and rewrites its
// config so it carries apiKey and submits and solves Turnstile without a click.
// It returns dst.
func PrepareExtension(src, dst, apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrNotConfigured
	}
	if _, err := os.Stat(filepath.Join(src, extensionConfigPath)); err != nil {
		return "", fmt.Errorf("extension config: %w", err)
	}
	if err := copyTree(src, dst); err != nil {
		return "", err
	}

	cfgPath := filepath.Join(dst, extensionConfigPath)
	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		return "", fmt.Errorf("read extension config: %w", err)
	}
	key, err := json.Marshal(apiKey)
	if err != nil {
		return "", fmt.Errorf("encode api key: %w", err)
	}
	out := apiKeyPattern.ReplaceAllLiteral(raw, append([]byte("apiKey: "), key...))
	out = autoSubmitPattern.ReplaceAllLiteral(out, []byte("autoSubmitForms: true"))
	out = autoSolveTSPattern.ReplaceAllLiteral(out, []byte("autoSolveTurnstile: true"))
	if err := os.WriteFile(cfgPath, out, 0o600); err != nil {
		return "", fmt.Errorf("write extension config: %w", err)
	}
	return dst, nil
}

func copyTree(src, dst string) error {
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o600)
	})
	if err != nil {
		return fmt.Errorf("copy extension: %w", err)
	}
	return nil
}
