package bootstrap

import (
	"os"
	"path/filepath"
	"strings"

	"meeting-minutes/internal/domain"
)

// WhisperModels returns the built-in model catalog, marking the configured
// model and the checkpoints already present in the Hugging Face cache.
func (a *App) WhisperModels() []domain.WhisperModelOption {
	models := make([]domain.WhisperModelOption, len(domain.WhisperModelCatalog))
	copy(models, domain.WhisperModelCatalog)

	for i := range models {
		models[i].Selected = models[i].ID == a.Settings.WhisperModel
	}
	markDownloadedModels(models, a.resolveCacheDirs())
	return models
}

// resolveCacheDirs lists Hugging Face hub cache directories in lookup order.
func (a *App) resolveCacheDirs() []string {
	seen := map[string]struct{}{}
	var result []string
	add := func(path string) {
		p := strings.TrimSpace(path)
		if p == "" {
			return
		}
		clean := filepath.Clean(p)
		if _, ok := seen[clean]; ok {
			return
		}
		seen[clean] = struct{}{}
		result = append(result, clean)
	}

	add(a.getenv("HF_HUB_CACHE"))
	if hfHome := a.getenv("HF_HOME"); hfHome != "" {
		add(filepath.Join(hfHome, "hub"))
	}
	if homeDir, err := a.homeDir(); err == nil {
		add(filepath.Join(homeDir, ".cache", "huggingface", "hub"))
	}
	return result
}

// cacheDirName maps "org/name" to the hub cache folder "models--org--name".
func cacheDirName(repo string) string {
	return "models--" + strings.ReplaceAll(repo, "/", "--")
}

func markDownloadedModels(models []domain.WhisperModelOption, cacheDirs []string) {
	for i := range models {
		if models[i].Repo == "" {
			continue
		}
		for _, dir := range cacheDirs {
			candidate := filepath.Join(dir, cacheDirName(models[i].Repo), "snapshots")
			info, err := os.Stat(candidate)
			if err != nil || !info.IsDir() {
				continue
			}
			models[i].Downloaded = true
			models[i].LocalPath = filepath.Dir(candidate)
			break
		}
	}
}
