package forecast

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/neurocast-ai/platform/pkg/ml/fusion"
	"github.com/neurocast-ai/platform/pkg/ml/recurrent"
	"github.com/neurocast-ai/platform/pkg/sequence"
)

// Artifact is the on-disk model: the fusion module's and the forecaster's
// trained weights plus the dimensional contract between them. Artifacts are
// read-only configuration produced by the offline training pipeline.
type Artifact struct {
	Version    string           `json:"version"`
	Fusion     fusion.Params    `json:"fusion"`
	Forecaster recurrent.Params `json:"forecaster"`
}

// Model is a loaded, validated artifact ready to serve forecasts.
type Model struct {
	Version    string
	Fusion     *fusion.Module
	Forecaster *recurrent.Forecaster
	Layout     sequence.Layout
}

// Loader reads model artifacts from a directory, caching each parsed model
// until its file changes on disk.
type Loader struct {
	dir   string
	cache map[string]cachedModel
	mu    sync.RWMutex
}

type cachedModel struct {
	model   *Model
	modTime int64
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, cache: make(map[string]cachedModel)}
}

// Load returns the named model, re-reading the artifact only when the file's
// mtime moved.
func (l *Loader) Load(name string) (*Model, error) {
	path := filepath.Join(l.dir, fmt.Sprintf("%s_latest.json", name))
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("model artifact %s: %w", name, err)
	}
	mod := info.ModTime().UnixNano()

	l.mu.RLock()
	cached, ok := l.cache[name]
	l.mu.RUnlock()
	if ok && cached.modTime == mod {
		return cached.model, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var artifact Artifact
	if err := json.Unmarshal(content, &artifact); err != nil {
		return nil, fmt.Errorf("corrupt model artifact %s: %w", name, err)
	}

	model, err := BuildModel(artifact)
	if err != nil {
		return nil, fmt.Errorf("model artifact %s: %w", name, err)
	}

	l.mu.Lock()
	l.cache[name] = cachedModel{model: model, modTime: mod}
	l.mu.Unlock()
	return model, nil
}

// List names every model with an artifact in the directory.
func (l *Loader) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(entry.Name(), "_latest.json"); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// BuildModel validates an artifact and wires its two halves together.
func BuildModel(artifact Artifact) (*Model, error) {
	fusionModule, err := fusion.NewModule(artifact.Fusion)
	if err != nil {
		return nil, err
	}
	forecaster, err := recurrent.NewForecaster(artifact.Forecaster)
	if err != nil {
		return nil, err
	}
	if artifact.Fusion.LatentDim != artifact.Forecaster.LatentDim {
		return nil, fmt.Errorf("fusion latent dim %d != forecaster latent dim %d",
			artifact.Fusion.LatentDim, artifact.Forecaster.LatentDim)
	}
	if artifact.Fusion.DemographicDim != sequence.DemographicDim {
		return nil, fmt.Errorf("artifact demographic dim %d, assembler provides %d",
			artifact.Fusion.DemographicDim, sequence.DemographicDim)
	}
	return &Model{
		Version:    artifact.Version,
		Fusion:     fusionModule,
		Forecaster: forecaster,
		Layout: sequence.Layout{
			StructuralDim: artifact.Fusion.StructuralDim,
			MetabolicDim:  artifact.Fusion.MetabolicDim,
		},
	}, nil
}
