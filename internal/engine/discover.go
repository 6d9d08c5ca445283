package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rbright/vcd/internal/vcerr"
	"github.com/rbright/vcd/pkg/engineabi"
)

// Info describes one usable engine found during discovery.
type Info struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	Setting    string `json:"setting,omitempty"`
	Path       string `json:"path"`
	UseNetwork bool   `json:"use_network"`
}

// DiscoverEngines scans dir for engine plugins, then probes each extra path (for example a
// remote endpoint). Candidates that fail any check are skipped. Order is stable: directory
// entries sorted by name, then extras as given.
func (a *Adapter) DiscoverEngines(dir string, extra ...string) ([]Info, error) {
	var candidates []string
	if strings.TrimSpace(dir) != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			a.logger.Warn("engine directory unreadable", "dir", dir, "error", err.Error())
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".so") {
				continue
			}
			candidates = append(candidates, filepath.Join(dir, entry.Name()))
		}
	}
	for _, path := range extra {
		if path = strings.TrimSpace(path); path != "" {
			candidates = append(candidates, path)
		}
	}

	infos := make([]Info, 0, len(candidates))
	for _, path := range candidates {
		info, err := a.probe(path)
		if err != nil {
			a.logger.Debug("engine candidate skipped", "path", path, "error", err.Error())
			continue
		}
		infos = append(infos, info)
	}

	if len(infos) == 0 {
		return nil, fmt.Errorf("no valid engine in %q: %w", dir, vcerr.ErrEngineNotFound)
	}
	return infos, nil
}

// probe opens one candidate, resolves its entry points, and reads its info.
func (a *Adapter) probe(path string) (Info, error) {
	lib, err := a.loader.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = lib.Close() }()

	ep, err := resolveEntryPoints(lib)
	if err != nil {
		return Info{}, err
	}

	raw, code := ep.getInfo()
	if code != engineabi.ResultNone {
		return Info{}, fmt.Errorf("get engine info returned %d", code)
	}
	id, err := uuid.Parse(strings.TrimSpace(raw.UUID))
	if err != nil {
		return Info{}, fmt.Errorf("engine uuid %q: %w", raw.UUID, err)
	}
	if strings.TrimSpace(raw.Name) == "" {
		return Info{}, fmt.Errorf("engine %s reports empty name", id)
	}

	return Info{
		UUID:       id.String(),
		Name:       strings.TrimSpace(raw.Name),
		Setting:    raw.Setting,
		Path:       path,
		UseNetwork: raw.UseNetwork,
	}, nil
}
