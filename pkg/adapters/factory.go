package adapters

import (
	"fmt"
	"log/slog"
	"strings"
)

// New creates a source based on kind and a generic configuration map.
// This is the central extension point for adding new source types.
//
// Supported kinds:
//   - "sepush": EskomSePush API (keys: url, token, areas)
//   - "file": JSON snapshot (keys: path)
//
// "areas" is a comma-separated list of area ids.
// Returns error if kind is unknown or required fields are missing.
func New(kind string, config map[string]string, logger *slog.Logger) (Source, error) {
	switch kind {
	case "sepush":
		return newSePush(config, logger)
	case "file":
		return newFile(config)
	default:
		return nil, fmt.Errorf("unknown source kind: %s (must be sepush or file)", kind)
	}
}

// newSePush creates an EskomSePush adapter from generic config.
func newSePush(config map[string]string, logger *slog.Logger) (Source, error) {
	token := config["token"]
	if token == "" {
		return nil, fmt.Errorf("sepush source requires 'token' config")
	}

	areas := SplitAreaIDs(config["areas"])
	if len(areas) == 0 {
		return nil, fmt.Errorf("sepush source requires 'areas' config")
	}

	url := config["url"]
	if url == "" {
		url = DefaultSePushURL
	}

	return &SePushAdapter{
		BaseURL: url,
		Token:   token,
		AreaIDs: areas,
		Logger:  logger,
	}, nil
}

// newFile creates a snapshot file adapter from generic config.
func newFile(config map[string]string) (Source, error) {
	path := config["path"]
	if path == "" {
		return nil, fmt.Errorf("file source requires 'path' config")
	}
	return &FileAdapter{Path: path}, nil
}

// SplitAreaIDs parses a comma-separated id list, dropping blanks and duplicates.
func SplitAreaIDs(s string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		id := strings.TrimSpace(part)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
