package detector

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// datasetFile is the subset of an ultralytics data.yaml we read.
type datasetFile struct {
	Names yaml.Node `yaml:"names"`
}

// LoadLabels reads class names from an ultralytics data.yaml (names as a
// list or an index map) or from a plain file with one name per line.
func LoadLabels(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseDatasetYAML(raw)
	default:
		return parseNamesList(raw)
	}
}

func parseDatasetYAML(raw []byte) ([]string, error) {
	var ds datasetFile
	if err := yaml.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("parse labels yaml: %w", err)
	}

	switch ds.Names.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := ds.Names.Decode(&names); err != nil {
			return nil, fmt.Errorf("decode names list: %w", err)
		}
		if len(names) == 0 {
			return nil, errors.New("labels yaml has an empty names list")
		}
		return names, nil

	case yaml.MappingNode:
		var byIndex map[int]string
		if err := ds.Names.Decode(&byIndex); err != nil {
			return nil, fmt.Errorf("decode names map: %w", err)
		}
		return namesFromIndex(byIndex)

	default:
		return nil, errors.New("labels yaml has no names")
	}
}

func namesFromIndex(byIndex map[int]string) ([]string, error) {
	if len(byIndex) == 0 {
		return nil, errors.New("labels yaml has an empty names map")
	}
	ids := make([]int, 0, len(byIndex))
	for id := range byIndex {
		if id < 0 {
			return nil, fmt.Errorf("negative class id %d", id)
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)

	names := make([]string, ids[len(ids)-1]+1)
	for i := range names {
		names[i] = fmt.Sprintf("class%d", i)
	}
	for id, name := range byIndex {
		names[id] = name
	}
	return names, nil
}

func parseNamesList(raw []byte) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan labels: %w", err)
	}
	if len(names) == 0 {
		return nil, errors.New("labels file is empty")
	}
	return names, nil
}
