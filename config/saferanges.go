package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// safeRangesFile is the on-disk shape of the override file:
// chain ID → list of [start, end] pairs.
type safeRangesFile struct {
	Chains map[string][][2]uint64 `json:"chains"`
}

// LoadSafeRanges reads the per-chain safe-range override file.
// A missing file is not an error and yields an empty map.
func LoadSafeRanges(path string) (map[string][]HeightRange, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]HeightRange{}, nil
		}
		return nil, err
	}

	var file safeRangesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make(map[string][]HeightRange, len(file.Chains))
	for chain, pairs := range file.Chains {
		ranges := make([]HeightRange, 0, len(pairs))
		for i, p := range pairs {
			if p[1] < p[0] {
				return nil, fmt.Errorf("%s: chain %q range %d: end %d before start %d", path, chain, i, p[1], p[0])
			}
			ranges = append(ranges, HeightRange{Start: p[0], End: p[1]})
		}
		out[chain] = ranges
	}
	return out, nil
}

// SaveSafeRanges writes the override file, replacing any previous content.
func SaveSafeRanges(path string, ranges map[string][]HeightRange) error {
	file := safeRangesFile{Chains: make(map[string][][2]uint64, len(ranges))}
	for chain, rs := range ranges {
		pairs := make([][2]uint64, 0, len(rs))
		for _, r := range rs {
			if r.End < r.Start {
				return fmt.Errorf("chain %q: range end %d before start %d", chain, r.End, r.Start)
			}
			pairs = append(pairs, [2]uint64{r.Start, r.End})
		}
		file.Chains[chain] = pairs
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode safe ranges: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
