package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// resolve returns the config files found at path in lexical order. direct is
// set for the path the user gave, which is taken whatever its extension.
// Anything found by walking a directory has to be a .yml or .yaml file.
func resolve(path string, direct bool) ([]string, error) {
	i, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !i.IsDir() {
		if !direct && !isYAML(path) {
			return nil, nil
		}
		ap, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		return []string{ap}, nil
	}

	names, err := readDirNames(path)
	if err != nil {
		return nil, fmt.Errorf("problem while reading directory %s: %w", path, err)
	}

	var files []string
	for _, n := range names {
		found, err := resolve(filepath.Join(path, n), false)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}

	return files, nil
}

func isYAML(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}

func readDirNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	names, err := f.Readdirnames(-1)
	f.Close()
	if err != nil {
		return nil, err
	}

	sort.Strings(names)
	return names, nil
}
