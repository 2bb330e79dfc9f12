package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// descriptorDoc is the YAML shape of one descriptor node, recursive.
type descriptorDoc struct {
	Key         string           `yaml:"key" validate:"required"`
	Value       string           `yaml:"value"`
	RateLimit   *rateLimitDoc    `yaml:"rate_limit"`
	ShadowMode  *bool            `yaml:"shadow_mode"`
	Descriptors []descriptorDoc  `yaml:"descriptors"`
}

type rateLimitDoc struct {
	RequestsPerUnit uint32 `yaml:"requests_per_unit"`
	Unit            string `yaml:"unit" validate:"required"`
	Unlimited       *bool  `yaml:"unlimited"`
}

// domainDoc is one YAML document: a domain and its descriptor forest.
type domainDoc struct {
	Domain      string           `yaml:"domain" validate:"required"`
	Descriptors []descriptorDoc  `yaml:"descriptors"`
}

// LoadDir reads every *.yaml/*.yml file in dir, non-recursively, and compiles
// them into a single Compiled configuration. The load is all-or-nothing: any
// validation error aborts with no partial result.
func LoadDir(dir string) (*Compiled, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return LoadFiles(files)
}

// LoadFiles parses and compiles the given YAML files into one Compiled
// configuration.
func LoadFiles(paths []string) (*Compiled, error) {
	byDomain := map[string][]fileDescriptors{}

	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}

		var doc domainDoc
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, &ValidationError{File: path, Reason: fmt.Sprintf("invalid yaml: %v", err)}
		}
		if err := validate.Struct(doc); err != nil {
			return nil, &ValidationError{File: path, Reason: fmt.Sprintf("invalid document: %v", err)}
		}

		byDomain[doc.Domain] = append(byDomain[doc.Domain], fileDescriptors{file: path, descriptors: doc.Descriptors})
	}

	domains := make(map[string]*Node, len(byDomain))
	for domain, group := range byDomain {
		root := newNode("", "")
		for _, g := range group {
			if err := insertSiblings(root, g.file, domain, g.descriptors); err != nil {
				return nil, err
			}
		}
		domains[domain] = root
	}

	return &Compiled{domains: domains}, nil
}

type fileDescriptors struct {
	file        string
	descriptors []descriptorDoc
}

// insertSiblings adds descs as children of parent, rejecting duplicate
// (key, value) siblings across every contributing file and recursing into
// each child's own descriptor list.
func insertSiblings(parent *Node, file, pathPrefix string, descs []descriptorDoc) error {
	if parent.Children == nil {
		parent.Children = make(map[childKey]*Node)
	}

	for _, d := range descs {
		if d.Key == "" {
			return &ValidationError{File: file, Path: pathPrefix, Reason: "descriptor key must not be empty"}
		}

		ck := childKey{Key: d.Key, Value: d.Value}
		path := fmt.Sprintf("%s/%s=%s", pathPrefix, d.Key, d.Value)

		child, exists := parent.Children[ck]
		if exists {
			return &ValidationError{File: file, Path: path, Reason: "duplicate sibling descriptor (key, value)"}
		}

		child = newNode(d.Key, d.Value)
		if d.RateLimit != nil {
			rl, err := compileRateLimit(d.RateLimit, d.ShadowMode)
			if err != nil {
				return &ValidationError{File: file, Path: path, Reason: err.Error()}
			}
			child.RateLimit = rl
		}
		parent.Children[ck] = child

		if len(d.Descriptors) > 0 {
			if err := insertSiblings(child, file, path, d.Descriptors); err != nil {
				return err
			}
		}
	}
	return nil
}

func compileRateLimit(rl *rateLimitDoc, shadowMode *bool) (*RateLimit, error) {
	unit, err := ParseUnit(rl.Unit)
	if err != nil {
		return nil, err
	}

	unlimited := rl.Unlimited != nil && *rl.Unlimited
	if rl.RequestsPerUnit == 0 && !unlimited {
		return nil, fmt.Errorf("requests_per_unit must be > 0 unless unlimited is true")
	}

	return &RateLimit{
		RequestsPerUnit: rl.RequestsPerUnit,
		Unit:            unit,
		Unlimited:       unlimited,
		ShadowMode:      shadowMode != nil && *shadowMode,
	}, nil
}
