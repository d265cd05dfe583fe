// Copyright 2025 the terraform-index authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package parser

import (
	"iter"
	"strconv"
	"time"

	"github.com/nkbud/terraform-index/core"
)

const (
	// DefaultMaxDepth caps attribute flattening. Paths deeper than the cap
	// are silently dropped from the projection; the verbatim tree keeps
	// them.
	DefaultMaxDepth = 3

	// DefaultPrefix leads every flattened key.
	DefaultPrefix = "attr_"

	delimiter = "_"
)

// Option configures a Parser.
type Option func(*Parser)

// WithMaxDepth sets the flattening depth cap. Values below 1 are clamped to
// 1; a cap is always enforced.
func WithMaxDepth(depth int) Option {
	return func(p *Parser) {
		if depth < 1 {
			depth = 1
		}
		p.maxDepth = depth
	}
}

// WithPrefix sets the flattened-key prefix.
func WithPrefix(prefix string) Option {
	return func(p *Parser) {
		p.prefix = prefix
	}
}

// Parser turns a raw Terraform state document into FlatRecords. Parse is
// pure and synchronous: no I/O, no shared mutable state.
type Parser struct {
	maxDepth int
	prefix   string
}

// New creates a Parser with the default depth cap and key prefix.
func New(opts ...Option) *Parser {
	p := &Parser{
		maxDepth: DefaultMaxDepth,
		prefix:   DefaultPrefix,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse yields one FlatRecord per resource instance, lazily. Missing
// optional fields default rather than fail: no version becomes 0/"unknown",
// no resource list is empty, and a resource with no instance key yields a
// single implicit empty instance at index 0. An instance list that is
// present but empty yields nothing.
func (p *Parser) Parse(content map[string]any, meta core.SourceMetadata) iter.Seq[*core.FlatRecord] {
	return func(yield func(*core.FlatRecord) bool) {
		stateVersion := intField(content, "version")
		terraformVersion := stringField(content, "terraform_version")

		resources, _ := content["resources"].([]any)
		for _, entry := range resources {
			resource, ok := entry.(map[string]any)
			if !ok {
				continue
			}

			resourceType := stringField(resource, "type")
			resourceName := stringField(resource, "name")
			resourceMode := stringField(resource, "mode")
			provider := stringField(resource, "provider")

			rawInstances, present := resource["instances"]
			instances, _ := rawInstances.([]any)
			if !present {
				instances = []any{map[string]any{}}
			}

			for idx, inst := range instances {
				instance, _ := inst.(map[string]any)
				attributes, _ := instance["attributes"].(map[string]any)
				if attributes == nil {
					attributes = map[string]any{}
				}

				flattened := make(map[string]any)
				p.flattenInto(flattened, attributes, p.prefix, p.maxDepth)

				rec := &core.FlatRecord{
					ID:               core.DocumentID(&meta, resourceType, resourceName, idx),
					StateVersion:     stateVersion,
					TerraformVersion: terraformVersion,
					ResourceType:     resourceType,
					ResourceName:     resourceName,
					ResourceMode:     resourceMode,
					Provider:         provider,
					InstanceIndex:    idx,
					Attributes:       attributes,
					Flattened:        flattened,
					IndexedAt:        time.Now().UTC(),
				}
				rec.MirrorSource(&meta)

				if !yield(rec) {
					return
				}
			}
		}
	}
}

// flattenInto walks the attribute tree, joining map keys and list indices
// with the delimiter. Recursion into a container spends one depth unit;
// containers at depth 0 contribute nothing.
func (p *Parser) flattenInto(dst map[string]any, obj any, prefix string, depth int) {
	if depth <= 0 {
		return
	}

	switch v := obj.(type) {
	case map[string]any:
		for key, value := range v {
			flatKey := prefix + key
			if isContainer(value) {
				p.flattenInto(dst, value, flatKey+delimiter, depth-1)
			} else {
				dst[flatKey] = value
			}
		}
	case []any:
		for idx, value := range v {
			flatKey := prefix + strconv.Itoa(idx)
			if isContainer(value) {
				p.flattenInto(dst, value, flatKey+delimiter, depth-1)
			} else {
				dst[flatKey] = value
			}
		}
	}
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return "unknown"
}

func intField(m map[string]any, key string) int {
	switch n := m[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}
