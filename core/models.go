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


package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SourceType discriminates SourceMetadata variants. Exactly one locator field
// group is populated per source type, so consumers can branch on SourceType
// alone.
type SourceType string

const (
	// SourceFilesystem identifies state files read from a local directory.
	SourceFilesystem SourceType = "filesystem"
	// SourceS3 identifies state files read from an object-store bucket.
	SourceS3 SourceType = "s3"
	// SourceKubernetes identifies state files read from cluster secrets.
	SourceKubernetes SourceType = "kubernetes"
)

// SourceMetadata records the provenance of a collected state document.
// Locator fields are tagged omitempty; only the group belonging to SourceType
// is ever set.
type SourceMetadata struct {
	SourceType SourceType `json:"source_type"`

	// Filesystem locator group.
	Path string `json:"path,omitempty"`

	// Object-store locator group.
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`

	// Kubernetes locator group.
	Cluster     string            `json:"cluster,omitempty"`
	Namespace   string            `json:"namespace,omitempty"`
	SecretName  string            `json:"secret_name,omitempty"`
	SecretUID   string            `json:"secret_uid,omitempty"`
	StateKey    string            `json:"state_key,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`

	Size         int64     `json:"size,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
	CollectedAt  time.Time `json:"collected_at,omitempty"`
}

// Locator returns the canonical location string for the populated locator
// group. It is stable for the lifetime of the logical source object and is
// the leading component of every FlatRecord id.
func (m *SourceMetadata) Locator() string {
	switch m.SourceType {
	case SourceS3:
		return m.Bucket + "/" + m.Key
	case SourceKubernetes:
		return m.Cluster + "/" + m.Namespace + "/" + m.SecretName
	default:
		return m.Path
	}
}

// RawRecord is a source state document plus its provenance, as produced by a
// collector. It is immutable once yielded; ownership passes to whichever
// queue receives it.
type RawRecord struct {
	Content  map[string]any `json:"content"`
	Metadata SourceMetadata `json:"metadata"`
}

// FlatRecord is one normalized resource instance ready for indexing.
// Attributes holds the original nested tree verbatim; Flattened holds the
// depth-capped scalar projection and is inlined at the top level of the
// marshaled document.
type FlatRecord struct {
	ID string `json:"id"`

	StateVersion     int    `json:"state_version"`
	TerraformVersion string `json:"terraform_version"`

	ResourceType  string `json:"resource_type"`
	ResourceName  string `json:"resource_name"`
	ResourceMode  string `json:"resource_mode"`
	Provider      string `json:"provider"`
	InstanceIndex int    `json:"instance_index"`

	SourceType         SourceType `json:"source_type"`
	SourcePath         string     `json:"source_path,omitempty"`
	SourceBucket       string     `json:"source_bucket,omitempty"`
	SourceKey          string     `json:"source_key,omitempty"`
	SourceCluster      string     `json:"source_cluster,omitempty"`
	SourceNamespace    string     `json:"source_namespace,omitempty"`
	SourceSecretName   string     `json:"source_secret_name,omitempty"`
	SourceLastModified time.Time  `json:"source_last_modified,omitempty"`

	CollectedAt time.Time `json:"collected_at,omitempty"`
	IndexedAt   time.Time `json:"indexed_at"`

	Attributes map[string]any `json:"attributes"`
	Flattened  map[string]any `json:"-"`
}

// MarshalJSON inlines the Flattened projection at the top level of the
// document, matching the shape the sink indexes. Fixed fields win on key
// collision.
func (r *FlatRecord) MarshalJSON() ([]byte, error) {
	type plain FlatRecord
	base, err := json.Marshal((*plain)(r))
	if err != nil {
		return nil, err
	}

	if len(r.Flattened) == 0 {
		return base, nil
	}

	doc := make(map[string]any, len(r.Flattened)+24)
	for k, v := range r.Flattened {
		doc[k] = v
	}
	if err := json.Unmarshal(base, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// DocumentID derives the deterministic id for a resource instance. The same
// logical instance always maps to the same id, so re-uploading is an
// overwrite rather than a duplicate.
func DocumentID(meta *SourceMetadata, resourceType, resourceName string, instanceIndex int) string {
	return fmt.Sprintf("%s/%s.%s.%d", meta.Locator(), resourceType, resourceName, instanceIndex)
}

// MirrorSource copies the provenance fields of meta onto r.
func (r *FlatRecord) MirrorSource(meta *SourceMetadata) {
	r.SourceType = meta.SourceType
	r.SourcePath = meta.Path
	r.SourceBucket = meta.Bucket
	r.SourceKey = meta.Key
	r.SourceCluster = meta.Cluster
	r.SourceNamespace = meta.Namespace
	r.SourceSecretName = meta.SecretName
	r.SourceLastModified = meta.LastModified
	r.CollectedAt = meta.CollectedAt
}

// String implements fmt.Stringer for log output.
func (t SourceType) String() string { return string(t) }

// ParseSourceType maps a configuration value to a SourceType.
func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(strings.ToLower(s)) {
	case SourceFilesystem:
		return SourceFilesystem, nil
	case SourceS3:
		return SourceS3, nil
	case SourceKubernetes:
		return SourceKubernetes, nil
	}
	return "", fmt.Errorf("unknown source type %q", s)
}
