package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"threat-relay/internal/atomicfile"
)

var ErrUnknownTenant = errors.New("unknown tenant")

// Providers understood by the delivery client.
const (
	ProviderGeneric = "generic"
	ProviderDiscord = "discord"
	ProviderMisskey = "misskey"
)

type Tenant struct {
	ID             string        `yaml:"-"`
	DeliveryTarget string        `yaml:"delivery_target"`
	Provider       string        `yaml:"provider"` // "generic" (default), "discord", or "misskey"
	Filters        []string      `yaml:"filters"`
	Locale         string        `yaml:"locale"`
	PostInterval   time.Duration `yaml:"post_interval"`
	APIToken       string        `yaml:"api_token"` // Required for misskey
}

// TenantFile is the tenants document on disk. It is re-read on every Load so
// edits take effect on the next cycle.
type TenantFile struct {
	path string
	mu   sync.Mutex
}

func NewTenantFile(path string) *TenantFile {
	return &TenantFile{path: path}
}

func (f *TenantFile) Path() string {
	return f.path
}

// Load returns the tenants ordered by id.
func (f *TenantFile) Load() ([]Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenants: %w", err)
	}
	return ParseTenants(data)
}

func ParseTenants(data []byte) ([]Tenant, error) {
	var doc map[string]Tenant
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse tenants: %w", err)
	}

	tenants := make([]Tenant, 0, len(doc))
	for id, t := range doc {
		t.ID = id
		if t.Provider == "" {
			t.Provider = ProviderGeneric
		}
		tenants = append(tenants, t)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].ID < tenants[j].ID })
	return tenants, nil
}

// SetTarget rewrites the delivery target of tenant id, keeping the rest of
// the document (comments included) as it is.
func (f *TenantFile) SetTarget(id, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read tenants: %w", err)
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("failed to parse tenants: %w", err)
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("%w: %s", ErrUnknownTenant, id)
	}

	tenant := mappingValue(root.Content[0], id)
	if tenant == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTenant, id)
	}
	if tenant.Kind != yaml.MappingNode {
		// "id:" with no body
		*tenant = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}
	if v := mappingValue(tenant, "delivery_target"); v != nil {
		v.Kind, v.Tag, v.Value, v.Style = yaml.ScalarNode, "!!str", target, 0
	} else {
		tenant.Content = append(tenant.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "delivery_target"},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: target},
		)
	}

	out, err := yaml.Marshal(&root)
	if err != nil {
		return fmt.Errorf("failed to encode tenants: %w", err)
	}
	if err := atomicfile.WriteFile(f.path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write tenants: %w", err)
	}
	return nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}
