package catalog

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.json
var schemaFS embed.FS

var (
	schemasOnce  sync.Once
	staticSchema *jsonschema.Schema
	remoteSchema *jsonschema.Schema
	schemasErr   error
)

func schemas() (*jsonschema.Schema, *jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft7
		for _, name := range []string{"static.schema.json", "remote_item.schema.json"} {
			b, err := schemaFS.ReadFile("schema/" + name)
			if err != nil {
				schemasErr = err
				return
			}
			if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
				schemasErr = fmt.Errorf("add schema %s: %w", name, err)
				return
			}
		}
		if staticSchema, schemasErr = c.Compile("static.schema.json"); schemasErr != nil {
			return
		}
		remoteSchema, schemasErr = c.Compile("remote_item.schema.json")
	})
	return staticSchema, remoteSchema, schemasErr
}

// Static is the statically declared catalog, authoritative for unlock rules.
type Static struct {
	Items  []Item // declaration order
	ByID   map[string]Item
	Digest string
}

// LoadStatic reads and validates a catalog.json file.
func LoadStatic(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := ParseStatic(raw)
	if err != nil {
		return nil, fmt.Errorf("catalog.json: %w", err)
	}
	return s, nil
}

// ParseStatic validates raw against the static schema and indexes it.
func ParseStatic(raw []byte) (*Static, error) {
	sch, _, err := schemas()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := sch.Validate(doc); err != nil {
		return nil, err
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	s, err := NewStatic(items)
	if err != nil {
		return nil, err
	}
	s.Digest = sha256Hex(raw)
	return s, nil
}

// NewStatic indexes items, rejecting duplicates and incoherent rules.
func NewStatic(items []Item) (*Static, error) {
	s := &Static{Items: make([]Item, 0, len(items)), ByID: make(map[string]Item, len(items))}
	for _, it := range items {
		if !it.Valid() {
			return nil, fmt.Errorf("item %q: incoherent unlock rule", it.ID)
		}
		if _, dup := s.ByID[it.ID]; dup {
			return nil, fmt.Errorf("duplicate id %q", it.ID)
		}
		s.ByID[it.ID] = it
		s.Items = append(s.Items, it)
	}
	b, _ := json.Marshal(s.Items)
	s.Digest = sha256Hex(b)
	return s, nil
}

// DecodeRemote parses a remote catalog response. Entries failing the remote
// item schema are skipped; only a response that is not a JSON array fails.
func DecodeRemote(raw []byte) ([]Item, error) {
	_, sch, err := schemas()
	if err != nil {
		return nil, err
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("remote catalog: %w", err)
	}
	out := make([]Item, 0, len(entries))
	for _, e := range entries {
		var doc any
		if err := json.Unmarshal(e, &doc); err != nil {
			continue
		}
		if err := sch.Validate(doc); err != nil {
			continue
		}
		var it Item
		if err := json.Unmarshal(e, &it); err != nil {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
