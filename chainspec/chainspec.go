// Package chainspec assembles the genesis chainspec: it obtains a base
// document, patches authorities, bootnodes and balances into it, applies
// chain metadata overrides, and converts the result to raw storage form.
package chainspec

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/weezy20/gosubnet/network"
)

// Document is a chainspec held as a generic JSON tree. Spec files differ
// across runtimes, so the patch stages navigate the tree by key rather than
// binding it to a struct.
type Document struct {
	root map[string]interface{}
}

func Parse(data []byte) (*Document, error) {
	var root map[string]interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing chainspec: %w", err)
	}
	return &Document{root: root}, nil
}

func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading chainspec: %w", err)
	}
	return Parse(data)
}

// Bytes serializes the document with two-space indentation.
func (d *Document) Bytes() ([]byte, error) {
	return json.MarshalIndent(d.root, "", "  ")
}

func (d *Document) WriteFile(path string) error {
	data, err := d.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (d *Document) ID() string   { s, _ := d.root["id"].(string); return s }
func (d *Document) Name() string { s, _ := d.root["name"].(string); return s }

func (d *Document) SetID(id string)     { d.root["id"] = id }
func (d *Document) SetName(name string) { d.root["name"] = name }

// SetBootNodes replaces the bootnode list wholesale. Stale template entries
// must never survive into the final spec.
func (d *Document) SetBootNodes(addrs []string) {
	list := make([]interface{}, len(addrs))
	for i, a := range addrs {
		list[i] = a
	}
	d.root["bootNodes"] = list
}

func (d *Document) BootNodes() []string {
	raw, _ := d.root["bootNodes"].([]interface{})
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Properties returns the chain properties object, creating it when absent.
func (d *Document) Properties() map[string]interface{} {
	props, ok := d.root["properties"].(map[string]interface{})
	if !ok {
		props = map[string]interface{}{}
		d.root["properties"] = props
	}
	return props
}

// TokenDecimals reads properties.tokenDecimals, defaulting to 18 when the
// property is absent or malformed.
func (d *Document) TokenDecimals() int {
	switch v := d.Properties()["tokenDecimals"].(type) {
	case float64:
		return int(v)
	case int:
		// Set by a metadata override rather than parsed from JSON.
		return v
	}
	return 18
}

// Patch returns the runtime genesis patch object under
// genesis.runtimeGenesis.patch, the tree every authority and balance
// injection edits.
func (d *Document) Patch() (map[string]interface{}, error) {
	genesis, ok := d.root["genesis"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("chainspec has no genesis object")
	}
	rg, ok := genesis["runtimeGenesis"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("chainspec has no genesis.runtimeGenesis object")
	}
	patch, ok := rg["patch"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("chainspec has no genesis.runtimeGenesis.patch object")
	}
	return patch, nil
}

// section returns patch[name], creating an empty object when absent.
func section(patch map[string]interface{}, name string) map[string]interface{} {
	s, ok := patch[name].(map[string]interface{})
	if !ok {
		s = map[string]interface{}{}
		patch[name] = s
	}
	return s
}

// Validate checks that the document carries the substructure the selected
// consensus mode will patch. A template missing it is rejected up front
// rather than silently repaired, since an incompatible runtime would only
// fail much later, at node boot.
func (d *Document) Validate(mode network.Consensus) error {
	patch, err := d.Patch()
	if err != nil {
		return err
	}
	required := []string{"balances"}
	switch mode {
	case network.ProofOfAuthority:
		required = append(required, "aura", "grandpa")
	case network.ValidatorSet:
		required = append(required, "session", "validatorSet")
	case network.BabeGrandpa:
		required = append(required, "babe", "grandpa")
	}
	for _, key := range required {
		if _, ok := patch[key].(map[string]interface{}); !ok {
			return fmt.Errorf(
				"chainspec runtime patch has no %q section; the template's runtime does not support consensus mode %q",
				key, mode)
		}
	}
	return nil
}
