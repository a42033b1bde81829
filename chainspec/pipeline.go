package chainspec

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"path/filepath"

	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/weezy20/gosubnet/accounts"
	"github.com/weezy20/gosubnet/network"
	"github.com/weezy20/gosubnet/substrate"
)

const (
	// SpecFileName is the patched human-readable chainspec in the root dir.
	SpecFileName = "chainspec.json"
	// RawFileName is the raw storage form the nodes are launched with.
	RawFileName = "raw_chainspec.json"
)

// IsMode reports whether [spec] names one of the tool's built-in spec
// presets rather than a template file path.
func IsMode(spec string) bool {
	return spec == "dev" || spec == "local"
}

// ChainArg returns the --chain argument for keystore operations: the preset
// name as-is, or the template file's in-root path as the tool sees it.
func ChainArg(backend substrate.Backend, spec string) string {
	if IsMode(spec) {
		return spec
	}
	return backend.Path(filepath.Base(spec))
}

// Summary reports where the pipeline left its artifacts and how the chain
// identifier changed, so keystores written under the base identifier can be
// relocated.
type Summary struct {
	ChainspecPath string
	RawPath       string
	BaseChainID   string
	FinalChainID  string
}

// Pipeline turns a base chainspec into the finalized genesis for this
// network. Stages run in a fixed order and edit one shared document; any
// stage failure aborts the run with nothing half-written.
type Pipeline struct {
	log     *zap.Logger
	backend substrate.Backend
	cfg     *network.Config
	doc     *Document
}

func NewPipeline(log *zap.Logger, backend substrate.Backend, cfg *network.Config) *Pipeline {
	return &Pipeline{
		log:     log.With(zap.String("component", "chainspec")),
		backend: backend,
		cfg:     cfg,
	}
}

func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	if err := p.init(ctx); err != nil {
		return nil, err
	}
	baseID := p.doc.ID()
	if err := p.injectBootnodes(); err != nil {
		return nil, err
	}
	if err := p.injectAuthorities(); err != nil {
		return nil, err
	}
	// Metadata overrides run before balance injection so an overridden
	// tokenDecimals scales the allocations.
	p.applyCustomizations()
	if err := p.injectBalances(); err != nil {
		return nil, err
	}
	summary, err := p.finalize(ctx)
	if err != nil {
		return nil, err
	}
	summary.BaseChainID = baseID
	summary.FinalChainID = p.doc.ID()
	return summary, nil
}

// init obtains the base document: built by the tool for the dev/local
// presets, loaded and validated when the operator supplied a template.
func (p *Pipeline) init(ctx context.Context) error {
	if IsMode(p.cfg.ChainSpec) {
		data, err := p.backend.RunStructured(ctx, "",
			"build-spec", "--chain", p.cfg.ChainSpec, "--disable-default-bootnode")
		if err != nil {
			return fmt.Errorf("building base chainspec: %w", err)
		}
		doc, err := Parse(data)
		if err != nil {
			return fmt.Errorf("base chainspec is not valid JSON: %w", err)
		}
		p.doc = doc
	} else {
		doc, err := Load(filepath.Join(p.cfg.RootDir, filepath.Base(p.cfg.ChainSpec)))
		if err != nil {
			return err
		}
		p.doc = doc
	}
	if err := p.doc.Validate(p.cfg.Consensus); err != nil {
		return err
	}
	p.log.Info("base chainspec ready",
		zap.String("source", p.cfg.ChainSpec), zap.String("chainID", p.doc.ID()))
	return nil
}

// injectBootnodes replaces the bootnode list with one entry per node,
// addressed the way the execution backend's nodes reach each other.
func (p *Pipeline) injectBootnodes() error {
	addrs := make([]string, 0, len(p.cfg.Nodes))
	for _, n := range p.cfg.Nodes {
		proto, host := p.backend.NodeHost(n.Name)
		addr := fmt.Sprintf("/%s/%s/tcp/%d/p2p/%s", proto, host, n.P2PPort, n.NetworkKey.PeerID)
		if _, err := multiaddr.NewMultiaddr(addr); err != nil {
			return fmt.Errorf("node %q produced an invalid bootnode address %q: %w", n.Name, addr, err)
		}
		addrs = append(addrs, addr)
	}
	p.doc.SetBootNodes(addrs)
	p.log.Info("bootnodes injected", zap.Int("count", len(addrs)))
	return nil
}

func (p *Pipeline) injectAuthorities() error {
	patch, err := p.doc.Patch()
	if err != nil {
		return err
	}
	for _, n := range p.cfg.Nodes {
		if n.Aura == nil || n.Grandpa == nil || n.Validator == nil {
			return fmt.Errorf("node %q has no generated keys", n.Name)
		}
	}
	switch p.cfg.Consensus {
	case network.ProofOfAuthority:
		aura := make([]interface{}, 0, len(p.cfg.Nodes))
		grandpa := make([]interface{}, 0, len(p.cfg.Nodes))
		for _, n := range p.cfg.Nodes {
			aura = append(aura, n.Aura.SS58Address)
			grandpa = append(grandpa, []interface{}{n.Grandpa.SS58Address, 1})
		}
		section(patch, "aura")["authorities"] = aura
		section(patch, "grandpa")["authorities"] = grandpa
	case network.ValidatorSet:
		sessionKeys := make([]interface{}, 0, len(p.cfg.Nodes))
		validators := make([]interface{}, 0, len(p.cfg.Nodes))
		for _, n := range p.cfg.Nodes {
			addr := n.Validator.Address()
			sessionKeys = append(sessionKeys, []interface{}{
				addr,
				addr,
				map[string]interface{}{
					"aura":    n.Aura.SS58Address,
					"grandpa": n.Grandpa.SS58Address,
				},
			})
			validators = append(validators, addr)
		}
		section(patch, "session")["keys"] = sessionKeys
		section(patch, "validatorSet")["initialValidators"] = validators
	case network.BabeGrandpa:
		babe := make([]interface{}, 0, len(p.cfg.Nodes))
		grandpa := make([]interface{}, 0, len(p.cfg.Nodes))
		for _, n := range p.cfg.Nodes {
			if n.Babe == nil {
				return fmt.Errorf("node %q has no babe key", n.Name)
			}
			babe = append(babe, []interface{}{n.Babe.SS58Address, 1})
			grandpa = append(grandpa, []interface{}{n.Grandpa.SS58Address, 1})
		}
		babeSection := section(patch, "babe")
		babeSection["authorities"] = babe
		// Roughly 4 hours at 6s blocks.
		if _, ok := babeSection["epochDuration"]; !ok {
			babeSection["epochDuration"] = 2400
		}
		if _, ok := babeSection["epochConfig"]; !ok {
			babeSection["epochConfig"] = map[string]interface{}{
				"c":             []interface{}{1, 4},
				"allowed_slots": "PrimaryAndSecondaryPlainSlots",
			}
		}
		section(patch, "grandpa")["authorities"] = grandpa
	default:
		return fmt.Errorf("unsupported consensus mode %q", p.cfg.Consensus)
	}
	p.log.Info("authorities injected",
		zap.String("mode", string(p.cfg.Consensus)), zap.Int("validators", len(p.cfg.Nodes)))
	return nil
}

// injectBalances writes the genesis allocations: one entry per validator
// account plus any operator-declared extras, scaled by the chain's token
// decimals with exact big-integer arithmetic.
func (p *Pipeline) injectBalances() error {
	patch, err := p.doc.Patch()
	if err != nil {
		return err
	}
	balancesSection := section(patch, "balances")
	ledger, _ := balancesSection["balances"].([]interface{})
	if p.cfg.ResetBalances {
		ledger = nil
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p.doc.TokenDecimals())), nil)
	for _, n := range p.cfg.Nodes {
		tokens := p.cfg.Balance
		if n.BalanceOverride != nil {
			tokens = *n.BalanceOverride
		}
		amount := new(big.Int).Mul(big.NewInt(tokens), scale)
		ledger = append(ledger, []interface{}{n.Validator.Address(), json.Number(amount.String())})
	}
	for _, extra := range p.cfg.ExtraBalances {
		if err := accounts.ValidateAddress(p.cfg.AccountKeyType, extra.Address); err != nil {
			p.log.Warn("skipping malformed extra balance entry", zap.Error(err))
			continue
		}
		amount := new(big.Int).Mul(big.NewInt(extra.Amount), scale)
		ledger = append(ledger, []interface{}{extra.Address, json.Number(amount.String())})
	}
	balancesSection["balances"] = ledger
	p.log.Info("balances injected",
		zap.Int("entries", len(ledger)), zap.Int("tokenDecimals", p.doc.TokenDecimals()))
	return nil
}

func (p *Pipeline) applyCustomizations() {
	c := p.cfg.Customize
	if c == nil {
		return
	}
	props := p.doc.Properties()
	if c.TokenSymbol != "" {
		props["tokenSymbol"] = c.TokenSymbol
	}
	if c.TokenDecimals != nil {
		props["tokenDecimals"] = *c.TokenDecimals
	}
	if c.ChainName != "" {
		p.doc.SetName(c.ChainName)
	}
	if c.ChainID != "" {
		p.doc.SetID(c.ChainID)
	}
	p.log.Info("chain metadata customized",
		zap.String("name", p.doc.Name()), zap.String("chainID", p.doc.ID()))
}

// finalize writes the patched spec and converts it to raw storage form
// through the tool.
func (p *Pipeline) finalize(ctx context.Context) (*Summary, error) {
	specPath := filepath.Join(p.cfg.RootDir, SpecFileName)
	if err := p.doc.WriteFile(specPath); err != nil {
		return nil, fmt.Errorf("writing %s: %w", SpecFileName, err)
	}
	raw, err := p.backend.RunStructured(ctx, "",
		"build-spec", "--chain", p.backend.Path(SpecFileName), "--raw", "--disable-default-bootnode")
	if err != nil {
		return nil, fmt.Errorf("building raw chainspec: %w", err)
	}
	rawDoc, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("raw chainspec is not valid JSON: %w", err)
	}
	rawDoc.SetBootNodes(p.doc.BootNodes())
	rawPath := filepath.Join(p.cfg.RootDir, RawFileName)
	if err := rawDoc.WriteFile(rawPath); err != nil {
		return nil, fmt.Errorf("writing %s: %w", RawFileName, err)
	}
	p.log.Info("chainspec finalized",
		zap.String("spec", specPath), zap.String("raw", rawPath))
	return &Summary{ChainspecPath: specPath, RawPath: rawPath}, nil
}
