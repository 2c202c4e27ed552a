package engine

import (
	"encoding/binary"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
)

const (
	wasmVersion       = 1
	customSectionID   = 0
	maxKnownSectionID = 13
)

var wasmMagic = [4]byte{0x00, 0x61, 0x73, 0x6d}

// Module is a parsed contract module.
type Module struct {
	Hash           xdr.Hash
	Size           int
	SectionCount   int
	CustomSections []string
}

// ModuleCache holds parsed modules keyed by code hash. It is built for a
// single invocation.
type ModuleCache struct {
	modules *lru.Cache[xdr.Hash, *Module]
}

func NewModuleCache(size int) (*ModuleCache, error) {
	if size < 1 {
		size = 1
	}
	modules, err := lru.New[xdr.Hash, *Module](size)
	if err != nil {
		return nil, errors.Wrap(err, "could not create module cache")
	}
	return &ModuleCache{modules: modules}, nil
}

// ParseAndCache parses code, charging budget, and caches the module under
// the code's hash.
func (c *ModuleCache) ParseAndCache(code []byte, budget *Budget) (*Module, error) {
	codeHash := ledger.CodeHash(code)
	if module, ok := c.modules.Get(codeHash); ok {
		return module, nil
	}
	if budget != nil {
		if err := budget.Charge(xdr.ContractCostTypeComputeSha256Hash, uint64(len(code))); err != nil {
			return nil, err
		}
		if err := budget.Charge(xdr.ContractCostTypeVmInstantiation, uint64(len(code))); err != nil {
			return nil, err
		}
	}
	module, err := ParseModule(code)
	if err != nil {
		return nil, err
	}
	c.modules.Add(codeHash, module)
	return module, nil
}

func (c *ModuleCache) Get(codeHash xdr.Hash) (*Module, bool) {
	return c.modules.Get(codeHash)
}

func (c *ModuleCache) Contains(codeHash xdr.Hash) bool {
	return c.modules.Contains(codeHash)
}

func (c *ModuleCache) Len() int {
	return c.modules.Len()
}

// ParseModule checks the module header and walks its sections. It does not
// validate section contents.
func ParseModule(code []byte) (*Module, error) {
	if len(code) < 8 {
		return nil, errors.New("wasm module too short")
	}
	if [4]byte(code[:4]) != wasmMagic {
		return nil, errors.New("invalid wasm magic")
	}
	if version := binary.LittleEndian.Uint32(code[4:8]); version != wasmVersion {
		return nil, errors.Errorf("unsupported wasm version %d", version)
	}

	module := &Module{Hash: ledger.CodeHash(code), Size: len(code)}
	r := wasmReader{buf: code, pos: 8}
	for !r.done() {
		id, err := r.readByte()
		if err != nil {
			return nil, err
		}
		if id > maxKnownSectionID {
			return nil, errors.Errorf("unknown wasm section id %d at offset %d", id, r.pos-1)
		}
		size, err := r.uleb32()
		if err != nil {
			return nil, err
		}
		content, err := r.readBytes(int(size))
		if err != nil {
			return nil, errors.Wrapf(err, "section %d", id)
		}
		module.SectionCount++
		if id == customSectionID {
			name, err := customSectionName(content)
			if err != nil {
				return nil, err
			}
			module.CustomSections = append(module.CustomSections, name)
		}
	}
	return module, nil
}

func customSectionName(content []byte) (string, error) {
	r := wasmReader{buf: content}
	n, err := r.uleb32()
	if err != nil {
		return "", errors.Wrap(err, "custom section name")
	}
	name, err := r.readBytes(int(n))
	if err != nil {
		return "", errors.Wrap(err, "custom section name")
	}
	return string(name), nil
}

type wasmReader struct {
	buf []byte
	pos int
}

var errTruncated = errors.New("truncated wasm module")

func (r *wasmReader) done() bool {
	return r.pos >= len(r.buf)
}

func (r *wasmReader) readByte() (byte, error) {
	if r.done() {
		return 0, errTruncated
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *wasmReader) readBytes(n int) ([]byte, error) {
	if n < 0 || len(r.buf)-r.pos < n {
		return nil, errTruncated
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// uleb32 reads an unsigned LEB128 value of at most five bytes.
func (r *wasmReader) uleb32() (uint32, error) {
	var result uint32
	for shift := uint(0); shift < 35; shift += 7 {
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		if shift == 28 && b&0xf0 != 0 {
			return 0, errors.New("leb128 value overflows u32")
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
	}
	return 0, errors.New("leb128 value too long")
}
