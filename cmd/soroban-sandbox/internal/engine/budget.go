package engine

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/stellar/go-stellar-sdk/xdr"
)

// linearTermScale is the fixed-point scale of cost model linear terms.
const linearTermScale = 7

// BudgetExceededError is returned by Charge once a limit is crossed.
type BudgetExceededError struct {
	Resource string
	Limit    uint64
	Used     uint64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exceeded: used %d, limit %d", e.Resource, e.Used, e.Limit)
}

// Budget meters CPU instructions and memory bytes against the network's cost
// model. A Budget is used by a single invocation.
type Budget struct {
	cpuLimit    uint64
	memoryLimit uint64
	cpuParams   xdr.ContractCostParams
	memParams   xdr.ContractCostParams
	cpuUsed     uint64
	memoryUsed  uint64
}

func NewBudget(cpuLimit, memoryLimit uint64, cpuParams, memParams xdr.ContractCostParams) *Budget {
	return &Budget{
		cpuLimit:    cpuLimit,
		memoryLimit: memoryLimit,
		cpuParams:   cpuParams,
		memParams:   memParams,
	}
}

// UnlimitedBudget meters usage without ever failing.
func UnlimitedBudget(cpuParams, memParams xdr.ContractCostParams) *Budget {
	return NewBudget(math.MaxUint64, math.MaxUint64, cpuParams, memParams)
}

// Charge accounts for one operation of costType over an input of the given
// size. Cost types without a parameter in the model are free.
func (b *Budget) Charge(costType xdr.ContractCostType, input uint64) error {
	b.cpuUsed = saturatingAdd(b.cpuUsed, cost(b.cpuParams, costType, input))
	b.memoryUsed = saturatingAdd(b.memoryUsed, cost(b.memParams, costType, input))
	if b.cpuUsed > b.cpuLimit {
		return &BudgetExceededError{Resource: "cpu", Limit: b.cpuLimit, Used: b.cpuUsed}
	}
	if b.memoryUsed > b.memoryLimit {
		return &BudgetExceededError{Resource: "memory", Limit: b.memoryLimit, Used: b.memoryUsed}
	}
	return nil
}

func (b *Budget) CPUInstructionsUsed() uint64 {
	return b.cpuUsed
}

func (b *Budget) MemoryBytesUsed() uint64 {
	return b.memoryUsed
}

func (b *Budget) CPULimit() uint64 {
	return b.cpuLimit
}

func (b *Budget) MemoryLimit() uint64 {
	return b.memoryLimit
}

func cost(params xdr.ContractCostParams, costType xdr.ContractCostType, input uint64) uint64 {
	idx := int(costType)
	if idx < 0 || idx >= len(params) {
		return 0
	}
	entry := params[idx]
	constTerm := nonNegative(int64(entry.ConstTerm))
	hi, lo := bits.Mul64(nonNegative(int64(entry.LinearTerm)), input)
	if hi>>linearTermScale != 0 {
		return math.MaxUint64
	}
	linear := hi<<(64-linearTermScale) | lo>>linearTermScale
	return saturatingAdd(constTerm, linear)
}

func nonNegative(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func saturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}
