package engine

import (
	"github.com/pkg/errors"

	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
)

const (
	// costTypeCount covers every cost type up to protocol 23.
	costTypeCount = 85

	instructionsIncrement = 10_000
	dataSizeIncrement     = 1024
)

type FeeConfiguration struct {
	FeePerInstructionIncrement int64
	FeePerDiskReadEntry        int64
	FeePerWriteEntry           int64
	FeePerDiskRead1KB          int64
	FeePerWrite1KB             int64
	FeePerHistorical1KB        int64
	FeePerContractEvent1KB     int64
	FeePerTransactionSize1KB   int64
}

type RentFeeConfiguration struct {
	FeePerRent1KB                 int64
	FeePerWrite1KB                int64
	FeePerWriteEntry              int64
	PersistentRentRateDenominator int64
	TemporaryRentRateDenominator  int64
}

// NetworkConfig holds the fee and limit settings used to price simulated
// transactions.
type NetworkConfig struct {
	Fees                  FeeConfiguration
	Rent                  RentFeeConfiguration
	TxMaxInstructions     int64
	TxMemoryLimit         uint32
	CPUCostParams         xdr.ContractCostParams
	MemoryCostParams      xdr.ContractCostParams
	MinTemporaryEntryTTL  uint32
	MinPersistentEntryTTL uint32
	MaxEntryTTL           uint32
}

// DefaultNetworkConfig returns the sandbox network settings for info.
func DefaultNetworkConfig(info ledger.Info) NetworkConfig {
	cpu := make(xdr.ContractCostParams, costTypeCount)
	mem := make(xdr.ContractCostParams, costTypeCount)
	for i := range costTypeCount {
		v := int64(i)
		cpu[i] = xdr.ContractCostParamEntry{ConstTerm: xdr.Int64((v + 1) * 1000), LinearTerm: xdr.Int64(v << 7)}
		mem[i] = xdr.ContractCostParamEntry{ConstTerm: xdr.Int64((v + 1) * 500), LinearTerm: xdr.Int64(v << 6)}
	}
	return NetworkConfig{
		Fees: FeeConfiguration{
			FeePerInstructionIncrement: 10,
			FeePerDiskReadEntry:        20,
			FeePerWriteEntry:           30,
			FeePerDiskRead1KB:          40,
			FeePerWrite1KB:             50,
			FeePerHistorical1KB:        60,
			FeePerContractEvent1KB:     70,
			FeePerTransactionSize1KB:   80,
		},
		Rent: RentFeeConfiguration{
			FeePerRent1KB:                 100,
			FeePerWrite1KB:                50,
			FeePerWriteEntry:              30,
			PersistentRentRateDenominator: 100,
			TemporaryRentRateDenominator:  1000,
		},
		TxMaxInstructions:     100_000_000,
		TxMemoryLimit:         40_000_000,
		CPUCostParams:         cpu,
		MemoryCostParams:      mem,
		MinTemporaryEntryTTL:  info.MinTemporaryEntryTTL,
		MinPersistentEntryTTL: info.MinPersistentEntryTTL,
		MaxEntryTTL:           info.MaxEntryTTL,
	}
}

// TransactionResources are the resources a transaction consumes, as far as
// fees are concerned.
type TransactionResources struct {
	Instructions            uint32
	DiskReadEntries         uint32
	WriteEntries            uint32
	DiskReadBytes           uint32
	WriteBytes              uint32
	TransactionSizeBytes    uint32
	ContractEventsSizeBytes uint32
}

// ResourceFee approximates the non-refundable resource fee of a transaction.
func (c NetworkConfig) ResourceFee(r TransactionResources) int64 {
	fee := ceilDiv(int64(r.Instructions)*c.Fees.FeePerInstructionIncrement, instructionsIncrement)
	fee += int64(r.DiskReadEntries) * c.Fees.FeePerDiskReadEntry
	fee += int64(r.WriteEntries) * c.Fees.FeePerWriteEntry
	fee += ceilDiv(int64(r.DiskReadBytes)*c.Fees.FeePerDiskRead1KB, dataSizeIncrement)
	fee += ceilDiv(int64(r.WriteBytes)*c.Fees.FeePerWrite1KB, dataSizeIncrement)
	fee += ceilDiv(int64(r.TransactionSizeBytes)*(c.Fees.FeePerTransactionSize1KB+c.Fees.FeePerHistorical1KB), dataSizeIncrement)
	fee += ceilDiv(int64(r.ContractEventsSizeBytes)*c.Fees.FeePerContractEvent1KB, dataSizeIncrement)
	return fee
}

// RentFee is the fee for keeping sizeBytes alive for ledgers ledgers.
func (c NetworkConfig) RentFee(sizeBytes uint32, ledgers uint32, persistent bool) int64 {
	denominator := c.Rent.TemporaryRentRateDenominator
	if persistent {
		denominator = c.Rent.PersistentRentRateDenominator
	}
	if denominator <= 0 || ledgers == 0 {
		return 0
	}
	return ceilDiv(int64(sizeBytes)*c.Rent.FeePerRent1KB*int64(ledgers), dataSizeIncrement*denominator)
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// ConfigSettingEntries returns the config setting entries the sandbox ledger
// is seeded with.
func (c NetworkConfig) ConfigSettingEntries() []xdr.LedgerEntry {
	maxSize := xdr.Uint32(128 * 1024)
	cpu := c.CPUCostParams
	mem := c.MemoryCostParams
	settings := []xdr.ConfigSettingEntry{
		{
			ConfigSettingId:      xdr.ConfigSettingIdConfigSettingContractMaxSizeBytes,
			ContractMaxSizeBytes: &maxSize,
		},
		{
			ConfigSettingId: xdr.ConfigSettingIdConfigSettingContractComputeV0,
			ContractCompute: &xdr.ConfigSettingContractComputeV0{
				LedgerMaxInstructions:           xdr.Int64(c.TxMaxInstructions),
				TxMaxInstructions:               xdr.Int64(c.TxMaxInstructions),
				FeeRatePerInstructionsIncrement: xdr.Int64(c.Fees.FeePerInstructionIncrement),
				TxMemoryLimit:                   xdr.Uint32(c.TxMemoryLimit),
			},
		},
		{
			ConfigSettingId:            xdr.ConfigSettingIdConfigSettingContractCostParamsCpuInstructions,
			ContractCostParamsCpuInsns: &cpu,
		},
		{
			ConfigSettingId:            xdr.ConfigSettingIdConfigSettingContractCostParamsMemoryBytes,
			ContractCostParamsMemBytes: &mem,
		},
	}
	entries := make([]xdr.LedgerEntry, 0, len(settings))
	for i := range settings {
		entries = append(entries, xdr.LedgerEntry{
			Data: xdr.LedgerEntryData{
				Type:          xdr.LedgerEntryTypeConfigSetting,
				ConfigSetting: &settings[i],
			},
		})
	}
	return entries
}

// ConfigSettingKey is the ledger key of a config setting.
func ConfigSettingKey(id xdr.ConfigSettingId) xdr.LedgerKey {
	return xdr.LedgerKey{
		Type:          xdr.LedgerEntryTypeConfigSetting,
		ConfigSetting: &xdr.LedgerKeyConfigSetting{ConfigSettingId: id},
	}
}

// NetworkConfigFromLedger overlays the config settings found in snapshot on
// top of the defaults for info.
func NetworkConfigFromLedger(snapshot SnapshotSource, info ledger.Info) (NetworkConfig, error) {
	cfg := DefaultNetworkConfig(info)
	for _, id := range []xdr.ConfigSettingId{
		xdr.ConfigSettingIdConfigSettingContractComputeV0,
		xdr.ConfigSettingIdConfigSettingContractCostParamsCpuInstructions,
		xdr.ConfigSettingIdConfigSettingContractCostParamsMemoryBytes,
	} {
		entry, ok, err := snapshot.Get(ConfigSettingKey(id))
		if err != nil {
			return NetworkConfig{}, errors.Wrapf(err, "could not load config setting %s", id.String())
		}
		if !ok {
			continue
		}
		setting, ok := entry.Entry.Data.GetConfigSetting()
		if !ok {
			return NetworkConfig{}, errors.Errorf("entry under config setting key %s has type %s",
				id.String(), entry.Entry.Data.Type.String())
		}
		switch id {
		case xdr.ConfigSettingIdConfigSettingContractComputeV0:
			if compute, ok := setting.GetContractCompute(); ok {
				cfg.TxMaxInstructions = int64(compute.TxMaxInstructions)
				cfg.TxMemoryLimit = uint32(compute.TxMemoryLimit)
				cfg.Fees.FeePerInstructionIncrement = int64(compute.FeeRatePerInstructionsIncrement)
			}
		case xdr.ConfigSettingIdConfigSettingContractCostParamsCpuInstructions:
			if params, ok := setting.GetContractCostParamsCpuInsns(); ok {
				cfg.CPUCostParams = params
			}
		case xdr.ConfigSettingIdConfigSettingContractCostParamsMemoryBytes:
			if params, ok := setting.GetContractCostParamsMemBytes(); ok {
				cfg.MemoryCostParams = params
			}
		}
	}
	return cfg, nil
}

// MaxContractSize returns the configured contract size limit, or 0 when the
// ledger carries none.
func MaxContractSize(snapshot SnapshotSource) (uint32, error) {
	entry, ok, err := snapshot.Get(ConfigSettingKey(xdr.ConfigSettingIdConfigSettingContractMaxSizeBytes))
	if err != nil || !ok {
		return 0, err
	}
	setting, ok := entry.Entry.Data.GetConfigSetting()
	if !ok {
		return 0, nil
	}
	size, ok := setting.GetContractMaxSizeBytes()
	if !ok {
		return 0, nil
	}
	return uint32(size), nil
}
