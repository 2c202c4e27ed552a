package builtin

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/engine"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
)

var (
	ErrCodeNotFound          = errors.New("contract code not found")
	ErrContractNotFound      = errors.New("contract not found")
	ErrContractExists        = errors.New("contract already exists")
	ErrMissingAuthorization  = errors.New("missing authorization for contract creation")
	ErrUnsupportedInvocation = errors.New("contract invocation is not supported by the built-in engine")
)

// host runs a single host function against a storage view.
type host struct {
	st                *storage
	info              ledger.Info
	source            xdr.AccountId
	recording         bool
	budget            *engine.Budget
	modules           *engine.ModuleCache
	maxContractSize   uint32
	enableDiagnostics bool
	// auth is the supplied authorization in enforcing mode and the recorded
	// authorization in recording mode.
	auth        []xdr.SorobanAuthorizationEntry
	diagnostics []xdr.DiagnosticEvent
}

func functionName(hf xdr.HostFunction) string {
	switch hf.Type {
	case xdr.HostFunctionTypeHostFunctionTypeUploadContractWasm:
		return "upload_wasm"
	case xdr.HostFunctionTypeHostFunctionTypeCreateContract, xdr.HostFunctionTypeHostFunctionTypeCreateContractV2:
		return "create_contract"
	case xdr.HostFunctionTypeHostFunctionTypeInvokeContract:
		if hf.InvokeContract != nil {
			return string(hf.InvokeContract.FunctionName)
		}
	}
	return hf.Type.String()
}

func (h *host) invoke(hf xdr.HostFunction) (xdr.ScVal, error) {
	val, err := h.dispatch(hf)
	if err != nil {
		h.diagnostic(false, "error", stringVal(err.Error()))
		return xdr.ScVal{}, err
	}
	h.diagnostic(true, "fn_return", val, symbolVal(functionName(hf)))
	return val, nil
}

func (h *host) dispatch(hf xdr.HostFunction) (xdr.ScVal, error) {
	switch hf.Type {
	case xdr.HostFunctionTypeHostFunctionTypeUploadContractWasm:
		if hf.Wasm == nil {
			return xdr.ScVal{}, errors.New("missing wasm")
		}
		return h.uploadWasm(*hf.Wasm)
	case xdr.HostFunctionTypeHostFunctionTypeCreateContract:
		if hf.CreateContract == nil {
			return xdr.ScVal{}, errors.New("missing contract creation arguments")
		}
		args := *hf.CreateContract
		fn := xdr.SorobanAuthorizedFunction{
			Type:                 xdr.SorobanAuthorizedFunctionTypeSorobanAuthorizedFunctionTypeCreateContractHostFn,
			CreateContractHostFn: &args,
		}
		return h.createContract(args.ContractIdPreimage, args.Executable, nil, fn)
	case xdr.HostFunctionTypeHostFunctionTypeCreateContractV2:
		if hf.CreateContractV2 == nil {
			return xdr.ScVal{}, errors.New("missing contract creation arguments")
		}
		args := *hf.CreateContractV2
		fn := xdr.SorobanAuthorizedFunction{
			Type:                   xdr.SorobanAuthorizedFunctionTypeSorobanAuthorizedFunctionTypeCreateContractV2HostFn,
			CreateContractV2HostFn: &args,
		}
		return h.createContract(args.ContractIdPreimage, args.Executable, args.ConstructorArgs, fn)
	case xdr.HostFunctionTypeHostFunctionTypeInvokeContract:
		if hf.InvokeContract == nil {
			return xdr.ScVal{}, errors.New("missing invocation arguments")
		}
		return h.invokeContract(*hf.InvokeContract)
	default:
		return xdr.ScVal{}, errors.Errorf("unsupported host function %s", hf.Type.String())
	}
}

func (h *host) uploadWasm(code []byte) (xdr.ScVal, error) {
	if h.maxContractSize > 0 && len(code) > int(h.maxContractSize) {
		return xdr.ScVal{}, errors.Errorf("contract code size %d exceeds limit %d", len(code), h.maxContractSize)
	}
	module, err := h.modules.ParseAndCache(code, h.budget)
	if err != nil {
		return xdr.ScVal{}, errors.Wrap(err, "invalid contract code")
	}
	existing, err := h.st.get(ledger.ContractCodeKey(module.Hash))
	if err != nil {
		return xdr.ScVal{}, err
	}
	if existing == nil {
		err = h.st.put(xdr.LedgerEntry{
			Data: xdr.LedgerEntryData{
				Type: xdr.LedgerEntryTypeContractCode,
				ContractCode: &xdr.ContractCodeEntry{
					Hash: module.Hash,
					Code: code,
				},
			},
		})
		if err != nil {
			return xdr.ScVal{}, err
		}
	}
	return bytesVal(module.Hash[:]), nil
}

func (h *host) createContract(
	preimage xdr.ContractIdPreimage,
	executable xdr.ContractExecutable,
	constructorArgs []xdr.ScVal,
	fn xdr.SorobanAuthorizedFunction,
) (xdr.ScVal, error) {
	if len(constructorArgs) > 0 {
		return xdr.ScVal{}, errors.New("contract constructors are not supported by the built-in engine")
	}
	fromAddress, ok := preimage.GetFromAddress()
	if !ok {
		return xdr.ScVal{}, errors.Errorf("unsupported contract id preimage %s", preimage.Type.String())
	}
	deployer, ok := fromAddress.Address.GetAccountId()
	if !ok || !deployer.Equals(h.source) {
		return xdr.ScVal{}, errors.New("deployer must be the transaction source account")
	}
	wasmHash, ok := executable.GetWasmHash()
	if !ok {
		return xdr.ScVal{}, errors.Errorf("unsupported contract executable %s", executable.Type.String())
	}
	if err := h.requireAuth(fn); err != nil {
		return xdr.ScVal{}, err
	}

	code, err := h.st.get(ledger.ContractCodeKey(wasmHash))
	if err != nil {
		return xdr.ScVal{}, err
	}
	if code == nil {
		return xdr.ScVal{}, errors.Wrapf(ErrCodeNotFound, "hash %x", wasmHash[:])
	}

	contractID, err := ledger.ContractID(h.info.NetworkID, preimage)
	if err != nil {
		return xdr.ScVal{}, err
	}
	instanceKey := ledger.ContractInstanceKey(contractID)
	existing, err := h.st.get(instanceKey)
	if err != nil {
		return xdr.ScVal{}, err
	}
	if existing != nil {
		return xdr.ScVal{}, ErrContractExists
	}

	contract := instanceKey.ContractData.Contract
	err = h.st.put(xdr.LedgerEntry{
		Data: xdr.LedgerEntryData{
			Type: xdr.LedgerEntryTypeContractData,
			ContractData: &xdr.ContractDataEntry{
				Contract:   contract,
				Key:        instanceKey.ContractData.Key,
				Durability: xdr.ContractDataDurabilityPersistent,
				Val: xdr.ScVal{
					Type:     xdr.ScValTypeScvContractInstance,
					Instance: &xdr.ScContractInstance{Executable: executable},
				},
			},
		},
	})
	if err != nil {
		return xdr.ScVal{}, err
	}
	return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &contract}, nil
}

func (h *host) invokeContract(args xdr.InvokeContractArgs) (xdr.ScVal, error) {
	contractID, ok := args.ContractAddress.GetContractId()
	if !ok {
		return xdr.ScVal{}, errors.New("invocation target is not a contract address")
	}
	instance, err := h.st.get(ledger.ContractInstanceKey(contractID))
	if err != nil {
		return xdr.ScVal{}, err
	}
	if instance == nil {
		return xdr.ScVal{}, ErrContractNotFound
	}
	return xdr.ScVal{}, errors.Wrapf(ErrUnsupportedInvocation, "function %s", string(args.FunctionName))
}

// requireAuth checks for a source account authorization of fn. In recording
// mode the authorization is recorded instead.
func (h *host) requireAuth(fn xdr.SorobanAuthorizedFunction) error {
	if h.recording {
		h.auth = append(h.auth, xdr.SorobanAuthorizationEntry{
			Credentials: xdr.SorobanCredentials{
				Type: xdr.SorobanCredentialsTypeSorobanCredentialsSourceAccount,
			},
			RootInvocation: xdr.SorobanAuthorizedInvocation{Function: fn},
		})
		return nil
	}
	want, err := fn.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "could not encode authorized function")
	}
	for _, entry := range h.auth {
		if entry.Credentials.Type != xdr.SorobanCredentialsTypeSorobanCredentialsSourceAccount {
			continue
		}
		got, err := entry.RootInvocation.Function.MarshalBinary()
		if err != nil {
			return errors.Wrap(err, "could not encode authorized function")
		}
		if bytes.Equal(got, want) {
			return nil
		}
	}
	return ErrMissingAuthorization
}

func (h *host) diagnostic(inSuccessfulCall bool, topic string, data xdr.ScVal, extraTopics ...xdr.ScVal) {
	if !h.enableDiagnostics {
		return
	}
	topics := append([]xdr.ScVal{symbolVal(topic)}, extraTopics...)
	h.diagnostics = append(h.diagnostics, xdr.DiagnosticEvent{
		InSuccessfulContractCall: inSuccessfulCall,
		Event: xdr.ContractEvent{
			Type: xdr.ContractEventTypeDiagnostic,
			Body: xdr.ContractEventBody{
				V:  0,
				V0: &xdr.ContractEventV0{Topics: topics, Data: data},
			},
		},
	})
}

func bytesVal(b []byte) xdr.ScVal {
	scBytes := xdr.ScBytes(append([]byte{}, b...))
	return xdr.ScVal{Type: xdr.ScValTypeScvBytes, Bytes: &scBytes}
}

func symbolVal(s string) xdr.ScVal {
	sym := xdr.ScSymbol(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}
}

func stringVal(s string) xdr.ScVal {
	str := xdr.ScString(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvString, Str: &str}
}
