package replay

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ammcore/internal/model"
)

// applyOp dispatches one journal operation to the engine or the seeding
// surface of the asset ledger and reports the outcome. Rejections are data,
// not run failures.
func (r *Runner) applyOp(op model.OpRecord) model.OpResult {
	result := model.OpResult{
		Seq:       op.Seq,
		Kind:      op.Kind,
		AppliedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}

	err := r.dispatch(op, &result)
	if err != nil {
		result.Accepted = false
		result.Error = err.Error()
		return result
	}
	result.Accepted = true
	return result
}

func (r *Runner) dispatch(op model.OpRecord, result *model.OpResult) error {
	switch op.Kind {
	case model.OpRegisterAsset:
		asset, err := ParseAddress(op.AssetA)
		if err != nil {
			return err
		}
		r.ledger.RegisterAsset(asset, op.FeeBps)
		return nil

	case model.OpSetBalance:
		asset, err := ParseAddress(op.AssetA)
		if err != nil {
			return err
		}
		holder, err := ParseAddress(op.Caller)
		if err != nil {
			return err
		}
		amount, err := ParseAmount(op.AmountA)
		if err != nil {
			return err
		}
		return r.ledger.SetBalance(asset, holder, amount)

	case model.OpApprove:
		asset, err := ParseAddress(op.AssetA)
		if err != nil {
			return err
		}
		owner, err := ParseAddress(op.Caller)
		if err != nil {
			return err
		}
		spender, err := r.parseSpender(op.Spender)
		if err != nil {
			return err
		}
		amount, err := ParseAmount(op.AmountA)
		if err != nil {
			return err
		}
		return r.ledger.Approve(asset, owner, spender, amount)

	case model.OpCreatePool:
		assetA, assetB, err := parsePair(op)
		if err != nil {
			return err
		}
		_, err = r.engine.CreatePool(assetA, assetB)
		return err

	case model.OpAddLiquidity:
		assetA, assetB, err := parsePair(op)
		if err != nil {
			return err
		}
		caller, err := ParseAddress(op.Caller)
		if err != nil {
			return err
		}
		desiredA, desiredB, minA, minB, err := parseAmounts(op.AmountA, op.AmountB, op.MinA, op.MinB)
		if err != nil {
			return err
		}
		recipient, err := recipientOr(op.Recipient, caller)
		if err != nil {
			return err
		}
		res, err := r.engine.AddLiquidity(caller, assetA, assetB,
			desiredA, desiredB, minA, minB, recipient, deadlineOr(op), op.Timestamp)
		if err != nil {
			return err
		}
		result.AmountA = res.AmountA.Dec()
		result.AmountB = res.AmountB.Dec()
		result.Liquidity = res.Liquidity.Dec()
		return nil

	case model.OpRemoveLiquidity:
		assetA, assetB, err := parsePair(op)
		if err != nil {
			return err
		}
		caller, err := ParseAddress(op.Caller)
		if err != nil {
			return err
		}
		liquidity, err := ParseAmount(op.Liquidity)
		if err != nil {
			return err
		}
		minA, err := ParseAmount(op.MinA)
		if err != nil {
			return err
		}
		minB, err := ParseAmount(op.MinB)
		if err != nil {
			return err
		}
		recipient, err := recipientOr(op.Recipient, caller)
		if err != nil {
			return err
		}
		res, err := r.engine.RemoveLiquidity(caller, assetA, assetB,
			liquidity, minA, minB, recipient, deadlineOr(op), op.Timestamp)
		if err != nil {
			return err
		}
		result.AmountA = res.AmountA.Dec()
		result.AmountB = res.AmountB.Dec()
		result.Liquidity = liquidity.Dec()
		return nil

	case model.OpSwap:
		assetA, assetB, err := parsePair(op)
		if err != nil {
			return err
		}
		caller, err := ParseAddress(op.Caller)
		if err != nil {
			return err
		}
		amountIn, err := ParseAmount(op.AmountA)
		if err != nil {
			return err
		}
		minOut, err := ParseAmount(op.MinB)
		if err != nil {
			return err
		}
		recipient, err := recipientOr(op.Recipient, caller)
		if err != nil {
			return err
		}
		res, err := r.engine.Swap(caller, assetA, assetB,
			amountIn, minOut, recipient, deadlineOr(op), op.Timestamp)
		if err != nil {
			return err
		}
		result.AmountA = res.AmountIn.Dec()
		result.AmountB = res.AmountOut.Dec()
		result.PriceImpactBps = res.PriceImpactBps
		return nil

	default:
		return fmt.Errorf("unknown op kind: %s", op.Kind)
	}
}

// parseSpender resolves the "engine" shorthand journals use for approvals.
func (r *Runner) parseSpender(input string) (common.Address, error) {
	if input == "engine" {
		return r.engine.Address(), nil
	}
	return ParseAddress(input)
}

func parsePair(op model.OpRecord) (common.Address, common.Address, error) {
	assetA, err := ParseAddress(op.AssetA)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	assetB, err := ParseAddress(op.AssetB)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return assetA, assetB, nil
}

func parseAmounts(a, b, minA, minB string) (*uint256.Int, *uint256.Int, *uint256.Int, *uint256.Int, error) {
	amountA, err := ParseAmount(a)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	amountB, err := ParseAmount(b)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	floorA, err := ParseAmount(minA)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	floorB, err := ParseAmount(minB)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return amountA, amountB, floorA, floorB, nil
}

func recipientOr(input string, fallback common.Address) (common.Address, error) {
	if input == "" {
		return fallback, nil
	}
	return ParseAddress(input)
}

// deadlineOr defaults an absent deadline to the operation's own timestamp,
// which always passes the expiry check.
func deadlineOr(op model.OpRecord) uint64 {
	if op.Deadline == 0 {
		return op.Timestamp
	}
	return op.Deadline
}
