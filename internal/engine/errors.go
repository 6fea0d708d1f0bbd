package engine

import "errors"

// Input validation errors. Reported synchronously, never retried.
var (
	ErrIdenticalAssets  = errors.New("identical assets")
	ErrZeroAsset        = errors.New("zero asset address")
	ErrZeroAmount       = errors.New("zero amount")
	ErrAmountTooWide    = errors.New("amount exceeds fixed-width ceiling")
	ErrPoolExists       = errors.New("pool already exists")
	ErrPoolNotFound     = errors.New("pool not found")
	ErrBadRecipient     = errors.New("invalid recipient address")
	ErrAssetBlacklisted = errors.New("asset is blacklisted")
	ErrAssetNotInPair   = errors.New("asset is not part of the pair")
)

// Temporal errors. The caller must resubmit with fresh parameters.
var (
	ErrDeadlineExpired = errors.New("deadline expired")
)

// Economic errors. The caller must re-quote and resubmit.
var (
	ErrSlippage                    = errors.New("slippage floor violated")
	ErrInsufficientLiquidity       = errors.New("insufficient liquidity")
	ErrInsufficientOutput          = errors.New("insufficient output amount")
	ErrInsufficientLiquidityMinted = errors.New("insufficient liquidity minted")
	ErrInsufficientLiquidityBurned = errors.New("insufficient liquidity burned")
	ErrTransferShortfall           = errors.New("received amount below transfer tolerance")
	ErrKInvariant                  = errors.New("constant-product invariant violated")
)

// Authorization and state errors.
var (
	ErrReentrant    = errors.New("reentrant call into locked pool")
	ErrPaused       = errors.New("engine is paused")
	ErrNotPaused    = errors.New("engine is not paused")
	ErrLockNotHeld  = errors.New("pool lock not held by caller")
	ErrFeeAboveCap  = errors.New("fee exceeds hard cap")
)

// Capacity errors. The caller must split the operation.
var (
	ErrSwapCeilingExceeded = errors.New("swap size exceeds circuit-breaker ceiling")
)
