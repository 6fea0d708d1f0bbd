// Package governance gates privileged engine and lender operations behind a
// role table and a scheduling delay. Routine parameter changes travel the
// timelock; a small set of protective actions is immediate for guardians.
package governance

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// DefaultDelay is the scheduling delay in seconds (48 hours).
const DefaultDelay uint64 = 48 * 60 * 60

var (
	ErrNotAuthorized   = errors.New("caller lacks the required role")
	ErrUnknownOpKind   = errors.New("unknown operation kind")
	ErrNoPendingOp     = errors.New("no pending operation of this kind")
	ErrDelayNotElapsed = errors.New("timelock delay has not elapsed")
	ErrNoLender        = errors.New("no lender attached")
)

// Role is a capability bit held by an address.
type Role uint8

const (
	// RolePropose may schedule operations.
	RolePropose Role = 1 << iota
	// RoleExecute may execute matured operations.
	RoleExecute
	// RoleCancel may cancel pending operations.
	RoleCancel
	// RoleGuardian may perform the immediate protective operations.
	RoleGuardian
)

// OpKind identifies a timelocked operation. At most one operation of each
// kind is pending at a time; scheduling another of the same kind replaces
// the prior one and restarts its delay.
type OpKind uint8

const (
	OpPause OpKind = iota + 1
	OpUnpause
	OpSetFee
	OpBlacklist
)

func (k OpKind) String() string {
	switch k {
	case OpPause:
		return "pause"
	case OpUnpause:
		return "unpause"
	case OpSetFee:
		return "set-fee"
	case OpBlacklist:
		return "blacklist"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// Operation is a scheduled change. FeeBps applies to OpSetFee; Asset and
// Blocked apply to OpBlacklist.
type Operation struct {
	Kind    OpKind
	FeeBps  uint64
	Asset   common.Address
	Blocked bool

	Proposer    common.Address
	ScheduledAt uint64
	ReadyAt     uint64
}

// EngineAdmin is the privileged engine surface the timelock drives.
type EngineAdmin interface {
	SetPaused(paused bool)
	SetFeeBps(bps uint64) error
	SetBlacklisted(asset common.Address, blocked bool)
	EmergencyWithdraw(assetA, assetB, to common.Address) error
}

// LenderAdmin is the privileged flash-lender surface the timelock drives.
type LenderAdmin interface {
	ApproveBorrower(borrower common.Address, ok bool)
	SetCeilingBps(asset common.Address, bps uint64)
}

// Timelock holds the role table and the pending-operation queue.
type Timelock struct {
	delay   uint64
	engine  EngineAdmin
	lender  LenderAdmin
	roles   map[common.Address]Role
	pending map[OpKind]*Operation
	logger  *zap.Logger
}

// New builds a timelock over the engine with the default delay. The lender
// may be nil when no flash facility is deployed.
func New(eng EngineAdmin, lender LenderAdmin, logger *zap.Logger) *Timelock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timelock{
		delay:   DefaultDelay,
		engine:  eng,
		lender:  lender,
		roles:   make(map[common.Address]Role),
		pending: make(map[OpKind]*Operation),
		logger:  logger,
	}
}

// Delay reports the scheduling delay in seconds.
func (t *Timelock) Delay() uint64 {
	return t.delay
}

// Grant adds roles to an address.
func (t *Timelock) Grant(addr common.Address, roles Role) {
	t.roles[addr] |= roles
	t.logger.Info("roles granted",
		zap.String("addr", addr.Hex()),
		zap.Uint8("roles", uint8(roles)),
	)
}

// Revoke removes roles from an address.
func (t *Timelock) Revoke(addr common.Address, roles Role) {
	t.roles[addr] &^= roles
	t.logger.Info("roles revoked",
		zap.String("addr", addr.Hex()),
		zap.Uint8("roles", uint8(roles)),
	)
}

// HasRole reports whether addr holds every role in roles.
func (t *Timelock) HasRole(addr common.Address, roles Role) bool {
	return t.roles[addr]&roles == roles
}

func (t *Timelock) require(addr common.Address, roles Role) error {
	if !t.HasRole(addr, roles) {
		return ErrNotAuthorized
	}
	return nil
}

func validKind(kind OpKind) bool {
	switch kind {
	case OpPause, OpUnpause, OpSetFee, OpBlacklist:
		return true
	}
	return false
}

// Schedule queues op to become executable after the delay. A pending
// operation of the same kind is replaced, not queued behind; the delay
// restarts from now.
func (t *Timelock) Schedule(caller common.Address, op Operation, now uint64) (*Operation, error) {
	if err := t.require(caller, RolePropose); err != nil {
		return nil, err
	}
	if !validKind(op.Kind) {
		return nil, ErrUnknownOpKind
	}
	if prior, exists := t.pending[op.Kind]; exists {
		t.logger.Warn("pending operation replaced",
			zap.String("kind", op.Kind.String()),
			zap.String("prior_proposer", prior.Proposer.Hex()),
			zap.Uint64("prior_ready_at", prior.ReadyAt),
		)
	}

	op.Proposer = caller
	op.ScheduledAt = now
	op.ReadyAt = now + t.delay
	t.pending[op.Kind] = &op

	t.logger.Info("operation scheduled",
		zap.String("kind", op.Kind.String()),
		zap.String("proposer", caller.Hex()),
		zap.Uint64("ready_at", op.ReadyAt),
	)
	return &op, nil
}

// Execute applies a matured pending operation. The operation is consumed even
// if the underlying change reports an error, matching the queue's
// one-shot semantics.
func (t *Timelock) Execute(caller common.Address, kind OpKind, now uint64) error {
	if err := t.require(caller, RoleExecute); err != nil {
		return err
	}
	op, ok := t.pending[kind]
	if !ok {
		return ErrNoPendingOp
	}
	if now < op.ReadyAt {
		return ErrDelayNotElapsed
	}
	delete(t.pending, kind)

	var err error
	switch op.Kind {
	case OpPause:
		t.engine.SetPaused(true)
	case OpUnpause:
		t.engine.SetPaused(false)
	case OpSetFee:
		err = t.engine.SetFeeBps(op.FeeBps)
	case OpBlacklist:
		t.engine.SetBlacklisted(op.Asset, op.Blocked)
	default:
		err = ErrUnknownOpKind
	}
	if err != nil {
		return fmt.Errorf("execute %s: %w", op.Kind, err)
	}

	t.logger.Info("operation executed",
		zap.String("kind", op.Kind.String()),
		zap.String("executor", caller.Hex()),
	)
	return nil
}

// Cancel drops a pending operation before execution.
func (t *Timelock) Cancel(caller common.Address, kind OpKind) error {
	if err := t.require(caller, RoleCancel); err != nil {
		return err
	}
	if _, ok := t.pending[kind]; !ok {
		return ErrNoPendingOp
	}
	delete(t.pending, kind)

	t.logger.Info("operation cancelled",
		zap.String("kind", kind.String()),
		zap.String("canceller", caller.Hex()),
	)
	return nil
}

// Pending returns a copy of the pending operation of the given kind.
func (t *Timelock) Pending(kind OpKind) (Operation, bool) {
	op, ok := t.pending[kind]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}

// ApproveBorrower toggles a flash borrower immediately. Guardian-only:
// revoking a misbehaving borrower cannot wait out a delay.
func (t *Timelock) ApproveBorrower(caller, borrower common.Address, ok bool) error {
	if err := t.require(caller, RoleGuardian); err != nil {
		return err
	}
	if t.lender == nil {
		return ErrNoLender
	}
	t.lender.ApproveBorrower(borrower, ok)
	return nil
}

// SetFlashCeiling adjusts a per-asset loan ceiling immediately.
func (t *Timelock) SetFlashCeiling(caller common.Address, asset common.Address, bps uint64) error {
	if err := t.require(caller, RoleGuardian); err != nil {
		return err
	}
	if t.lender == nil {
		return ErrNoLender
	}
	t.lender.SetCeilingBps(asset, bps)
	return nil
}

// EmergencyWithdraw drains a pool to a recovery address immediately. The
// engine still enforces its own paused precondition.
func (t *Timelock) EmergencyWithdraw(caller, assetA, assetB, to common.Address) error {
	if err := t.require(caller, RoleGuardian); err != nil {
		return err
	}
	return t.engine.EmergencyWithdraw(assetA, assetB, to)
}
