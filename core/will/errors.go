package will

import "errors"

// Category groups the engine's failure modes for callers that map errors to
// transport-level codes. The reason strings on the sentinel errors below are
// stable and part of the engine's compatibility surface.
type Category uint8

const (
	CategoryUnknown Category = iota
	CategoryAuthorization
	CategoryState
	CategoryValidation
	CategoryApproval
	CategoryTransfer
)

// Error is a categorised engine failure with a stable reason string.
type Error struct {
	category Category
	reason   string
}

func (e *Error) Error() string { return e.reason }

// Category returns the taxonomy bucket the error belongs to.
func (e *Error) Category() Category { return e.category }

func newError(category Category, reason string) *Error {
	return &Error{category: category, reason: reason}
}

var (
	// Authorization failures. A missing will doubles as an authorization
	// failure when the caller claims the grantor role.
	ErrWillNotFound   = newError(CategoryAuthorization, "Will does not exist")
	ErrNotBeneficiary = newError(CategoryAuthorization, "Caller is not the asset beneficiary")
	ErrNotDesignated  = newError(CategoryAuthorization, "Caller is not a designated beneficiary")

	// State failures.
	ErrWillNotActive    = newError(CategoryState, "Will must be active")
	ErrWillCompleted    = newError(CategoryState, "Will already completed")
	ErrWillNotClaimable = newError(CategoryState, "Will not yet claimable")
	ErrWillClaimable    = newError(CategoryState, "Cannot withdraw from claimable will")
	ErrAssetClaimed     = newError(CategoryState, "Asset already claimed")
	ErrReentrantCall    = newError(CategoryState, "Reentrant call")

	// Validation failures.
	ErrWillExists        = newError(CategoryValidation, "Will already exists")
	ErrNullBeneficiary   = newError(CategoryValidation, "Beneficiary cannot be the zero address")
	ErrNullToken         = newError(CategoryValidation, "Token cannot be the zero address")
	ErrZeroAmount        = newError(CategoryValidation, "Amount must be greater than zero")
	ErrIntervalTooShort  = newError(CategoryValidation, "Heartbeat interval below minimum")
	ErrIntervalUnchanged = newError(CategoryValidation, "Heartbeat interval unchanged")
	ErrAssetOutOfRange   = newError(CategoryValidation, "Asset index out of bounds")
	ErrDuplicateNFT      = newError(CategoryValidation, "NFT already deposited")
	ErrNotTokenContract  = newError(CategoryValidation, "Token address is not a contract")
	ErrNotTokenOwner     = newError(CategoryValidation, "Grantor does not own token")
	ErrSameBeneficiary   = newError(CategoryValidation, "New beneficiary matches current beneficiary")
	ErrNotContract       = newError(CategoryValidation, "Address is not a contract account")

	// Approval failures.
	ErrContractNotApproved = newError(CategoryApproval, "Contract beneficiary not approved")
	ErrNotAccepted         = newError(CategoryApproval, "Beneficiary must accept designation first")
	ErrAlreadyAccepted     = newError(CategoryApproval, "Designation already accepted")

	// Transfer failures.
	ErrTransferFailed = newError(CategoryTransfer, "Asset transfer failed")
)

// CategoryOf extracts the taxonomy bucket from an error chain. Unclassified
// errors report CategoryUnknown.
func CategoryOf(err error) Category {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Category()
	}
	return CategoryUnknown
}
