package service

type ErrorCode string

const (
	ErrorCodeAlreadyInitialized     ErrorCode = "ALREADY_INITIALIZED"
	ErrorCodeInsufficientFunds      ErrorCode = "INSUFFICIENT_FUNDS"
	ErrorCodeInsufficientVaultFunds ErrorCode = "INSUFFICIENT_VAULT_FUNDS"
	ErrorCodeAuctionClosed          ErrorCode = "AUCTION_CLOSED"
	ErrorCodeAuctionNotEnded        ErrorCode = "AUCTION_NOT_ENDED"
	ErrorCodeBidTooHigh             ErrorCode = "BID_TOO_HIGH"
	ErrorCodeWrongState             ErrorCode = "WRONG_STATE"
	ErrorCodeNotAssignee            ErrorCode = "NOT_ASSIGNEE"
	ErrorCodeNotAuthority           ErrorCode = "NOT_AUTHORITY"
	ErrorCodeNoAssignee             ErrorCode = "NO_ASSIGNEE"
	ErrorCodeVerificationFailed     ErrorCode = "VERIFICATION_FAILED"
	ErrorCodeOracleUnavailable      ErrorCode = "ORACLE_UNAVAILABLE"
	ErrorCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrorCodeInvalidAmount          ErrorCode = "INVALID_AMOUNT"
	ErrorCodeInvalidBody            ErrorCode = "INVALID_BODY"
	ErrorCodeUnspecified            ErrorCode = "UNSPECIFIED"
)

type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func (e *Error) Error() string {
	return e.Message
}
