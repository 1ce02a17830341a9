package apperr

import (
	"github.com/cockroachdb/errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindInvalid
	KindNotFound
	KindConflict
	KindDeclined
	KindGateway
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindDeclined:
		return "declined"
	case KindGateway:
		return "gateway"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

// Error is the classified error surfaced to API callers. Code is stable and
// machine readable; Message is safe to show to the client.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Code + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, code, msg string) error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Wrap(kind Kind, code string, cause error, msg string) error {
	return &Error{Kind: kind, Code: code, Message: msg, cause: cause}
}

func Invalid(code, msg string) error  { return New(KindInvalid, code, msg) }
func NotFound(code, msg string) error { return New(KindNotFound, code, msg) }
func Conflict(code, msg string) error { return New(KindConflict, code, msg) }

func Gateway(cause error, msg string) error {
	return Wrap(KindGateway, CodeGateway, cause, msg)
}

func Storage(cause error, msg string) error {
	return Wrap(KindStorage, CodeStorage, cause, msg)
}

const (
	CodeEmptyCart         = "EMPTY_CART"
	CodeMissingAddress    = "MISSING_ADDRESS"
	CodeMissingPayment    = "MISSING_PAYMENT_METHOD"
	CodeMissingDetails    = "MISSING_PAYMENT_DETAILS"
	CodeUnsupportedMethod = "UNSUPPORTED_PAYMENT_METHOD"
	CodeMissingUser       = "MISSING_USER"
	CodeInvalidCoupon     = "INVALID_COUPON"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeInvalidQuantity   = "INVALID_QUANTITY"
	CodeSignatureMismatch = "SIGNATURE_MISMATCH"
	CodePaymentDeclined   = "PAYMENT_DECLINED"
	CodePaymentPending    = "PAYMENT_OUTCOME_UNKNOWN"
	CodePaymentUsed       = "PAYMENT_ALREADY_APPLIED"
	CodeInvalidStatus     = "INVALID_STATUS"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeNotFound          = "NOT_FOUND"
	CodeGateway           = "GATEWAY_ERROR"
	CodeStorage           = "STORAGE_ERROR"
	CodeInternal          = "INTERNAL"
)

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// IsClient reports whether err was caused by the request itself.
func IsClient(err error) bool {
	switch KindOf(err) {
	case KindInvalid, KindNotFound, KindConflict, KindDeclined:
		return true
	}
	return false
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalid:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindDeclined:
		return http.StatusPaymentRequired
	case KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns a client-safe message; internal causes are not leaked.
func Message(err error) string {
	if e, ok := As(err); ok {
		return e.Message
	}
	return "internal error"
}
