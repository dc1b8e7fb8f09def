package extract

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Classify maps an error from the inference client to ErrQuotaExceeded or an
// *Error. Status codes are preferred; message matching is the last resort for
// transports that only surface text.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return err
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Fail(KindTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return Fail(KindNetwork, err)
	}

	if code, ok := httpCode(err); ok {
		return fromHTTP(code, err)
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown && st.Code() != codes.OK {
		return fromGRPC(st.Code(), err)
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return Fail(KindTimeout, err)
		}
		return Fail(KindNetwork, err)
	}

	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "ResourceExhausted") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") {
		return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
	}
	return Fail(KindUnknown, err)
}

func httpCode(err error) (int, bool) {
	var ae *apierror.APIError
	if errors.As(err, &ae) {
		if c := ae.HTTPCode(); c > 0 {
			return c, true
		}
		if st := ae.GRPCStatus(); st != nil {
			return grpcToHTTP(st.Code()), true
		}
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) && ge.Code > 0 {
		return ge.Code, true
	}
	return 0, false
}

func grpcToHTTP(c codes.Code) int {
	switch c {
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.InvalidArgument, codes.FailedPrecondition:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fromHTTP(code int, err error) error {
	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return Fail(KindAuth, err)
	case code == http.StatusGatewayTimeout || code == http.StatusRequestTimeout:
		return Fail(KindTimeout, err)
	case code >= 400 && code < 500:
		return Fail(KindBadRequest, err)
	case code == http.StatusServiceUnavailable || code == http.StatusBadGateway:
		return Fail(KindUnavailable, err)
	default:
		return Fail(KindUnknown, err)
	}
}

func fromGRPC(c codes.Code, err error) error {
	return fromHTTP(grpcToHTTP(c), err)
}
