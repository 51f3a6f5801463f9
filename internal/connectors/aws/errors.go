package aws

import (
	"context"
	"errors"
	"net"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/smithy-go"

	"github.com/pkiaudit/vaultmcp/internal/connectors"
)

// classify maps SDK errors onto connector error kinds. The original error
// stays in the chain, so errors.Is(err, context.DeadlineExceeded) still holds.
func classify(err error, resource string) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return connectors.NewError(connectors.KindNotFound, resource, err)
	}
	var invalid *types.InvalidParameterException
	if errors.As(err, &invalid) {
		return connectors.NewError(connectors.KindInvalidParameter, resource, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "LimitExceededException", "TooManyRequestsException":
			return connectors.NewError(connectors.KindThrottled, resource, err)
		case "AccessDeniedException", "AccessDenied":
			return connectors.NewError(connectors.KindPermission, resource, err)
		case "UnrecognizedClientException", "InvalidSignatureException", "ExpiredTokenException",
			"InvalidClientTokenId", "SignatureDoesNotMatch":
			return connectors.NewError(connectors.KindAuthentication, resource, err)
		}
		return connectors.NewError(connectors.KindUnknown, resource, err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return connectors.NewError(connectors.KindConnection, resource, err)
	}
	return connectors.NewError(connectors.KindUnknown, resource, err)
}
