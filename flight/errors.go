package flight

import (
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/VanDung-dev/TableStore-Engine/errs"
)

var kindCodes = map[errs.Kind]codes.Code{
	errs.NotFound:            codes.NotFound,
	errs.Timeout:             codes.DeadlineExceeded,
	errs.InvalidId:           codes.InvalidArgument,
	errs.InvalidArgument:     codes.InvalidArgument,
	errs.ObjectExists:        codes.AlreadyExists,
	errs.StoreFull:           codes.ResourceExhausted,
	errs.ConnectionError:     codes.Unavailable,
	errs.Unsupported:         codes.Unimplemented,
	errs.CorruptStream:       codes.DataLoss,
	errs.SchemaArrayMismatch: codes.InvalidArgument,
	errs.UnknownDtype:        codes.InvalidArgument,
}

// toStatus converts err to a gRPC status error. The error kind travels as
// the status message prefix.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code, ok := kindCodes[errs.KindOf(err)]
	if !ok {
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// fromStatus maps a gRPC error back onto an error kind.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return errs.Wrap(err, errs.ConnectionError, "flight call failed")
	}
	for kind, code := range kindCodes {
		if code == st.Code() && strings.HasPrefix(st.Message(), string(kind)+":") {
			return errs.New(kind, st.Message())
		}
	}
	switch st.Code() {
	case codes.NotFound:
		return errs.New(errs.NotFound, st.Message())
	case codes.DeadlineExceeded:
		return errs.New(errs.Timeout, st.Message())
	case codes.InvalidArgument:
		return errs.New(errs.InvalidArgument, st.Message())
	}
	return errs.Wrap(err, errs.ConnectionError, "flight call failed")
}
