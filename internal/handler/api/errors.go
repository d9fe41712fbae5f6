package api

import (
	"errors"
	"net/http"

	domrepo "ClarityPull/internal/domain/repository"
	xhttp "ClarityPull/pkg/http"
)

// appError maps use-case errors onto HTTP errors.
func appError(err error) *xhttp.AppError {
	var verr *domrepo.ValidationError
	switch {
	case errors.As(err, &verr):
		return xhttp.NewAppError("ERR_INVALID", verr.Field, verr.Reason, http.StatusBadRequest).WithError(err)
	case errors.Is(err, domrepo.ErrUnknownMarket):
		return xhttp.BadRequestErrorf("%v", err).WithError(err)
	case errors.Is(err, domrepo.ErrAlreadyProcessing):
		return xhttp.ConflictErrorf("%v", err).WithError(err)
	case errors.Is(err, domrepo.ErrNotFound):
		return xhttp.NotFoundErrorf("%v", err).WithError(err)
	default:
		return xhttp.InternalErrorf("Something went wrong").WithError(err)
	}
}
