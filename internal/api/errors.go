package api

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-coverage/internal/service"
)

// toHTTPError converts session errors to Huma status errors.
func toHTTPError(err error) error {
	var (
		ve *service.ValidationError
		ae *service.ApplicationError
		te *service.TransportError
	)
	switch {
	case errors.As(err, &ve):
		return huma.Error400BadRequest(ve.Msg)
	case errors.As(err, &ae):
		msgs := service.UserMessages(ae)
		details := make([]error, len(msgs))
		for i, m := range msgs {
			details[i] = errors.New(m)
		}
		return huma.Error422UnprocessableEntity(msgs[0], details...)
	case errors.As(err, &te):
		return huma.Error502BadGateway(service.MsgTransport)
	case errors.Is(err, service.ErrUnknownControl):
		return huma.Error404NotFound(err.Error())
	}
	return huma.Error500InternalServerError("Unexpected error", err)
}
