package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	apperrors "music-stream/backend/pkg/errors"
	"music-stream/backend/pkg/resilience"
	pkgws "music-stream/backend/pkg/ws"

	"github.com/go-playground/validator/v10"
)

const maxUserIDLength = 128

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (c *Client) dispatch(env pkgws.Envelope) {
	if c.currentState() == stateClosed {
		return
	}

	if !c.limiter.Allow() {
		c.sendError(env.Type, apperrors.NewTooManyRequestsError(apperrors.CodeRateLimited, "too many events, slow down"))
		return
	}

	var err error
	switch env.Type {
	case pkgws.EventUserConnected:
		c.hub.metrics.event(env.Type)
		err = c.handleUserConnected(env.Data)
	case pkgws.EventUpdateActivity:
		c.hub.metrics.event(env.Type)
		err = c.handleUpdateActivity(env.Data)
	case pkgws.EventSendMessage:
		c.hub.metrics.event(env.Type)
		err = c.handleSendMessage(env.Data)
	default:
		c.hub.metrics.event("unknown")
		err = apperrors.NewBadRequestError(apperrors.CodeUnknownEvent, fmt.Sprintf("unknown event %q", env.Type))
	}

	if err != nil {
		c.sendError(env.Type, err)
	}
}

func (c *Client) handleUserConnected(data json.RawMessage) error {
	var userID string
	if err := json.Unmarshal(data, &userID); err != nil {
		return invalidPayload("user_connected expects a user id string", nil)
	}
	if err := c.hub.validate.Var(userID, fmt.Sprintf("required,max=%d", maxUserIDLength)); err != nil {
		return invalidPayload("invalid user id", nil)
	}
	if err := c.authorize(userID); err != nil {
		return err
	}

	if previous := c.hub.presence.Register(userID, c.ID); previous != "" && previous != c.ID {
		c.log.Info("user moved to a new connection", "user_id", userID, "previous_conn_id", previous)
	}
	c.userID = userID
	if c.state.CompareAndSwap(int32(stateUnauthenticated), int32(stateActive)) {
		c.log.Info("user connected", "user_id", userID)
	}

	c.hub.broadcastPresence()
	return nil
}

func (c *Client) handleUpdateActivity(data json.RawMessage) error {
	var update pkgws.ActivityUpdate
	if err := c.decode(data, &update); err != nil {
		return err
	}
	if err := c.authorize(update.UserID); err != nil {
		return err
	}

	c.hub.presence.SetActivity(update.UserID, update.Activity)
	c.hub.broadcast(pkgws.EventActivityUpdated, update)
	return nil
}

func (c *Client) handleSendMessage(data json.RawMessage) error {
	var req pkgws.SendMessageRequest
	if err := c.decode(data, &req); err != nil {
		return err
	}
	if err := c.authorize(req.SenderID); err != nil {
		return err
	}

	// detached from the connection so a disconnect does not abort the write
	ctx, cancel := context.WithTimeout(context.Background(), c.hub.opts.StoreTimeout)
	defer cancel()

	message, err := c.hub.store.Append(ctx, req.SenderID, req.ReceiverID, req.Content)
	if err != nil {
		c.hub.metrics.messageFailed()
		c.log.LogError(err, "failed to persist message", "receiver_id", req.ReceiverID)
		c.hub.sendTo(c.ID, pkgws.EventMessageError, messageErrorReason(err))
		return nil
	}
	c.hub.metrics.messagePersisted()

	// the receiver may have gone offline while the write was in flight
	if connID, ok := c.hub.presence.ConnectionFor(req.ReceiverID); ok {
		c.hub.sendTo(connID, pkgws.EventReceiveMessage, message)
	}
	c.hub.sendTo(c.ID, pkgws.EventMessageSent, message)
	return nil
}

// authorize checks a client supplied user id against the identity the
// socket was opened with
func (c *Client) authorize(claimed string) error {
	if c.identity == "" || claimed == c.identity {
		return nil
	}
	c.log.Warn("identity mismatch", "claimed_user_id", claimed)
	return apperrors.NewForbiddenError(apperrors.CodeIdentityMismatch, "user id does not match the authenticated identity")
}

func (c *Client) decode(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return invalidPayload("payload could not be decoded", nil)
	}
	if err := c.hub.validate.Struct(v); err != nil {
		return invalidPayload("payload failed validation", validationDetails(err))
	}
	return nil
}

func (c *Client) sendError(eventType string, err error) {
	appErr := apperrors.FromError(err)
	c.hub.sendTo(c.ID, pkgws.EventError, pkgws.ErrorPayload{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
		Event:   eventType,
	})
}

func invalidPayload(message string, details map[string]string) error {
	appErr := apperrors.NewBadRequestError(apperrors.CodeInvalidPayload, message)
	if len(details) > 0 {
		appErr = appErr.WithDetails(details)
	}
	return appErr
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}

func messageErrorReason(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "message store unavailable, try again later"
	case errors.Is(err, context.DeadlineExceeded):
		return "message store timed out"
	default:
		return "message could not be saved"
	}
}
