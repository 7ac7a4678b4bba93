// Package delivery sends raw codes out-of-band. It is the only component
// besides issuance that ever touches a raw code, and it holds it only for the
// duration of the send call; digests never enter this package.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verify-service/internal/model"
	"verify-service/internal/util"
)

var (
	// ErrChannelDisabled means the required channel has no configured sender.
	ErrChannelDisabled = errors.New("delivery channel not configured")
	// ErrSendFailed wraps provider rejections and timeouts.
	ErrSendFailed = errors.New("delivery failed")
)

// Sender delivers one code to one recipient over a single channel.
type Sender interface {
	Send(ctx context.Context, to, code string, ttl time.Duration) error
}

// Dispatcher routes a send to the sender for the principal's channel. The two
// channels are configured independently; a missing SMS sender never affects
// email delivery and vice versa.
type Dispatcher struct {
	email  Sender
	sms    Sender
	logger *zap.Logger
}

func NewDispatcher(email, sms Sender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		email:  email,
		sms:    sms,
		logger: logger,
	}
}

func (d *Dispatcher) Send(ctx context.Context, channel model.Channel, principal, code string, ttl time.Duration) error {
	var sender Sender
	switch channel {
	case model.ChannelEmail:
		sender = d.email
	case model.ChannelSMS:
		sender = d.sms
	default:
		return fmt.Errorf("unknown delivery channel %q", channel)
	}

	if sender == nil {
		return fmt.Errorf("%w: %s", ErrChannelDisabled, channel)
	}

	start := time.Now()
	if err := sender.Send(ctx, principal, code, ttl); err != nil {
		d.logger.Error("Code delivery failed",
			util.String("channel", string(channel)),
			util.String("principal", util.MaskPrincipal(principal)),
			util.Duration("duration", time.Since(start)),
			util.ErrorField(err),
		)
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	d.logger.Info("Code delivered",
		util.String("channel", string(channel)),
		util.String("principal", util.MaskPrincipal(principal)),
		util.Duration("duration", time.Since(start)),
	)
	return nil
}
