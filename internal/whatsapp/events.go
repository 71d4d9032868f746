package whatsapp

import (
	"github.com/pkg/errors"
	"github.com/talkincode/whatshttp/internal/provider"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// onEvent maps whatsmeow events onto provider events.
func (c *Client) onEvent(cli *whatsmeow.Client, evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		c.emit(cli, provider.ConnectionOpened{})
		if id := identityOf(cli); id.Valid() {
			c.emit(cli, provider.CredentialsUpdated{Identity: id})
		}
		go func() {
			if err := cli.SendPresence(types.PresenceAvailable); err != nil {
				zap.L().Debug("whatsapp: send presence failed", zap.String("client_id", c.tenantID), zap.Error(err))
			}
		}()
	case *events.PairSuccess:
		zap.L().Info("whatsapp: paired",
			zap.String("client_id", c.tenantID),
			zap.String("jid", v.ID.String()),
			zap.String("business_name", v.BusinessName))
		name := v.BusinessName
		if name == "" {
			name = cli.Store.PushName
		}
		c.emit(cli, provider.CredentialsUpdated{Identity: provider.Identity{ID: v.ID.ToNonAD().String(), Name: name}})
	case *events.PushNameSetting:
		if id := identityOf(cli); id.Valid() {
			id.Name = v.Action.GetName()
			c.emit(cli, provider.CredentialsUpdated{Identity: id})
		}
	case *events.LoggedOut:
		c.emit(cli, provider.ConnectionClosed{
			Reason: provider.CloseLoggedOut,
			Err:    errors.Errorf("logged out: %s", v.Reason.String()),
		})
	case *events.ConnectFailure:
		reason := provider.CloseConnectFailure
		if v.Reason.IsLoggedOut() {
			reason = provider.CloseLoggedOut
		}
		c.emit(cli, provider.ConnectionClosed{Reason: reason, Err: errors.Errorf("connect failure: %s %s", v.Reason.String(), v.Message)})
	case *events.TemporaryBan:
		c.emit(cli, provider.ConnectionClosed{Reason: provider.CloseBanned, Err: errors.Errorf("temporary ban: %s", v.String())})
	case *events.StreamReplaced:
		c.emit(cli, provider.ConnectionClosed{Reason: provider.CloseReplaced})
	case *events.Disconnected:
		c.emit(cli, provider.ConnectionClosed{Reason: provider.CloseConnectionLost})
	case *events.Message:
		c.emit(cli, provider.MessageBatch{Messages: []provider.InboundMessage{{
			ID:        v.Info.ID,
			Chat:      v.Info.Chat.String(),
			Sender:    v.Info.Sender.ToNonAD().String(),
			FromMe:    v.Info.IsFromMe,
			Timestamp: v.Info.Timestamp,
			PushName:  v.Info.PushName,
			Message:   v.Message,
		}}})
	case *events.Receipt:
		status := receiptStatus(v.Type)
		if status == 0 {
			return
		}
		updates := make([]provider.StatusUpdate, 0, len(v.MessageIDs))
		for _, id := range v.MessageIDs {
			updates = append(updates, provider.StatusUpdate{
				MessageID: id,
				Chat:      v.Chat.String(),
				Sender:    v.Sender.ToNonAD().String(),
				Status:    status,
				Timestamp: v.Timestamp,
			})
		}
		c.emit(cli, provider.StatusBatch{Updates: updates})
	}
}

func identityOf(cli *whatsmeow.Client) provider.Identity {
	if cli.Store.ID == nil {
		return provider.Identity{}
	}
	return provider.Identity{ID: cli.Store.ID.ToNonAD().String(), Name: cli.Store.PushName}
}

// receiptStatus maps receipt types to provider statuses. Unmapped types yield 0.
func receiptStatus(t types.ReceiptType) provider.Status {
	switch t {
	case types.ReceiptTypeDelivered:
		return provider.StatusDeliveryAck
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		return provider.StatusRead
	case types.ReceiptTypePlayed:
		return provider.StatusPlayed
	case types.ReceiptTypeRetry:
		return provider.StatusPending
	case types.ReceiptTypeServerError:
		return provider.StatusError
	}
	return 0
}
