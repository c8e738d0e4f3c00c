package anonchat

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/X-Irrelevant-X/AnonChat/docstore"
	"github.com/X-Irrelevant-X/AnonChat/internal/crypto"
)

// Document field names of chat and message records. A message document
// never contains a plaintext text field; the payload lives only inside the
// per-recipient or hybrid envelopes.
const (
	fieldChatUsers     = "users"
	fieldChatCreatedAt = "createdAt"

	fieldMessageID        = "id"
	fieldMessageSender    = "senderId"
	fieldMessageCreatedAt = "createdAt"
	fieldMessageEnvelopes = "perRecipientEnvelope"
	fieldMessageHybrid    = "hybridEnvelope"
)

// messagePayload is the plaintext a message envelope carries.
type messagePayload struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// DecryptedMessage is a message as seen by a participant after decrypting
// the entry addressed to them.
type DecryptedMessage struct {
	ID        string
	ChatID    string
	SenderID  string
	Text      string
	Timestamp string
	CreatedAt string
}

// errNotAddressed marks messages carrying no entry for the reading user. A
// participant added to a chat after a message was created has no entry for
// it, since history is not retroactively re-encrypted, so this is an
// expected condition, distinct from a decrypt failure.
var errNotAddressed = errors.New("message has no envelope for this user")

// CreateChat creates a chat document with the given participant set and
// returns its id.
func (s *Service) CreateChat(ctx context.Context, participants []string) (string, error) {
	chatID := uuid.NewString()
	users := make([]interface{}, len(participants))
	for i, p := range participants {
		users[i] = p
	}

	err := s.store.Set(ctx, "chats/"+chatID, docstore.Record{
		fieldChatUsers:     users,
		fieldChatCreatedAt: now(),
	}, false)
	if err != nil {
		return "", fmt.Errorf("%w: create chat: %v", ErrStorageFailure, err)
	}
	return chatID, nil
}

// SendMessage encrypts text once per active chat participant and stores the
// resulting fan-out under chats/{chatID}/messages/{id}. Every participant,
// sender included, gets an entry addressed to their public key; each
// participant can decrypt only their own.
//
// Messages whose payload exceeds the asymmetric size bound are demoted to
// the hybrid scheme automatically: one shared AES-GCM ciphertext with the
// key wrapped per recipient.
func (s *Service) SendMessage(ctx context.Context, session *Session, chatID, text string) (string, error) {
	// Touch the session first so an evicted session fails before any
	// store traffic.
	if _, err := session.PublicKey(); err != nil {
		return "", err
	}

	participants, err := s.chatParticipants(ctx, chatID)
	if err != nil {
		s.logMessage("send_message", session.UserID(), chatID, err)
		return "", err
	}

	recipients := make(map[string]*rsa.PublicKey, len(participants))
	for _, userID := range participants {
		pub, err := s.Keys.GetUserPublicKey(ctx, userID)
		if err != nil {
			err = fmt.Errorf("recipient %s: %w", userID, err)
			s.logMessage("send_message", session.UserID(), chatID, err)
			return "", err
		}
		recipients[userID] = pub
	}

	payload := messagePayload{Text: text, Timestamp: now()}
	record := docstore.Record{
		fieldMessageSender:    session.UserID(),
		fieldMessageCreatedAt: now(),
	}

	serialized, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: serialize message: %v", ErrCryptoFailure, err)
	}

	if len(serialized) <= crypto.OAEPMaxPayload {
		envelopes, err := EncryptFanOut(payload, recipients)
		if err != nil {
			s.logMessage("send_message", session.UserID(), chatID, err)
			return "", err
		}
		envelopeRecord, err := toRecord(envelopes)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		record[fieldMessageEnvelopes] = envelopeRecord
	} else {
		hybrid, err := EncryptFanOutHybrid(payload, recipients)
		if err != nil {
			s.logMessage("send_message", session.UserID(), chatID, err)
			return "", err
		}
		hybridRecord, err := toRecord(hybrid)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		record[fieldMessageHybrid] = hybridRecord
	}

	messageID := uuid.NewString()
	record[fieldMessageID] = messageID

	path := fmt.Sprintf("chats/%s/messages/%s", chatID, messageID)
	if err := s.store.Set(ctx, path, record, false); err != nil {
		err = fmt.Errorf("%w: store message: %v", ErrStorageFailure, err)
		s.logMessage("send_message", session.UserID(), chatID, err)
		return "", err
	}

	s.logMessage("send_message", session.UserID(), chatID, nil)
	return messageID, nil
}

// ReadMessage fetches one message and decrypts the entry addressed to the
// session owner. A decrypt failure ends the session defensively before the
// error propagates.
func (s *Service) ReadMessage(ctx context.Context, session *Session, chatID, messageID string) (*DecryptedMessage, error) {
	priv, err := session.PrivateKey()
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("chats/%s/messages/%s", chatID, messageID)
	record, err := s.store.Get(ctx, path)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: message %s", docstore.ErrNotFound, messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetch message: %v", ErrStorageFailure, err)
	}

	message, err := s.decryptMessageRecord(record, chatID, session.UserID(), priv)
	if err != nil {
		if errors.Is(err, ErrDecryptFailed) {
			s.Sessions.EndSession()
		}
		s.logMessage("read_message", session.UserID(), chatID, err)
		return nil, err
	}

	s.logMessage("read_message", session.UserID(), chatID, nil)
	return message, nil
}

// WatchMessages subscribes to a chat's message collection and emits the
// decryptable messages of every snapshot. Messages with no entry for the
// session owner are skipped (participants added later cannot read prior
// history). The stream ends when ctx is cancelled, when the store closes
// it, or when a decrypt failure evicts the session.
func (s *Service) WatchMessages(ctx context.Context, session *Session, chatID string) (<-chan []DecryptedMessage, error) {
	if _, err := session.PrivateKey(); err != nil {
		return nil, err
	}

	snapshots, err := s.store.Subscribe(ctx, "chats/"+chatID+"/messages")
	if err != nil {
		if errors.Is(err, docstore.ErrSubscribeUnsupported) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: subscribe: %v", ErrStorageFailure, err)
	}

	out := make(chan []DecryptedMessage, 8)
	go func() {
		defer close(out)
		for snapshot := range snapshots {
			priv, err := session.PrivateKey()
			if err != nil {
				return
			}

			var messages []DecryptedMessage
			for _, record := range snapshot {
				message, err := s.decryptMessageRecord(record, chatID, session.UserID(), priv)
				if errors.Is(err, ErrDecryptFailed) {
					// The cached key failed against live data; treat it
					// as stale and stop operating with it.
					s.Sessions.EndSession()
					return
				}
				if err != nil {
					// Not addressed to this user, or a malformed
					// document. Neither indicts the cached key.
					continue
				}
				messages = append(messages, *message)
			}

			select {
			case out <- messages:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// decryptMessageRecord handles both message variants: the per-recipient
// fan-out map and the hybrid record.
func (s *Service) decryptMessageRecord(record docstore.Record, chatID, userID string, priv *rsa.PrivateKey) (*DecryptedMessage, error) {
	var payload messagePayload

	if raw, ok := record[fieldMessageEnvelopes]; ok {
		var envelopes map[string]*Envelope
		if err := fromRecord(raw, &envelopes); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		if _, ok := envelopes[userID]; !ok {
			return nil, errNotAddressed
		}
		if err := DecryptFanOut(envelopes, userID, priv, &payload); err != nil {
			return nil, err
		}
	} else if raw, ok := record[fieldMessageHybrid]; ok {
		var hybrid FanOutHybridRecord
		if err := fromRecord(raw, &hybrid); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		if _, ok := hybrid.WrappedKeys[userID]; !ok {
			return nil, errNotAddressed
		}
		if err := DecryptFanOutHybrid(&hybrid, userID, priv, &payload); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("%w: message carries no envelope", ErrStorageFailure)
	}

	messageID, _ := record[fieldMessageID].(string)
	senderID, _ := record[fieldMessageSender].(string)
	createdAt, _ := record[fieldMessageCreatedAt].(string)

	return &DecryptedMessage{
		ID:        messageID,
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      payload.Text,
		Timestamp: payload.Timestamp,
		CreatedAt: createdAt,
	}, nil
}

// chatParticipants reads the active participant set of a chat.
func (s *Service) chatParticipants(ctx context.Context, chatID string) ([]string, error) {
	record, err := s.store.Get(ctx, "chats/"+chatID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: chat %s", docstore.ErrNotFound, chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetch chat: %v", ErrStorageFailure, err)
	}

	raw, ok := record[fieldChatUsers].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: chat %s has no participant list", ErrStorageFailure, chatID)
	}

	participants := make([]string, 0, len(raw))
	for _, v := range raw {
		if userID, ok := v.(string); ok {
			participants = append(participants, userID)
		}
	}
	if len(participants) == 0 {
		return nil, fmt.Errorf("%w: chat %s has no participants", ErrStorageFailure, chatID)
	}
	return participants, nil
}

func (s *Service) logMessage(action, userID, chatID string, opErr error) {
	metadata := map[string]interface{}{"user_id": userID, "chat_id": chatID}
	if opErr != nil {
		metadata["error"] = opErr.Error()
	}
	if err := s.audit.Log(action, opErr == nil, metadata); err != nil {
		fmt.Printf("WARNING: failed to log %s: %v\n", action, err)
	}
}
