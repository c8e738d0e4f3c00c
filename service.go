package anonchat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/X-Irrelevant-X/AnonChat/audit"
	"github.com/X-Irrelevant-X/AnonChat/docstore"
)

// Service is the application-facing surface of the encryption core. It
// composes the key custody service, the session cache and the envelope
// schemes over a document store, and owns the persisted shapes described in
// the external interface: users/{uid}, friends/{id} and
// chats/{id}/messages/{id}.
type Service struct {
	store docstore.Store
	audit audit.Logger

	// Keys is the key custody service: creation, password-wrapped
	// persistence, password-gated recovery and rotation of user key pairs.
	Keys *KeyService

	// Sessions is the process-wide session cache holding the decrypted key
	// pair of the current authenticated user.
	Sessions *SessionManager
}

// NewService creates the encryption core over the given store.
//
// A nil audit logger builds one from options.Audit (no-op when absent).
// Store connectivity is verified before the service is returned.
func NewService(ctx context.Context, options Options, store docstore.Store, auditLogger audit.Logger) (*Service, error) {
	if err := validateOptions(options); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	if auditLogger == nil {
		var err error
		auditLogger, err = audit.NewLogger(options.Audit)
		if err != nil {
			return nil, fmt.Errorf("create audit logger: %w", err)
		}
	}

	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: store unreachable: %v", ErrStorageFailure, err)
	}

	keys, err := NewKeyService(store, auditLogger, options)
	if err != nil {
		return nil, err
	}
	sessions, err := NewSessionManager(keys, auditLogger, options)
	if err != nil {
		return nil, err
	}

	return &Service{
		store:    store,
		audit:    auditLogger,
		Keys:     keys,
		Sessions: sessions,
	}, nil
}

// Close ends any active session and releases the audit and store handles.
func (s *Service) Close() error {
	s.Sessions.EndSession()
	if err := s.audit.Close(); err != nil {
		return err
	}
	return s.store.Close()
}

// toRecord converts a typed value into a document field map by a JSON
// round-trip, so stored shapes are identical across backends.
func toRecord(v interface{}) (docstore.Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialize record: %w", err)
	}
	var record docstore.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("serialize record: %w", err)
	}
	return record, nil
}

// fromRecord decodes a document field value into a typed destination.
func fromRecord(v interface{}, out interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}
