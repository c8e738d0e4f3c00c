package anonchat

import (
	"context"
	"errors"
	"fmt"

	"github.com/X-Irrelevant-X/AnonChat/docstore"
)

// fieldEncryptedProfile is the owner envelope on the users/{uid} document.
const fieldEncryptedProfile = "encryptedProfile"

// ErrProfileNotFound indicates the user has no encrypted profile stored.
var ErrProfileNotFound = errors.New("no encrypted profile")

// StoreProfile encrypts profile under the session owner's own public key
// and merges it onto the users/{uid} document as
// encryptedProfile{data, timestamp}. Only the owner's private key can read
// it back.
//
// The profile must stay under the asymmetric size bound; larger profiles
// fail with ErrPayloadTooLarge.
func (s *Service) StoreProfile(ctx context.Context, session *Session, profile interface{}) error {
	pub, err := session.PublicKey()
	if err != nil {
		return err
	}

	envelope, err := EncryptOwner(profile, pub)
	if err != nil {
		s.logProfile("store_profile", session.UserID(), err)
		return err
	}

	record, err := toRecord(envelope)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	err = s.store.Update(ctx, "users/"+session.UserID(), docstore.Record{
		fieldEncryptedProfile: record,
	})
	if err != nil {
		err = fmt.Errorf("%w: store encrypted profile: %v", ErrStorageFailure, err)
		s.logProfile("store_profile", session.UserID(), err)
		return err
	}

	s.logProfile("store_profile", session.UserID(), nil)
	return nil
}

// LoadProfile fetches and decrypts the session owner's profile into out.
// Fails with ErrProfileNotFound if none is stored. A decrypt failure means
// the cached key may be stale, so the session is ended before the error
// propagates.
func (s *Service) LoadProfile(ctx context.Context, session *Session, out interface{}) error {
	priv, err := session.PrivateKey()
	if err != nil {
		return err
	}

	record, err := s.store.Get(ctx, "users/"+session.UserID())
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrProfileNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: fetch profile: %v", ErrStorageFailure, err)
	}

	raw, ok := record[fieldEncryptedProfile]
	if !ok {
		return ErrProfileNotFound
	}

	var envelope Envelope
	if err := fromRecord(raw, &envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	if err := DecryptOwner(&envelope, priv, out); err != nil {
		if errors.Is(err, ErrDecryptFailed) {
			s.Sessions.EndSession()
		}
		s.logProfile("load_profile", session.UserID(), err)
		return err
	}

	s.logProfile("load_profile", session.UserID(), nil)
	return nil
}

func (s *Service) logProfile(action, userID string, opErr error) {
	metadata := map[string]interface{}{"user_id": userID}
	if opErr != nil {
		metadata["error"] = opErr.Error()
	}
	if err := s.audit.Log(action, opErr == nil, metadata); err != nil {
		fmt.Printf("WARNING: failed to log %s: %v\n", action, err)
	}
}
