package anonchat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/X-Irrelevant-X/AnonChat/docstore"
)

// Document field names of the friends/{id} relationship record. Two formats
// coexist in deployed data: the legacy one mirrors each party's sensitive
// fields in plaintext (user1FirstName, user2Email, ...); the hardened one
// replaces them with pairwise envelopes. Reads support both, writes always
// produce the hardened form.
const (
	fieldFriendID        = "id"
	fieldFriendUser1     = "user1"
	fieldFriendUser2     = "user2"
	fieldFriendStatus    = "status"
	fieldFriendCreatedAt = "createdAt"
	fieldFriendUser1Data = "encryptedUser1Data"
	fieldFriendUser2Data = "encryptedUser2Data"
)

// FriendProfile is one party's sensitive data on a relationship record.
type FriendProfile struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Birthday  string `json:"birthday"`
	Gender    string `json:"gender"`
}

// RelationshipFormat tags which storage format a relationship record was
// read from.
type RelationshipFormat string

const (
	// FormatLegacyPlaintext is the pre-hardening format with mirrored
	// plaintext fields.
	FormatLegacyPlaintext RelationshipFormat = "legacy-plaintext"

	// FormatPairwiseEnvelope is the hardened format: both parties' data
	// encrypted under the pairwise-shared key.
	FormatPairwiseEnvelope RelationshipFormat = "pairwise-envelope"
)

// Relationship is a two-party friend record resolved at read time into a
// tagged variant: the Format field says which persisted form it came from.
type Relationship struct {
	ID        string
	User1     string
	User2     string
	Status    string
	CreatedAt string
	Format    RelationshipFormat
	User1Data *FriendProfile
	User2Data *FriendProfile
}

// SaveRelationship writes a relationship in the hardened format: both
// parties' profiles encrypted under the key either party can rederive from
// the sorted id pair. No key exchange happens and no symmetric key is
// stored; each side recomputes it from the two ids alone.
//
// A zero rel.ID gets a fresh id; the id is returned either way.
func (s *Service) SaveRelationship(ctx context.Context, rel Relationship) (string, error) {
	if rel.User1 == "" || rel.User2 == "" {
		return "", fmt.Errorf("%w: relationship needs both user ids", ErrStorageFailure)
	}
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}

	sharedKey := DeriveSharedKey(rel.User1, rel.User2)

	// The id is stored as a field too: queries return records without
	// their paths, so a listed relationship must carry its own id.
	record := docstore.Record{
		fieldFriendID:     rel.ID,
		fieldFriendUser1:  rel.User1,
		fieldFriendUser2:  rel.User2,
		fieldFriendStatus: rel.Status,
	}
	if rel.CreatedAt != "" {
		record[fieldFriendCreatedAt] = rel.CreatedAt
	} else {
		record[fieldFriendCreatedAt] = now()
	}

	for field, profile := range map[string]*FriendProfile{
		fieldFriendUser1Data: rel.User1Data,
		fieldFriendUser2Data: rel.User2Data,
	} {
		if profile == nil {
			continue
		}
		envelope, err := EncryptPairwise(profile, sharedKey)
		if err != nil {
			s.logFriend("save_relationship", rel.User1, err)
			return "", err
		}
		envelopeRecord, err := toRecord(envelope)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		record[field] = envelopeRecord
	}

	if err := s.store.Set(ctx, "friends/"+rel.ID, record, true); err != nil {
		err = fmt.Errorf("%w: store relationship: %v", ErrStorageFailure, err)
		s.logFriend("save_relationship", rel.User1, err)
		return "", err
	}

	s.logFriend("save_relationship", rel.User1, nil)
	return rel.ID, nil
}

// LoadRelationship reads a relationship record, resolving whichever format
// it was stored in. Hardened records are decrypted with the pairwise key
// derived from the record's own id pair; legacy records are mapped from
// their plaintext mirror fields.
func (s *Service) LoadRelationship(ctx context.Context, relationshipID string) (*Relationship, error) {
	record, err := s.store.Get(ctx, "friends/"+relationshipID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: relationship %s", docstore.ErrNotFound, relationshipID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetch relationship: %v", ErrStorageFailure, err)
	}
	return s.resolveRelationship(relationshipID, record)
}

// ListRelationships returns every relationship the user participates in,
// on either side of the pair.
func (s *Service) ListRelationships(ctx context.Context, userID string) ([]*Relationship, error) {
	var results []*Relationship
	for _, field := range []string{fieldFriendUser1, fieldFriendUser2} {
		records, err := s.store.Query(ctx, "friends", docstore.Where{
			Field: field, Op: docstore.OpEqual, Value: userID,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: query relationships: %v", ErrStorageFailure, err)
		}
		for _, record := range records {
			rel, err := s.resolveRelationship("", record)
			if err != nil {
				return nil, err
			}
			results = append(results, rel)
		}
	}
	return results, nil
}

// resolveRelationship turns a raw record into the tagged variant.
func (s *Service) resolveRelationship(relationshipID string, record docstore.Record) (*Relationship, error) {
	user1, _ := record[fieldFriendUser1].(string)
	user2, _ := record[fieldFriendUser2].(string)
	status, _ := record[fieldFriendStatus].(string)
	createdAt, _ := record[fieldFriendCreatedAt].(string)

	rel := &Relationship{
		ID:        relationshipID,
		User1:     user1,
		User2:     user2,
		Status:    status,
		CreatedAt: createdAt,
	}
	if rel.ID == "" {
		rel.ID, _ = record[fieldFriendID].(string)
	}

	_, hardened1 := record[fieldFriendUser1Data]
	_, hardened2 := record[fieldFriendUser2Data]
	if !hardened1 && !hardened2 {
		rel.Format = FormatLegacyPlaintext
		rel.User1Data = legacyProfile(record, fieldFriendUser1)
		rel.User2Data = legacyProfile(record, fieldFriendUser2)
		return rel, nil
	}

	rel.Format = FormatPairwiseEnvelope
	sharedKey := DeriveSharedKey(user1, user2)

	for field, target := range map[string]**FriendProfile{
		fieldFriendUser1Data: &rel.User1Data,
		fieldFriendUser2Data: &rel.User2Data,
	} {
		raw, ok := record[field]
		if !ok {
			continue
		}
		var envelope Envelope
		if err := fromRecord(raw, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		var profile FriendProfile
		if err := DecryptPairwise(&envelope, sharedKey, &profile); err != nil {
			return nil, err
		}
		*target = &profile
	}
	return rel, nil
}

// legacyProfile maps the plaintext mirror fields of one party
// (user1FirstName, user1Email, ...) onto a FriendProfile.
func legacyProfile(record docstore.Record, prefix string) *FriendProfile {
	get := func(suffix string) string {
		v, _ := record[prefix+suffix].(string)
		return v
	}

	profile := FriendProfile{
		FirstName: get("FirstName"),
		LastName:  get("LastName"),
		Username:  get("Username"),
		Email:     get("Email"),
		Birthday:  get("Birthday"),
		Gender:    get("Gender"),
	}
	if profile == (FriendProfile{}) {
		return nil
	}
	return &profile
}

func (s *Service) logFriend(action, userID string, opErr error) {
	metadata := map[string]interface{}{"user_id": userID}
	if opErr != nil {
		metadata["error"] = opErr.Error()
	}
	if err := s.audit.Log(action, opErr == nil, metadata); err != nil {
		fmt.Printf("WARNING: failed to log %s: %v\n", action, err)
	}
}
