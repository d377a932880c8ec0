package session

import (
	"errors"
	"strconv"
	"time"
)

// Hash field names of a session record.
const (
	fieldPrincipalID      = "principalId"
	fieldSessionID        = "sessionId"
	fieldRole             = "role"
	fieldAccessTokenID    = "accessTokenId"
	fieldAccessExpiresAt  = "accessExpiresAt"
	fieldRefreshTokenID   = "refreshTokenId"
	fieldRefreshExpiresAt = "refreshExpiresAt"
	fieldIssuedAt         = "issuedAt"
	fieldExpiresAt        = "expiresAt"
	fieldLastActivityAt   = "lastActivityAt"
	fieldClientIP         = "clientIp"
	fieldDeviceID         = "deviceId"
)

var errCorruptRecord = errors.New("session record corrupt")

// encodeFields flattens s into HSET field/value arguments. Times are unix
// milliseconds.
func encodeFields(s *Session) []interface{} {
	return []interface{}{
		fieldPrincipalID, s.PrincipalID,
		fieldSessionID, s.SessionID,
		fieldRole, s.Role,
		fieldAccessTokenID, s.AccessTokenID,
		fieldAccessExpiresAt, s.AccessExpiresAt.UnixMilli(),
		fieldRefreshTokenID, s.RefreshTokenID,
		fieldRefreshExpiresAt, s.RefreshExpiresAt.UnixMilli(),
		fieldIssuedAt, s.IssuedAt.UnixMilli(),
		fieldExpiresAt, s.ExpiresAt.UnixMilli(),
		fieldLastActivityAt, s.LastActivityAt.UnixMilli(),
		fieldClientIP, s.ClientIP,
		fieldDeviceID, s.DeviceID,
	}
}

// decodeFields rebuilds a session from an HGETALL reply.
func decodeFields(m map[string]string) (*Session, error) {
	if m[fieldPrincipalID] == "" || m[fieldSessionID] == "" {
		return nil, errCorruptRecord
	}

	s := &Session{
		PrincipalID:    m[fieldPrincipalID],
		SessionID:      m[fieldSessionID],
		Role:           m[fieldRole],
		AccessTokenID:  m[fieldAccessTokenID],
		RefreshTokenID: m[fieldRefreshTokenID],
		ClientIP:       m[fieldClientIP],
		DeviceID:       m[fieldDeviceID],
	}

	var err error
	for _, f := range []struct {
		name string
		dst  *time.Time
	}{
		{fieldAccessExpiresAt, &s.AccessExpiresAt},
		{fieldRefreshExpiresAt, &s.RefreshExpiresAt},
		{fieldIssuedAt, &s.IssuedAt},
		{fieldExpiresAt, &s.ExpiresAt},
		{fieldLastActivityAt, &s.LastActivityAt},
	} {
		if *f.dst, err = parseMillis(m[f.name]); err != nil {
			return nil, errCorruptRecord
		}
	}

	return s, nil
}

func parseMillis(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, errCorruptRecord
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// decodeRemoved reads one removed-session group from a script reply:
// sessionId, principalId, deviceId, accessTokenId, accessExpiresAt,
// refreshTokenId, refreshExpiresAt, lastActivityAt.
func decodeRemoved(parts []interface{}) (Removed, error) {
	if len(parts) < removedGroupSize {
		return Removed{}, errCorruptRecord
	}
	str := func(i int) string {
		switch v := parts[i].(type) {
		case string:
			return v
		case []byte:
			return string(v)
		case int64:
			return strconv.FormatInt(v, 10)
		default:
			return ""
		}
	}
	ms := func(i int) time.Time {
		t, err := parseMillis(str(i))
		if err != nil {
			return time.Time{}
		}
		return t
	}

	return Removed{
		SessionID:        str(0),
		PrincipalID:      str(1),
		DeviceID:         str(2),
		AccessTokenID:    str(3),
		AccessExpiresAt:  ms(4),
		RefreshTokenID:   str(5),
		RefreshExpiresAt: ms(6),
		LastActivityAt:   ms(7),
	}, nil
}

const removedGroupSize = 8

func decodeRemovedList(parts []interface{}) ([]Removed, error) {
	if len(parts)%removedGroupSize != 0 {
		return nil, errCorruptRecord
	}
	out := make([]Removed, 0, len(parts)/removedGroupSize)
	for i := 0; i < len(parts); i += removedGroupSize {
		r, err := decodeRemoved(parts[i : i+removedGroupSize])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
