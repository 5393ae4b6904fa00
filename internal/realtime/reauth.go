package realtime

import (
	"membersonly-live/internal/logging"
	"membersonly-live/internal/sse"
)

// handleError applies the reauthentication policy to a transport error on
// conn. It reports whether the connection should keep redialing.
//
// Stream errors carry no status, so every error is treated as a possibly
// expired token: a refresh is started in the background and the counter is
// bumped when it finishes, whatever its outcome, unless a connection opened
// in the meantime. Once the counter has reached the limit the next error
// closes the connection for good.
func (s *Service) handleError(conn *connection, err error) bool {
	s.mu.Lock()
	if s.current != conn {
		s.mu.Unlock()
		return false
	}
	tries := s.reauthTries
	if tries >= s.maxReauthTries {
		s.current = nil
		conn.close()
		s.mu.Unlock()

		s.metrics.Abandoned()
		s.logger.Error("realtime stream abandoned: reauthentication attempts exhausted",
			logging.Field("conn_id", conn.id),
			logging.Field("error", err),
			logging.Field("reauth_tries", tries),
		)
		s.publishState(StateClosed)
		select {
		case s.abandoned <- ErrReconnectExhausted:
		default:
		}
		if s.onAbandoned != nil {
			s.onAbandoned(ErrReconnectExhausted)
		}
		return false
	}
	conn.setState(StateErroring)
	opens := s.opens
	s.wg.Add(1)
	s.mu.Unlock()

	msg := "realtime stream error"
	if sse.IsUnauthorized(err) {
		msg = "realtime stream token rejected"
	}
	s.logger.Warn(msg,
		logging.Field("conn_id", conn.id),
		logging.Field("error", err),
		logging.Field("reauth_tries", tries),
	)
	s.publishState(StateErroring)
	go s.reauthenticate(conn.id, opens)
	return true
}

// reauthenticate runs detached from the connection; Stop does not cancel it.
// A successful refresh rotates the token, which can open a replacement
// connection before Refresh returns. That open already reset the counter,
// so the attempt is not charged against the new connection.
func (s *Service) reauthenticate(connID string, opensAtStart uint64) {
	defer s.wg.Done()

	err := s.refresher.Refresh(s.baseCtx)

	s.mu.Lock()
	charged := s.opens == opensAtStart
	if charged && s.reauthTries < s.maxReauthTries {
		s.reauthTries++
	}
	tries := s.reauthTries
	s.mu.Unlock()

	if err != nil {
		s.metrics.ReauthAttempt("failed")
		s.logger.Warn("reauthentication refresh failed",
			logging.Field("conn_id", connID),
			logging.Field("error", err),
			logging.Field("reauth_tries", tries),
			logging.Field("charged", charged),
		)
		return
	}
	s.metrics.ReauthAttempt("succeeded")
	s.logger.Info("reauthentication refresh succeeded",
		logging.Field("conn_id", connID),
		logging.Field("reauth_tries", tries),
		logging.Field("charged", charged),
	)
}
