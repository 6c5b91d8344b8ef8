package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sabr-processor/internal/sabr"
)

// Service owns session lifecycles and feeds uploaded chunks through each
// session's Processor. Storage is delegated to Repository.
type Service struct {
	repo        Repository
	log         *slog.Logger
	toleranceMs int
	maxPartSize int
}

// NewService returns a Service using repo. toleranceMs and maxPartSize are
// the defaults for new sessions; values <= 0 select the sabr package defaults.
func NewService(repo Repository, log *slog.Logger, toleranceMs, maxPartSize int) *Service {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{repo: repo, log: log, toleranceMs: toleranceMs, maxPartSize: maxPartSize}
}

// CreateSession starts a new session with a fresh Processor.
func (s *Service) CreateSession(opts Options) (SessionID, error) {
	tolerance := opts.LiveSegmentToleranceMs
	if tolerance <= 0 {
		tolerance = s.toleranceMs
	}
	id := SessionID(uuid.NewString())
	sess := &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		processor: sabr.NewProcessor(sabr.Config{
			LiveSegmentToleranceMs: tolerance,
			Logger:                 s.log.With(slog.String("session_id", string(id))),
		}),
		stream: sabr.NewStream(sabr.NewDecoder(s.maxPartSize)),
	}
	if err := s.repo.Create(sess); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// Feed decodes chunk as the continuation of the session's response body and
// runs every completed message through the Processor.
//
// Recoverable errors are collected in the result. A malformed part returns
// the parts produced before it together with a *sabr.MalformedMessageError;
// the session's partial-part buffer and open segments are then dropped so
// the client can resume from a fresh response. A SABR_ERROR part ends the
// session.
func (s *Service) Feed(id SessionID, chunk []byte) (FeedResult, error) {
	sess, err := s.repo.Get(id)
	if err != nil {
		return FeedResult{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Ended {
		return FeedResult{}, ErrSessionEnded
	}

	sess.bytesIn += int64(len(chunk))
	msgs, decodeErr := sess.stream.Feed(chunk)

	var out FeedResult
	for _, msg := range msgs {
		res, err := sess.processor.Process(msg)
		out.Parts = append(out.Parts, res.Parts...)
		if err == nil {
			continue
		}

		var serverErr *sabr.ServerError
		switch {
		case sabr.IsRecoverable(err):
			s.log.Warn("segment dropped",
				slog.String("session_id", string(id)),
				slog.String("part", msg.PartType().String()),
				slog.String("error", err.Error()))
			out.Errors = append(out.Errors, err)
		case errors.As(err, &serverErr):
			s.log.Warn("stream terminated by server",
				slog.String("session_id", string(id)),
				slog.String("type", serverErr.Type),
				slog.Int("code", int(serverErr.Code)))
			out.ServerError = serverErr
			if err := s.repo.End(id); err != nil {
				return out, err
			}
			return out, nil
		default:
			return out, err
		}
	}

	if decodeErr != nil {
		sess.stream.Reset()
		aborted := sess.processor.AbortOpenSegments()
		s.log.Error("malformed chunk",
			slog.String("session_id", string(id)),
			slog.Int64("bytes_in", sess.bytesIn),
			slog.Int("aborted_segments", aborted),
			slog.String("error", decodeErr.Error()))
		return out, decodeErr
	}
	return out, nil
}

// AbrState returns a snapshot of the session's client ABR state.
func (s *Service) AbrState(id SessionID) (sabr.ClientAbrState, error) {
	sess, err := s.repo.Get(id)
	if err != nil {
		return sabr.ClientAbrState{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.processor.AbrState(), nil
}

// EncodedAbrState returns the session's ABR state as the protobuf body the
// next poll request carries.
func (s *Service) EncodedAbrState(id SessionID) ([]byte, error) {
	state, err := s.AbrState(id)
	if err != nil {
		return nil, err
	}
	return sabr.EncodeRequestBody(state), nil
}

// SetAbrState replaces the session's ABR state.
func (s *Service) SetAbrState(id SessionID, state sabr.ClientAbrState) error {
	sess, err := s.repo.Get(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Ended {
		return ErrSessionEnded
	}
	sess.processor.ProcessAbrStateUpdate(state)
	return nil
}

// Status is a point-in-time view of a session.
type Status struct {
	ID                 SessionID       `json:"session_id"`
	CreatedAt          time.Time       `json:"created_at"`
	Ended              bool            `json:"ended"`
	State              string          `json:"state"`
	Seeking            bool            `json:"seeking"`
	Live               bool            `json:"live"`
	LiveState          *sabr.LiveState `json:"live_state,omitempty"`
	Formats            []string        `json:"formats"`
	BytesIn            int64           `json:"bytes_in"`
	BufferedBytes      int             `json:"buffered_bytes"`
	NextRequestBackoff int32           `json:"next_request_backoff_ms,omitempty"`
	ProtectionStatus   int32           `json:"stream_protection_status,omitempty"`
}

// Status reports the session's processor state.
func (s *Service) Status(id SessionID) (Status, error) {
	sess, err := s.repo.Get(id)
	if err != nil {
		return Status{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	p := sess.processor
	st := Status{
		ID:               sess.ID,
		CreatedAt:        sess.CreatedAt,
		Ended:            sess.Ended,
		State:            p.State().String(),
		Seeking:          p.IsSeeking(),
		Live:             p.IsLive(),
		Formats:          []string{},
		BytesIn:          sess.bytesIn,
		BufferedBytes:    sess.stream.Buffered(),
		ProtectionStatus: p.StreamProtectionStatus(),
	}
	if st.Live {
		live := p.LiveState()
		st.LiveState = &live
	}
	for _, f := range p.InitializedFormats() {
		st.Formats = append(st.Formats, f.String())
	}
	if policy, ok := p.NextRequestPolicy(); ok {
		st.NextRequestBackoff = policy.BackoffTimeMs
	}
	return st, nil
}

// EndSession ends the session and reports whether this call ended it.
// Ending an ended session is a no-op that returns false.
func (s *Service) EndSession(id SessionID) (bool, error) {
	sess, err := s.repo.Get(id)
	if err != nil {
		return false, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.Ended {
		return false, nil
	}
	if err := sess.stream.Close(); err != nil {
		s.log.Warn("session ended inside a part",
			slog.String("session_id", string(id)),
			slog.String("error", err.Error()))
	}
	if err := s.repo.End(id); err != nil {
		return false, err
	}
	return true, nil
}

// ActiveSessionCount returns the number of sessions that have not ended.
func (s *Service) ActiveSessionCount() int {
	return s.repo.ActiveSessionCount()
}

// PruneEnded drops sessions that ended more than retention ago.
func (s *Service) PruneEnded(retention time.Duration) int {
	n := s.repo.PruneEnded(time.Now().UTC().Add(-retention))
	if n > 0 {
		s.log.Debug("pruned ended sessions", slog.Int("count", n))
	}
	return n
}
