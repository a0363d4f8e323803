/*
Package client implements the session adapter for the collaboration protocol.

This file contains the outbound paths: document navigation (join/leave), cursor
and selection updates, and the document-change emitter with its live-edit
debounce buffer. The buffer holds at most one pending payload; a newer edit
replaces it and reschedules the single flush timer, so a burst of keystrokes
yields one relayed event carrying the last state.
*/
package client

import (
	"time"

	"codecollab/protocol"
)

// SetDocument switches the session to a different document, emitting
// leave-document for the previous room (if any) and join-document for the new
// one exactly once per change. An empty id leaves the current document without
// joining another. A pending live edit for the previous document is dropped.
func (s *Session) SetDocument(documentID string) error {
	s.mu.Lock()

	previous := s.documentID
	if previous == documentID {
		s.mu.Unlock()
		return nil
	}

	// The target is recorded before the writes on purpose: a failed write
	// means the transport is going away, the server drops the stale room
	// membership when the connection dies, and the reconnect path joins
	// s.documentID. Retrying the leave for the previous room is never needed.
	s.documentID = documentID

	// The buffered edit belongs to the previous document.
	s.pending = nil
	s.pendingGen++
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}

	connected := s.ws != nil
	s.mu.Unlock()

	if !connected {
		// The reconnect path joins the active document once the transport
		// is back up.
		return nil
	}

	if previous != "" {
		err := s.write(protocol.TypeLeaveDocument, protocol.LeaveDocumentPayload{
			DocumentID: previous,
			UserID:     s.opts.Identity.ID,
		})
		if err != nil {
			return err
		}
	}

	if documentID == "" {
		s.setState(StateConnectedNoRoom)
		return nil
	}

	err := s.write(protocol.TypeJoinDocument, protocol.JoinDocumentPayload{
		DocumentID: documentID,
	})
	if err != nil {
		return err
	}

	s.setState(StateConnectedInRoom)
	return nil
}

// DocumentID returns the document the session currently targets.
func (s *Session) DocumentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentID
}

// SendDocumentChange emits a document change. LiveEdit payloads are debounced:
// the latest state is buffered and flushed after the quiet period, with a newer
// edit replacing the buffer rather than queuing behind it. ManualSave and
// AutoSave payloads bypass the buffer and go out immediately.
func (s *Session) SendDocumentChange(payload protocol.DocumentChangePayload) error {
	s.fillDocumentID(&payload.DocumentID)

	if payload.LiveEdit && !payload.ManualSave && !payload.AutoSave {
		s.bufferLiveEdit(payload)
		return nil
	}

	return s.write(protocol.TypeDocumentChange, payload)
}

// SendCursorPosition emits a cursor update immediately.
func (s *Session) SendCursorPosition(payload protocol.CursorPositionPayload) error {
	s.fillDocumentID(&payload.DocumentID)
	return s.write(protocol.TypeCursorPosition, payload)
}

// SendSelectionChange emits a selection update immediately.
func (s *Session) SendSelectionChange(payload protocol.SelectionChangePayload) error {
	s.fillDocumentID(&payload.DocumentID)
	return s.write(protocol.TypeSelectionChange, payload)
}

// Flush sends any pending live edit immediately instead of waiting out the
// debounce window.
func (s *Session) Flush() {
	s.mu.Lock()
	gen := s.pendingGen
	s.mu.Unlock()

	s.flushPending(gen)
}

// fillDocumentID defaults an empty payload document id to the active document.
func (s *Session) fillDocumentID(documentID *string) {
	if *documentID != "" {
		return
	}

	s.mu.Lock()
	*documentID = s.documentID
	s.mu.Unlock()
}

// bufferLiveEdit replaces the pending edit and reschedules the single flush
// timer. The generation counter keeps a timer that already fired from flushing
// a payload buffered after it was stopped.
func (s *Session) bufferLiveEdit(payload protocol.DocumentChangePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = &payload
	s.pendingGen++
	gen := s.pendingGen

	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}

	s.flushTimer = time.AfterFunc(s.opts.DebounceWindow, func() {
		s.flushPending(gen)
	})
}

// flushPending sends the buffered edit if the generation still matches.
func (s *Session) flushPending(gen int) {
	s.mu.Lock()

	if gen != s.pendingGen || s.pending == nil {
		s.mu.Unlock()
		return
	}

	payload := *s.pending
	s.pending = nil
	s.flushTimer = nil
	s.mu.Unlock()

	if err := s.write(protocol.TypeDocumentChange, payload); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to flush pending live edit")
	}
}
